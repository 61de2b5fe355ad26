package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/internal/predict"
	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/internal/sensorstate"
)

const (
	defaultSensorLimit = 100
	maxSensorLimit     = 1000
)

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":    "Water Leak Detection API",
		"version":    Version,
		"model_info": "/api/model/info",
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now(),
		"service":   ServiceName,
	})
}

func (h *Handler) Predict(c *gin.Context) {
	var req protocol.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, kindValidation, "invalid request body: "+err.Error())
		return
	}

	obs, err := req.ToObservation(h.now())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	out, err := h.Service.Predict(c.Request.Context(), obs)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponse(out))
}

func (h *Handler) PredictBatch(c *gin.Context) {
	var reqs []protocol.PredictionRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		respondError(c, http.StatusBadRequest, kindValidation, "invalid request body: "+err.Error())
		return
	}

	now := h.now()
	batch := make([]feature.Observation, len(reqs))
	for i := range reqs {
		obs, err := reqs[i].ToObservation(now)
		if err != nil {
			h.respondServiceError(c, predict.AtIndex(i, err))
			return
		}
		batch[i] = obs
	}

	outs, err := h.Service.PredictBatch(c.Request.Context(), batch)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	resp := protocol.BatchPredictionResponse{
		Predictions: make([]protocol.PredictionResponse, len(outs)),
		Count:       len(outs),
	}
	for i, out := range outs {
		resp.Predictions[i] = toResponse(out)
	}
	c.JSON(http.StatusOK, resp)
}

func toResponse(out *predict.Outcome) protocol.PredictionResponse {
	return protocol.NewPredictionResponse(out.Result, out.Timestamp, out.ModelID)
}

func (h *Handler) ModelMetrics(c *gin.Context) {
	if h.Artifact == nil || h.Artifact.Metrics == nil {
		respondError(c, http.StatusNotFound, kindNotFound, "no evaluation metrics recorded for the loaded model")
		return
	}
	c.JSON(http.StatusOK, h.Artifact.Metrics)
}

func (h *Handler) ModelInfo(c *gin.Context) {
	info := gin.H{
		"model_id":  h.Service.ModelID(),
		"backend":   h.Backend,
		"threshold": h.Service.Threshold(),
	}
	if schema := h.Service.Schema(); schema != nil {
		info["schema"] = schema.Columns()
		info["known_sensors"] = schema.SensorIDs()
	}
	if h.Artifact != nil {
		info["format_version"] = h.Artifact.FormatVersion
		info["model_type"] = h.Artifact.ModelType
		info["trained_at"] = h.Artifact.TrainedAt
		if h.Artifact.Threshold != nil {
			info["artifact_threshold"] = *h.Artifact.Threshold
		}
	}
	c.JSON(http.StatusOK, info)
}

// Retrain queues a retraining request for the external training pipeline.
func (h *Handler) Retrain(c *gin.Context) {
	if h.RetrainQueue == nil {
		respondError(c, http.StatusServiceUnavailable, kindDependency, "retrain queue not configured")
		return
	}

	req := &protocol.RetrainRequest{
		RequestID:    uuid.NewString(),
		RequestedAt:  h.now(),
		CurrentModel: h.Service.ModelID(),
	}
	data, err := protocol.EncodeMessage(req)
	if err == nil {
		err = h.RetrainQueue.Publish(c.Request.Context(), req.RequestID, data)
	}
	if err != nil {
		h.Logger.Error("failed to queue retrain request", "error", err)
		respondError(c, http.StatusServiceUnavailable, kindDependency, "failed to queue retrain request")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "initiated",
		"message":    "Model retraining has been queued",
		"request_id": req.RequestID,
	})
}

func (h *Handler) ListSensors(c *gin.Context) {
	if h.Sensors == nil {
		respondError(c, http.StatusServiceUnavailable, kindDependency, "sensor state cache not configured")
		return
	}

	limit := defaultSensorLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, kindValidation, "invalid limit: must be a positive integer")
			return
		}
		limit = min(n, maxSensorLimit)
	}

	states, err := h.Sensors.Recent(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("failed to list sensors", "error", err)
		respondError(c, http.StatusServiceUnavailable, kindDependency, "failed to read sensor states")
		return
	}
	if states == nil {
		states = []*sensorstate.SensorState{}
	}

	c.JSON(http.StatusOK, gin.H{"sensors": states, "count": len(states)})
}
