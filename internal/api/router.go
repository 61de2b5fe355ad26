package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/internal/model"
	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/predict"
	"github.com/smukkama/leak-server/internal/queue"
	"github.com/smukkama/leak-server/internal/sensorstate"
)

const (
	ServiceName = "water-leak-detection-api"
	Version     = "1.0.0"
)

// Predictor is the prediction service used by the handlers.
type Predictor interface {
	Predict(ctx context.Context, obs feature.Observation) (*predict.Outcome, error)
	PredictBatch(ctx context.Context, batch []feature.Observation) ([]*predict.Outcome, error)
	Threshold() float64
	Schema() *feature.Schema
	ModelID() string
}

// SensorLister returns the most recently updated sensor states.
type SensorLister interface {
	Recent(ctx context.Context, limit int) ([]*sensorstate.SensorState, error)
}

// Deps are the collaborators of the HTTP API. Sensors, RetrainQueue and Metrics may
// be nil; the routes that need them then answer 503 or are not mounted.
type Deps struct {
	Service      Predictor
	Backend      string
	Artifact     *model.Artifact
	Sensors      SensorLister
	RetrainQueue queue.Publisher
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	CORSOrigins  []string
}

// Handler serves the leak detection HTTP API.
type Handler struct {
	Deps
	now func() time.Time
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(deps Deps) *gin.Engine {
	h := &Handler{Deps: deps, now: func() time.Time { return time.Now().UTC() }}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(h.logRequests())
	if h.Metrics != nil {
		router.Use(h.observeRequests())
	}
	router.Use(corsMiddleware(deps.CORSOrigins))

	router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, kindNotFound, "route "+c.Request.URL.Path+" does not exist")
	})

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/predict", h.Predict)
		api.POST("/predict/batch", h.PredictBatch)
		api.GET("/model/metrics", h.ModelMetrics)
		api.GET("/model/info", h.ModelInfo)
		api.POST("/model/retrain", h.Retrain)
		api.GET("/sensors", h.ListSensors)
	}

	return router
}

// corsMiddleware allows the configured origins with credentials. "*" in the
// list allows any origin; the request origin is echoed back in both cases.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	anyOrigin := false
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (anyOrigin || allowed[origin]) {
			header := c.Writer.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if reqHeaders := c.GetHeader("Access-Control-Request-Headers"); reqHeaders != "" {
				header.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-Requested-With")
			}
			header.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		h.Logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func (h *Handler) observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.Metrics.ObserveRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
