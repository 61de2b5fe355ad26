package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/internal/model"
	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/predict"
	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/internal/sensorstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var testSchema = feature.MustSchema([]string{
	"pressure", "flow", "temperature", "hour", "day", "month",
	"sensor_id_S002", "sensor_id_S003", "sensor_id_S004",
})

type fixedClassifier struct {
	probability float64
	err         error
}

func (f *fixedClassifier) Predict(context.Context, feature.Vector) (float64, error) {
	return f.probability, f.err
}

func (f *fixedClassifier) ModelID() string { return "leak-logreg-test" }

type fakeLister struct {
	states    []*sensorstate.SensorState
	lastLimit int
	err       error
}

func (f *fakeLister) Recent(_ context.Context, limit int) ([]*sensorstate.SensorState, error) {
	f.lastLimit = limit
	return f.states, f.err
}

type fakePublisher struct {
	values [][]byte
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, value []byte) error {
	f.values = append(f.values, value)
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps(clf model.Classifier) Deps {
	logger := discardLogger()
	return Deps{
		Service:     predict.NewService(clf, testSchema, 0.7, logger),
		Backend:     "local",
		Logger:      logger,
		CORSOrigins: []string{"http://localhost:3000"},
	}
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) protocol.ErrorResponse {
	t.Helper()
	var body protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const leakBody = `{"timestamp":"2024-01-01T14:00:00","sensor_id":"S003","pressure":45,"flow":80,"temperature":22}`

func TestHealth(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{}))

	rec := do(t, router, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, ServiceName, body["service"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRoot(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{}))

	rec := do(t, router, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), Version)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	rec = do(t, router, http.MethodGet, body["model_info"], "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

type captureStates struct {
	states []*sensorstate.SensorState
}

func (c *captureStates) Upsert(_ context.Context, s *sensorstate.SensorState) error {
	c.states = append(c.states, s)
	return nil
}

func TestPredict_StoresCoordinates(t *testing.T) {
	states := &captureStates{}
	pub := &fakePublisher{}
	deps := testDeps(&fixedClassifier{probability: 0.4})
	deps.Service = predict.NewService(&fixedClassifier{probability: 0.4}, testSchema, 0.7, discardLogger(),
		predict.WithStateStore(states), predict.WithPublisher(pub))
	router := NewRouter(deps)

	body := `{"sensor_id":"S003","pressure":62,"flow":120,"temperature":21,"lat":40.7571,"lng":-73.9876}`
	rec := do(t, router, http.MethodPost, "/api/predict", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, states.states, 1)
	require.NotNil(t, states.states[0].Lat)
	assert.Equal(t, 40.7571, *states.states[0].Lat)
	assert.Equal(t, -73.9876, *states.states[0].Lng)

	require.Len(t, pub.values, 1)
	ev, err := protocol.DecodePredictionEvent(pub.values[0])
	require.NoError(t, err)
	require.NotNil(t, ev.Lng)
	assert.Equal(t, -73.9876, *ev.Lng)

	rec = do(t, router, http.MethodPost, "/api/predict",
		`{"sensor_id":"S003","pressure":62,"flow":120,"temperature":21,"lat":40.7571}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Detail, "lng")
}

func TestPredict_Leak(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{probability: 0.82}))

	rec := do(t, router, http.MethodPost, "/api/predict", leakBody)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp protocol.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.82, resp.LeakProbability)
	assert.Equal(t, 1, resp.Prediction)
	assert.True(t, resp.ThresholdExceeded)
	assert.Equal(t, "leak-logreg-test", resp.ModelID)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), resp.Timestamp)
}

func TestPredict_AtThresholdIsNotLeak(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{probability: 0.7}))

	rec := do(t, router, http.MethodPost, "/api/predict", leakBody)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp protocol.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Prediction)
	assert.False(t, resp.ThresholdExceeded)
}

func TestPredict_DefaultsTimestamp(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{probability: 0.1}))

	rec := do(t, router, http.MethodPost, "/api/predict", `{"sensor_id":"S002","pressure":65,"flow":120,"temperature":20}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp protocol.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Minute)
}

func TestPredict_ClientErrors(t *testing.T) {
	cases := map[string]string{
		"malformed json":    `{"sensor_id":`,
		"missing sensor":    `{"pressure":45,"flow":80,"temperature":22}`,
		"missing pressure":  `{"sensor_id":"S003","flow":80,"temperature":22}`,
		"pressure too high": `{"sensor_id":"S003","pressure":151,"flow":80,"temperature":22}`,
		"flow negative":     `{"sensor_id":"S003","pressure":45,"flow":-1,"temperature":22}`,
		"bad timestamp":     `{"timestamp":"yesterday","sensor_id":"S003","pressure":45,"flow":80,"temperature":22}`,
	}

	router := NewRouter(testDeps(&fixedClassifier{probability: 0.9}))
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/predict", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, kindValidation, decodeError(t, rec).Error)
		})
	}
}

func TestPredict_InferenceError(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{err: errors.New("endpoint timeout")}))

	rec := do(t, router, http.MethodPost, "/api/predict", leakBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, kindInference, body.Error)
	assert.Contains(t, body.Detail, "endpoint timeout")
}

func TestPredict_ModelUnavailable(t *testing.T) {
	deps := testDeps(nil)
	deps.Service = predict.NewService(nil, nil, 0.7, discardLogger())
	router := NewRouter(deps)

	rec := do(t, router, http.MethodPost, "/api/predict", leakBody)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, kindUnavailable, decodeError(t, rec).Error)
}

func TestPredictBatch(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{probability: 0.9}))
	body := `[` + leakBody + `,{"sensor_id":"S004","pressure":70,"flow":120,"temperature":21}]`

	rec := do(t, router, http.MethodPost, "/api/predict/batch", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp protocol.BatchPredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Predictions, 2)
}

func TestPredictBatch_RejectsWithIndex(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{probability: 0.9}))
	body := `[` + leakBody + `,{"sensor_id":"S004","flow":120,"temperature":21}]`

	rec := do(t, router, http.MethodPost, "/api/predict/batch", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Detail, "[1].pressure")
}

func TestModelMetrics(t *testing.T) {
	deps := testDeps(&fixedClassifier{})
	router := NewRouter(deps)
	rec := do(t, router, http.MethodGet, "/api/model/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	deps.Artifact = &model.Artifact{FormatVersion: 1, Metrics: &model.Metrics{Accuracy: 0.92, F1Score: 0.91}}
	router = NewRouter(deps)
	rec = do(t, router, http.MethodGet, "/api/model/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var m model.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 0.92, m.Accuracy)
}

func TestModelInfo(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{}))

	rec := do(t, router, http.MethodGet, "/api/model/info", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		ModelID      string   `json:"model_id"`
		Backend      string   `json:"backend"`
		Threshold    float64  `json:"threshold"`
		Schema       []string `json:"schema"`
		KnownSensors []string `json:"known_sensors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "leak-logreg-test", info.ModelID)
	assert.Equal(t, "local", info.Backend)
	assert.Equal(t, 0.7, info.Threshold)
	assert.Equal(t, testSchema.Columns(), info.Schema)
	assert.Equal(t, []string{"S002", "S003", "S004"}, info.KnownSensors)
}

func TestModelInfo_ConfiguredThresholdWins(t *testing.T) {
	recorded := 0.5
	deps := testDeps(&fixedClassifier{probability: 0.6})
	deps.Artifact = &model.Artifact{FormatVersion: model.ArtifactFormatVersion, ModelType: model.ModelTypeLogistic, Threshold: &recorded}
	router := NewRouter(deps)

	rec := do(t, router, http.MethodGet, "/api/model/info", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Threshold         float64 `json:"threshold"`
		ArtifactThreshold float64 `json:"artifact_threshold"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 0.7, info.Threshold)
	assert.Equal(t, 0.5, info.ArtifactThreshold)

	rec = do(t, router, http.MethodPost, "/api/predict", `{"sensor_id":"S003","pressure":45,"flow":80,"temperature":22}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prediction":0`)
}

func TestRetrain(t *testing.T) {
	deps := testDeps(&fixedClassifier{})
	router := NewRouter(deps)
	rec := do(t, router, http.MethodPost, "/api/model/retrain", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	pub := &fakePublisher{}
	deps.RetrainQueue = pub
	router = NewRouter(deps)
	rec = do(t, router, http.MethodPost, "/api/model/retrain", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"initiated"`)
	require.Len(t, pub.values, 1)
	var req protocol.RetrainRequest
	require.NoError(t, json.Unmarshal(pub.values[0], &req))
	assert.Equal(t, "leak-logreg-test", req.CurrentModel)
	assert.NotEmpty(t, req.RequestID)
}

func TestListSensors(t *testing.T) {
	lister := &fakeLister{states: []*sensorstate.SensorState{{SensorID: "S003", LeakProbability: 0.9}}}
	deps := testDeps(&fixedClassifier{})
	deps.Sensors = lister
	router := NewRouter(deps)

	rec := do(t, router, http.MethodGet, "/api/sensors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultSensorLimit, lister.lastLimit)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, router, http.MethodGet, "/api/sensors?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, lister.lastLimit)

	rec = do(t, router, http.MethodGet, "/api/sensors?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSensors_Unavailable(t *testing.T) {
	deps := testDeps(&fixedClassifier{})
	deps.Sensors = &fakeLister{err: errors.New("redis down")}
	router := NewRouter(deps)

	rec := do(t, router, http.MethodGet, "/api/sensors", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{}))

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	deps := testDeps(&fixedClassifier{probability: 0.9})
	deps.Metrics = observability.NewMetrics()
	router := NewRouter(deps)

	do(t, router, http.MethodPost, "/api/predict", leakBody)
	rec := do(t, router, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `leak_http_requests_total{code="200",method="POST",route="/api/predict"} 1`)
}

func TestNoRoute(t *testing.T) {
	router := NewRouter(testDeps(&fixedClassifier{}))

	rec := do(t, router, http.MethodGet, "/api/unknown", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNotFound, decodeError(t, rec).Error)
}
