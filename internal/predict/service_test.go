package predict

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/internal/sensorstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = feature.MustSchema([]string{
	"pressure", "flow", "temperature", "hour", "day", "month",
	"sensor_id_S002", "sensor_id_S003", "sensor_id_S004",
})

type fakeClassifier struct {
	probability float64
	err         error
	calls       int
	lastVec     feature.Vector
}

func (f *fakeClassifier) Predict(_ context.Context, vec feature.Vector) (float64, error) {
	f.calls++
	f.lastVec = vec
	return f.probability, f.err
}

func (f *fakeClassifier) ModelID() string { return "fake-model" }

type fakeBatchClassifier struct {
	fakeClassifier
	batchCalls int
	out        []float64
}

func (f *fakeBatchClassifier) PredictBatch(_ context.Context, vecs []feature.Vector) ([]float64, error) {
	f.batchCalls++
	return f.out, nil
}

type fakeStates struct {
	mu     sync.Mutex
	states []*sensorstate.SensorState
	err    error
}

func (f *fakeStates) Upsert(_ context.Context, s *sensorstate.SensorState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return f.err
}

type fakePublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, key string, value []byte) error {
	f.keys = append(f.keys, key)
	f.values = append(f.values, value)
	return f.err
}

type fakeRecorder struct {
	predictions int
	failures    []string
}

func (f *fakeRecorder) ObservePrediction(float64, bool) { f.predictions++ }
func (f *fakeRecorder) SideEffectFailed(target string)  { f.failures = append(f.failures, target) }

func fp(v float64) *float64 { return &v }

func obs(sensorID string) feature.Observation {
	return feature.Observation{
		SensorID:    sensorID,
		Timestamp:   time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC),
		Pressure:    fp(45),
		Flow:        fp(80),
		Temperature: fp(22),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_Predict(t *testing.T) {
	clf := &fakeClassifier{probability: 0.82}
	states := &fakeStates{}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	received := time.Date(2024, 1, 1, 14, 0, 1, 0, time.UTC)
	svc := NewService(clf, testSchema, 0.7, discardLogger(),
		WithStateStore(states), WithPublisher(pub), WithRecorder(rec),
		WithClock(func() time.Time { return received }))

	out, err := svc.Predict(context.Background(), obs("S003"))
	require.NoError(t, err)

	assert.Equal(t, feature.Vector{45, 80, 22, 14, 1, 1, 0, 1, 0}, clf.lastVec)
	assert.Equal(t, 1, out.Prediction)
	assert.True(t, out.ThresholdExceeded)
	assert.InDelta(t, 0.82, out.Confidence, 1e-12)
	assert.Equal(t, "fake-model", out.ModelID)
	assert.True(t, out.KnownSensor)
	assert.NotEmpty(t, out.PredictionID)

	require.Len(t, states.states, 1)
	assert.Equal(t, "S003", states.states[0].SensorID)
	assert.Equal(t, received, states.states[0].UpdatedAt)

	require.Len(t, pub.values, 1)
	assert.Equal(t, "S003", pub.keys[0])
	ev, err := protocol.DecodePredictionEvent(pub.values[0])
	require.NoError(t, err)
	assert.Equal(t, out.PredictionID, ev.PredictionID)
	assert.Equal(t, 0.7, ev.Threshold)
	assert.Equal(t, 1, rec.predictions)
}

func TestService_PredictCarriesCoordinates(t *testing.T) {
	states := &fakeStates{}
	pub := &fakePublisher{}
	svc := NewService(&fakeClassifier{probability: 0.3}, testSchema, 0.7, discardLogger(),
		WithStateStore(states), WithPublisher(pub))

	o := obs("S003")
	o.Lat, o.Lng = fp(40.7571), fp(-73.9876)
	_, err := svc.Predict(context.Background(), o)
	require.NoError(t, err)

	require.Len(t, states.states, 1)
	require.NotNil(t, states.states[0].Lat)
	assert.Equal(t, 40.7571, *states.states[0].Lat)
	assert.Equal(t, -73.9876, *states.states[0].Lng)

	require.Len(t, pub.values, 1)
	ev, err := protocol.DecodePredictionEvent(pub.values[0])
	require.NoError(t, err)
	require.NotNil(t, ev.Lat)
	assert.Equal(t, 40.7571, *ev.Lat)
	assert.Equal(t, -73.9876, *ev.Lng)
}

func TestService_PredictUnknownSensor(t *testing.T) {
	clf := &fakeClassifier{probability: 0.1}
	svc := NewService(clf, testSchema, 0.7, discardLogger())

	out, err := svc.Predict(context.Background(), obs("S999"))
	require.NoError(t, err)

	assert.False(t, out.KnownSensor)
	assert.Equal(t, feature.Vector{45, 80, 22, 14, 1, 1, 0, 0, 0}, clf.lastVec)
	assert.Equal(t, 0, out.Prediction)
	assert.InDelta(t, 0.9, out.Confidence, 1e-12)
}

func TestService_PredictValidationSkipsModel(t *testing.T) {
	clf := &fakeClassifier{probability: 0.9}
	svc := NewService(clf, testSchema, 0.7, discardLogger())

	o := obs("S003")
	o.Pressure = nil
	_, err := svc.Predict(context.Background(), o)

	var ve *feature.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "pressure", ve.Field)
	assert.Zero(t, clf.calls)
}

func TestService_PredictInferenceErrors(t *testing.T) {
	cases := map[string]*fakeClassifier{
		"classifier error":  {err: errors.New("connection refused")},
		"probability above": {probability: 1.2},
		"probability below": {probability: -0.1},
	}

	for name, clf := range cases {
		t.Run(name, func(t *testing.T) {
			svc := NewService(clf, testSchema, 0.7, discardLogger())

			_, err := svc.Predict(context.Background(), obs("S003"))

			var ie *feature.InferenceError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, "fake-model", ie.Backend)
		})
	}
}

func TestService_PredictWithoutModel(t *testing.T) {
	svc := NewService(nil, nil, 0.7, discardLogger())

	_, err := svc.Predict(context.Background(), obs("S003"))

	var mu *feature.ModelUnavailableError
	assert.ErrorAs(t, err, &mu)
}

func TestService_SideEffectFailuresDoNotFailRequest(t *testing.T) {
	states := &fakeStates{err: errors.New("redis down")}
	pub := &fakePublisher{err: errors.New("kafka down")}
	rec := &fakeRecorder{}
	svc := NewService(&fakeClassifier{probability: 0.3}, testSchema, 0.7, discardLogger(),
		WithStateStore(states), WithPublisher(pub), WithRecorder(rec))

	out, err := svc.Predict(context.Background(), obs("S002"))

	require.NoError(t, err)
	assert.Equal(t, 0, out.Prediction)
	assert.Equal(t, []string{"redis", "kafka"}, rec.failures)
}

func TestService_PredictBatchUsesBatchClassifier(t *testing.T) {
	clf := &fakeBatchClassifier{out: []float64{0.2, 0.95}}
	pub := &fakePublisher{}
	svc := NewService(clf, testSchema, 0.7, discardLogger(), WithPublisher(pub))

	outs, err := svc.PredictBatch(context.Background(), []feature.Observation{obs("S002"), obs("S004")})
	require.NoError(t, err)

	require.Len(t, outs, 2)
	assert.Equal(t, 0, outs[0].Prediction)
	assert.Equal(t, 1, outs[1].Prediction)
	assert.Equal(t, 1, clf.batchCalls)
	assert.Zero(t, clf.calls)
	assert.Equal(t, []string{"S002", "S004"}, pub.keys)
}

func TestService_PredictBatchSequentialFallback(t *testing.T) {
	clf := &fakeClassifier{probability: 0.75}
	svc := NewService(clf, testSchema, 0.7, discardLogger())

	outs, err := svc.PredictBatch(context.Background(), []feature.Observation{obs("S002"), obs("S003"), obs("S004")})
	require.NoError(t, err)

	assert.Len(t, outs, 3)
	assert.Equal(t, 3, clf.calls)
}

func TestService_PredictBatchRejectsWholeBatch(t *testing.T) {
	clf := &fakeClassifier{probability: 0.75}
	pub := &fakePublisher{}
	svc := NewService(clf, testSchema, 0.7, discardLogger(), WithPublisher(pub))

	bad := obs("S003")
	bad.Flow = nil
	_, err := svc.PredictBatch(context.Background(), []feature.Observation{obs("S002"), bad})

	var ve *feature.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "[1].flow", ve.Field)
	assert.Zero(t, clf.calls)
	assert.Empty(t, pub.values)
}

func TestService_PredictBatchEmpty(t *testing.T) {
	svc := NewService(&fakeClassifier{}, testSchema, 0.7, discardLogger())

	outs, err := svc.PredictBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, outs)
}

func TestAtIndex(t *testing.T) {
	err := AtIndex(3, &feature.ValidationError{Field: "sensor_id", Reason: "field is required"})
	assert.EqualError(t, err, "invalid [3].sensor_id: field is required")

	other := errors.New("boom")
	assert.Same(t, other, AtIndex(3, other))
}
