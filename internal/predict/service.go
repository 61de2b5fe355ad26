package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/internal/model"
	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/internal/queue"
	"github.com/smukkama/leak-server/internal/sensorstate"
)

// sideEffectTimeout bounds cache and broker writes made after a prediction.
const sideEffectTimeout = 2 * time.Second

// StateStore caches the latest state per sensor.
type StateStore interface {
	Upsert(ctx context.Context, state *sensorstate.SensorState) error
}

// Recorder receives prediction outcomes and side-effect failures for metrics.
type Recorder interface {
	ObservePrediction(probability float64, leak bool)
	SideEffectFailed(target string)
}

// Outcome is one served prediction.
type Outcome struct {
	feature.Result
	PredictionID string
	Timestamp    time.Time
	ModelID      string
	KnownSensor  bool
}

// Service aligns observations to the model schema, classifies them and applies
// the leak threshold.
type Service struct {
	classifier model.Classifier
	schema     *feature.Schema
	threshold  float64
	logger     *slog.Logger

	states   StateStore
	events   queue.Publisher
	recorder Recorder

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithStateStore enables the sensor state cache update after each prediction.
func WithStateStore(s StateStore) Option {
	return func(svc *Service) { svc.states = s }
}

// WithPublisher enables publishing a PredictionEvent after each prediction.
func WithPublisher(p queue.Publisher) Option {
	return func(svc *Service) { svc.events = p }
}

func WithRecorder(r Recorder) Option {
	return func(svc *Service) { svc.recorder = r }
}

// WithClock overrides time.Now, used for received_at.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

func NewService(classifier model.Classifier, schema *feature.Schema, threshold float64, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		classifier: classifier,
		schema:     schema,
		threshold:  threshold,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Threshold() float64 { return s.threshold }

func (s *Service) Schema() *feature.Schema { return s.schema }

func (s *Service) ModelID() string { return s.classifier.ModelID() }

// Predict serves one observation. Errors are *feature.ValidationError,
// *feature.ModelUnavailableError or *feature.InferenceError.
func (s *Service) Predict(ctx context.Context, obs feature.Observation) (*Outcome, error) {
	if s.classifier == nil || s.schema == nil {
		return nil, &feature.ModelUnavailableError{Reason: "no classifier loaded"}
	}

	vec, err := s.schema.Align(obs)
	if err != nil {
		return nil, err
	}

	p, err := s.classifier.Predict(ctx, vec)
	if err != nil {
		return nil, s.inferenceError(err)
	}

	out, err := s.decide(obs, p)
	if err != nil {
		return nil, err
	}
	s.record(ctx, obs, out)
	return out, nil
}

// PredictBatch validates every observation before classifying any. The first
// invalid observation rejects the whole batch, with its index in the field name.
func (s *Service) PredictBatch(ctx context.Context, batch []feature.Observation) ([]*Outcome, error) {
	if s.classifier == nil || s.schema == nil {
		return nil, &feature.ModelUnavailableError{Reason: "no classifier loaded"}
	}
	if len(batch) == 0 {
		return []*Outcome{}, nil
	}

	vecs := make([]feature.Vector, len(batch))
	for i, obs := range batch {
		vec, err := s.schema.Align(obs)
		if err != nil {
			return nil, AtIndex(i, err)
		}
		vecs[i] = vec
	}

	probs, err := s.classifyBatch(ctx, vecs)
	if err != nil {
		return nil, s.inferenceError(err)
	}
	if len(probs) != len(batch) {
		return nil, s.inferenceError(fmt.Errorf("got %d probabilities for %d observations", len(probs), len(batch)))
	}

	outcomes := make([]*Outcome, len(batch))
	for i, obs := range batch {
		out, err := s.decide(obs, probs[i])
		if err != nil {
			return nil, err
		}
		outcomes[i] = out
	}
	for i, obs := range batch {
		s.record(ctx, obs, outcomes[i])
	}
	return outcomes, nil
}

func (s *Service) classifyBatch(ctx context.Context, vecs []feature.Vector) ([]float64, error) {
	if bc, ok := s.classifier.(model.BatchClassifier); ok {
		return bc.PredictBatch(ctx, vecs)
	}
	probs := make([]float64, len(vecs))
	for i, vec := range vecs {
		p, err := s.classifier.Predict(ctx, vec)
		if err != nil {
			return nil, err
		}
		probs[i] = p
	}
	return probs, nil
}

func (s *Service) decide(obs feature.Observation, p float64) (*Outcome, error) {
	if err := feature.CheckProbability(p); err != nil {
		return nil, s.inferenceError(err)
	}

	known := s.schema.Knows(obs.SensorID)
	if !known {
		s.logger.Debug("sensor not in model schema, using reference category",
			slog.String("sensor_id", obs.SensorID))
	}

	return &Outcome{
		Result:       feature.Decide(p, s.threshold),
		PredictionID: s.newID(),
		Timestamp:    obs.Timestamp,
		ModelID:      s.classifier.ModelID(),
		KnownSensor:  known,
	}, nil
}

func (s *Service) inferenceError(err error) error {
	var inference *feature.InferenceError
	if errors.As(err, &inference) {
		if inference.Backend == "" {
			return &feature.InferenceError{Backend: s.classifier.ModelID(), Err: inference.Err}
		}
		return err
	}
	var unavailable *feature.ModelUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	return &feature.InferenceError{Backend: s.classifier.ModelID(), Err: err}
}

// record performs the best-effort writes for a served prediction. Failures are
// logged and counted; they never fail the request.
func (s *Service) record(ctx context.Context, obs feature.Observation, out *Outcome) {
	if s.recorder != nil {
		s.recorder.ObservePrediction(out.LeakProbability, out.ThresholdExceeded)
	}
	if s.states == nil && s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	received := s.now()

	if s.states != nil {
		state := &sensorstate.SensorState{
			SensorID:        obs.SensorID,
			Pressure:        *obs.Pressure,
			Flow:            *obs.Flow,
			Temperature:     *obs.Temperature,
			LeakProbability: out.LeakProbability,
			Prediction:      out.Prediction,
			Lat:             obs.Lat,
			Lng:             obs.Lng,
			ObservedAt:      obs.Timestamp,
			UpdatedAt:       received,
		}
		if err := s.states.Upsert(ctx, state); err != nil {
			s.sideEffectFailed("redis", obs.SensorID, err)
		}
	}

	if s.events != nil {
		ev := &protocol.PredictionEvent{
			PredictionID:      out.PredictionID,
			SensorID:          obs.SensorID,
			ObservedAt:        obs.Timestamp,
			ReceivedAt:        received,
			Pressure:          *obs.Pressure,
			Flow:              *obs.Flow,
			Temperature:       *obs.Temperature,
			LeakProbability:   out.LeakProbability,
			Prediction:        out.Prediction,
			Confidence:        out.Confidence,
			ThresholdExceeded: out.ThresholdExceeded,
			Threshold:         s.threshold,
			ModelID:           out.ModelID,
			Lat:               obs.Lat,
			Lng:               obs.Lng,
		}
		data, err := protocol.EncodePredictionEvent(ev)
		if err == nil {
			err = s.events.Publish(ctx, obs.SensorID, data)
		}
		if err != nil {
			s.sideEffectFailed("kafka", obs.SensorID, err)
		}
	}
}

func (s *Service) sideEffectFailed(target, sensorID string, err error) {
	s.logger.Warn("prediction side effect failed",
		slog.String("target", target),
		slog.String("sensor_id", sensorID),
		slog.String("error", err.Error()))
	if s.recorder != nil {
		s.recorder.SideEffectFailed(target)
	}
}

// AtIndex prefixes the field of a validation error with the batch position.
// Other errors are returned unchanged.
func AtIndex(i int, err error) error {
	var ve *feature.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	return &feature.ValidationError{Field: fmt.Sprintf("[%d].%s", i, ve.Field), Reason: ve.Reason}
}
