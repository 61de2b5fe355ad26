package aggregation

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/leak-server/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, errors.New("not supported") }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type recordingExecer struct {
	mu    sync.Mutex
	calls [][]interface{}
	err   error
}

func (r *recordingExecer) ExecContext(_ context.Context, _ string, args ...interface{}) (sql.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	if r.err != nil {
		return nil, r.err
	}
	return fakeResult(4), nil
}

func (r *recordingExecer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHourlyAggregator_Window(t *testing.T) {
	db := &recordingExecer{}
	agg := NewHourlyAggregator(db, discardLogger())

	require.NoError(t, agg.Aggregate(context.Background(), time.Date(2024, 1, 1, 14, 37, 12, 0, time.UTC)))

	require.Len(t, db.calls, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), db.calls[0][0])
	assert.Equal(t, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), db.calls[0][1])
}

func TestHourlyAggregator_PreviousHour(t *testing.T) {
	db := &recordingExecer{}
	agg := NewHourlyAggregator(db, discardLogger())
	agg.now = func() time.Time { return time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC) }

	require.NoError(t, agg.AggregatePreviousHour(context.Background()))

	assert.Equal(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), db.calls[0][0])
}

func TestHourlyAggregator_Error(t *testing.T) {
	agg := NewHourlyAggregator(&recordingExecer{err: errors.New("relation does not exist")}, discardLogger())

	err := agg.Aggregate(context.Background(), time.Now())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestDailyAggregator_Window(t *testing.T) {
	db := &recordingExecer{}
	agg := NewDailyAggregator(db, discardLogger())
	agg.now = func() time.Time { return time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC) }

	require.NoError(t, agg.AggregatePreviousDay(context.Background()))

	require.Len(t, db.calls, 1)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), db.calls[0][0])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), db.calls[0][1])
}

func TestNextHourlyRun(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 1, 1, 14, 2, 0, 0, time.UTC), time.Date(2024, 1, 1, 14, 5, 0, 0, time.UTC)},
		{time.Date(2024, 1, 1, 14, 5, 0, 0, time.UTC), time.Date(2024, 1, 1, 15, 5, 0, 0, time.UTC)},
		{time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextHourlyRun(tc.now, 5*time.Minute), tc.now.String())
	}
}

func TestNextDailyRun(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextDailyRun(now, "00:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC), next)

	next, err = NextDailyRun(now, "18:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 18, 30, 0, 0, time.UTC), next)

	_, err = NextDailyRun(now, "noon")
	assert.Error(t, err)
	_, err = NextDailyRun(now, "25:00")
	assert.Error(t, err)
}

func TestScheduler_RunsAndReschedules(t *testing.T) {
	db := &recordingExecer{}
	hourly := NewHourlyAggregator(db, discardLogger())
	daily := NewDailyAggregator(db, discardLogger())

	tm := timer.NewManager(1)
	tm.Start()
	defer tm.Stop()

	// The first schedule is computed from a past clock so it is due at once;
	// the reschedule uses the real clock and lands in the next hour.
	var mu sync.Mutex
	first := true
	hourly.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)
		}
		return time.Now()
	}

	s := NewScheduler(context.Background(), tm, hourly, daily, discardLogger())
	require.NoError(t, s.ScheduleHourly(0))

	assert.Eventually(t, func() bool { return db.Calls() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return tm.Stats().ScheduledTasks == 1 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_DailyRejectsBadTime(t *testing.T) {
	tm := timer.NewManager(1)
	s := NewScheduler(context.Background(), tm, nil, NewDailyAggregator(&recordingExecer{}, discardLogger()), discardLogger())

	assert.Error(t, s.ScheduleDaily("99:99"))
}
