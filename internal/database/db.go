package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// MigrationFiles lists the .sql files of dir in execution order
func MigrationFiles(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)
	return sqlFiles, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	sqlFiles, err := MigrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	for _, filename := range sqlFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return nil
}

// UpsertSensor inserts or updates a sensor. Coordinates are only overwritten when given.
func (db *DB) UpsertSensor(ctx context.Context, s *Sensor) error {
	query := `
		INSERT INTO sensors (sensor_id, lat, lng)
		VALUES ($1, $2, $3)
		ON CONFLICT (sensor_id) DO UPDATE
		SET lat = COALESCE(EXCLUDED.lat, sensors.lat),
		    lng = COALESCE(EXCLUDED.lng, sensors.lng),
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, s.SensorID, s.Lat, s.Lng)
	return err
}

// GetSensor retrieves a sensor by id
func (db *DB) GetSensor(ctx context.Context, sensorID string) (*Sensor, error) {
	query := `
		SELECT sensor_id, lat, lng, created_at, updated_at
		FROM sensors
		WHERE sensor_id = $1
	`

	var s Sensor
	err := db.QueryRowContext(ctx, query, sensorID).Scan(
		&s.SensorID,
		&s.Lat,
		&s.Lng,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// InsertPrediction stores a prediction. Redelivered events with a known id are ignored.
func (db *DB) InsertPrediction(ctx context.Context, p *Prediction) error {
	query := `
		INSERT INTO predictions (
			prediction_id, sensor_id, observed_at, received_at, pressure, flow,
			temperature, leak_probability, prediction, confidence,
			threshold_exceeded, threshold, model_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (prediction_id) DO NOTHING
	`

	_, err := db.ExecContext(ctx,
		query,
		p.PredictionID,
		p.SensorID,
		p.ObservedAt,
		p.ReceivedAt,
		p.Pressure,
		p.Flow,
		p.Temperature,
		p.LeakProbability,
		p.Prediction,
		p.Confidence,
		p.ThresholdExceeded,
		p.Threshold,
		p.ModelID,
	)
	return err
}

// RecentPredictions returns the latest predictions for a sensor, newest first
func (db *DB) RecentPredictions(ctx context.Context, sensorID string, limit int) ([]*Prediction, error) {
	query := `
		SELECT prediction_id, sensor_id, observed_at, received_at, pressure, flow,
		       temperature, leak_probability, prediction, confidence,
		       threshold_exceeded, threshold, model_id, created_at
		FROM predictions
		WHERE sensor_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(
			&p.PredictionID,
			&p.SensorID,
			&p.ObservedAt,
			&p.ReceivedAt,
			&p.Pressure,
			&p.Flow,
			&p.Temperature,
			&p.LeakProbability,
			&p.Prediction,
			&p.Confidence,
			&p.ThresholdExceeded,
			&p.Threshold,
			&p.ModelID,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}

	return out, rows.Err()
}

// GetAlarmRule returns the active rule for a sensor, falling back to the "*" default
func (db *DB) GetAlarmRule(ctx context.Context, sensorID string) (*AlarmRule, error) {
	query := `
		SELECT id, sensor_id, consecutive, min_duration_seconds, is_active, created_at, updated_at
		FROM alarm_rules
		WHERE sensor_id IN ($1, $2) AND is_active = true
		ORDER BY (sensor_id = $2) ASC
		LIMIT 1
	`

	var r AlarmRule
	var seconds int64
	err := db.QueryRowContext(ctx, query, sensorID, DefaultRuleSensor).Scan(
		&r.ID,
		&r.SensorID,
		&r.Consecutive,
		&seconds,
		&r.IsActive,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.MinDuration = time.Duration(seconds) * time.Second

	return &r, nil
}

// InsertLeakAlarm inserts a new alarm log entry
func (db *DB) InsertLeakAlarm(ctx context.Context, alarm *LeakAlarm) error {
	query := `
		INSERT INTO leak_alarms (
			sensor_id, leak_probability, threshold, consecutive, start_time, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING alarm_id
	`

	return db.QueryRowContext(ctx,
		query,
		alarm.SensorID,
		alarm.LeakProbability,
		alarm.Threshold,
		alarm.Consecutive,
		alarm.StartTime,
		alarm.Status,
	).Scan(&alarm.AlarmID)
}

// UpdateLeakAlarmCleared updates an alarm log to cleared status
func (db *DB) UpdateLeakAlarmCleared(ctx context.Context, alarmID int64, endTime time.Time) error {
	query := `
		UPDATE leak_alarms
		SET status = $1, end_time = $2, updated_at = CURRENT_TIMESTAMP
		WHERE alarm_id = $3
	`

	_, err := db.ExecContext(ctx, query, AlarmStatusCleared, endTime, alarmID)
	return err
}
