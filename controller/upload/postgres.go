// Package upload mirrors decision records into a Postgres (or Supabase) table.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hydropi/hydropi/controller"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is the part of a pgx pool the uploader needs.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

type Postgres struct {
	pool    DBPool
	table   string
	log     *zap.Logger
	backoff func() backoff.BackOff
}

func Connect(ctx context.Context, cfg controller.UploadConfig, log *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("upload: connect: %w", err)
	}
	p := New(pool, cfg, log)
	if err := p.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func New(pool DBPool, cfg controller.UploadConfig, log *zap.Logger) *Postgres {
	maxElapsed := cfg.MaxElapsedTime
	return &Postgres{
		pool:  pool,
		table: pgx.Identifier{cfg.Table}.Sanitize(),
		log:   log.Named("upload"),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
	id text PRIMARY KEY,
	ts timestamptz NOT NULL,
	air_temp_c double precision,
	humidity_pct double precision,
	water_temp_c double precision,
	ph double precision,
	tds_ppm double precision,
	light text NOT NULL,
	air_pump text NOT NULL,
	humidifier text NOT NULL,
	ph_adjustment text NOT NULL,
	dose_seconds double precision NOT NULL DEFAULT 0,
	outcome text NOT NULL,
	plant_health_score integer,
	intervention_needed boolean NOT NULL,
	intervention_message text,
	fallback_cause text,
	image_path text,
	record jsonb NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("upload: create table %s: %w", p.table, err)
	}
	return nil
}

// Publish inserts one row per record. Re-uploading the same record is a no-op.
func (p *Postgres) Publish(ctx context.Context, rec controller.DecisionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	values := rec.Snapshot.Values()
	var image *string
	if rec.Image != nil {
		image = &rec.Image.Path
	}
	var dose float64
	if _, pulse, ok := rec.Command.Dose(); ok {
		dose = pulse.Seconds()
	}
	sql := `INSERT INTO ` + p.table + ` (id, ts, air_temp_c, humidity_pct, water_temp_c, ph, tds_ppm,
	light, air_pump, humidifier, ph_adjustment, dose_seconds, outcome, plant_health_score,
	intervention_needed, intervention_message, fallback_cause, image_path, record)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (id) DO NOTHING`
	args := []any{
		rec.ID, rec.Time,
		values[controller.MetricAirTemp], values[controller.MetricHumidity], values[controller.MetricWaterTemp],
		values[controller.MetricPH], values[controller.MetricTDS],
		string(rec.Command.Light), string(rec.Command.AirPump), string(rec.Command.Humidifier),
		string(rec.Command.PHAdjustment), dose, string(rec.Outcome), rec.HealthScore,
		rec.Intervention.Needed, rec.Intervention.Message, rec.FallbackCause, image, doc,
	}

	attempt := 0
	op := func() error {
		attempt++
		_, err := p.pool.Exec(ctx, sql, args...)
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.log.Warn("Upload failed, retrying", zap.String("cycle_id", rec.ID), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(p.backoff(), ctx), notify); err != nil {
		return fmt.Errorf("upload %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
