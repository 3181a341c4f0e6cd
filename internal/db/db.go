// Package db wires the optional, best-effort Postgres-backed audit and
// usage trail. Nothing here is on the tunnel dispatch plane's hot path: a
// nil *DB (or a full event queue) just drops events on the floor rather
// than blocking a request.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tunnelforge/tunnelforge/internal/logging"
)

type DB struct {
	*sql.DB
}

func New(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{db}, nil
}

func (d *DB) Close() error {
	return d.DB.Close()
}

// Migrate creates the audit/usage tables if they don't already exist. It's
// safe to call on every startup.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id SERIAL PRIMARY KEY,
			tunnel_id TEXT NOT NULL,
			event TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bandwidth_usage (
			id SERIAL PRIMARY KEY,
			tunnel_id TEXT NOT NULL,
			bytes_in BIGINT NOT NULL,
			bytes_out BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			synced_to_billing BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS tunnel_billing (
			tunnel_id TEXT PRIMARY KEY,
			stripe_customer_id TEXT,
			stripe_subscription_id TEXT,
			plan TEXT NOT NULL DEFAULT 'free'
		)`,
		`CREATE TABLE IF NOT EXISTS billing_events (
			stripe_event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// eventTrailDepth bounds the async work queue; a deployer whose database
// falls behind loses the tail of the trail rather than stalling tunnels.
const eventTrailDepth = 1024

type auditJob struct {
	tunnelID string
	event    string
}

type bandwidthJob struct {
	tunnelID           string
	bytesIn, bytesOut int64
}

// AuditLog implements relay.AuditRecorder and relay.UsageRecorder by
// draining a bounded queue on a background goroutine, so a slow or
// unreachable database never adds latency to a control-plane or proxy
// request.
type AuditLog struct {
	db     *DB
	log    *logging.Logger
	events chan auditJob
	usage  chan bandwidthJob
	done   chan struct{}
}

// NewAuditLog starts the background worker. db may be nil, in which case
// every recorded event is simply discarded.
func NewAuditLog(db *DB, log *logging.Logger) *AuditLog {
	a := &AuditLog{
		db:     db,
		log:    log,
		events: make(chan auditJob, eventTrailDepth),
		usage:  make(chan bandwidthJob, eventTrailDepth),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AuditLog) run() {
	defer close(a.done)
	ctx := context.Background()
	for {
		select {
		case job, ok := <-a.events:
			if !ok {
				return
			}
			if a.db == nil {
				continue
			}
			if _, err := a.db.ExecContext(ctx,
				`INSERT INTO audit_events (tunnel_id, event, at) VALUES ($1, $2, NOW())`,
				job.tunnelID, job.event); err != nil {
				a.log.Warn("audit: insert event failed: %v", err)
			}
		case job, ok := <-a.usage:
			if !ok {
				return
			}
			if a.db == nil {
				continue
			}
			if _, err := a.db.ExecContext(ctx,
				`INSERT INTO bandwidth_usage (tunnel_id, bytes_in, bytes_out, recorded_at) VALUES ($1, $2, $3, NOW())`,
				job.tunnelID, job.bytesIn, job.bytesOut); err != nil {
				a.log.Warn("audit: insert bandwidth failed: %v", err)
			}
		}
	}
}

// RecordEvent satisfies relay.AuditRecorder. Non-blocking: a full queue
// drops the event rather than stalling the caller.
func (a *AuditLog) RecordEvent(tunnelID, event string) {
	select {
	case a.events <- auditJob{tunnelID: tunnelID, event: event}:
	default:
		a.log.Warn("audit: event queue full, dropping %s for %s", event, tunnelID)
	}
}

// RecordBandwidth satisfies relay.UsageRecorder. Non-blocking for the same
// reason as RecordEvent.
func (a *AuditLog) RecordBandwidth(tunnelID string, bytesIn, bytesOut int64) {
	select {
	case a.usage <- bandwidthJob{tunnelID: tunnelID, bytesIn: bytesIn, bytesOut: bytesOut}:
	default:
		a.log.Warn("audit: usage queue full, dropping sample for %s", tunnelID)
	}
}

// Close closes both queues and waits up to the given timeout for the
// background worker to exit. The worker exits as soon as it finds either
// queue closed and empty, so jobs still waiting in the other queue may be
// dropped.
func (a *AuditLog) Close(timeout time.Duration) {
	close(a.events)
	close(a.usage)
	select {
	case <-a.done:
	case <-time.After(timeout):
	}
}
