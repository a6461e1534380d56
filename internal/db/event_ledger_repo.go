package db

import (
	"bytes"
	"context"
	"time"

	"github.com/klauspost/compress/gzip"

	"marketfront/internal/types"
)

// EventLedgerRepo records which provider event IDs have been processed. The
// ledger is what makes the provider's at-least-once redelivery safe: an event
// is applied at most once regardless of how many transport workers receive it.
type EventLedgerRepo struct {
	db DBTX
}

// NewEventLedgerRepo creates an EventLedgerRepo backed by the given database
// connection (pool or transaction).
func NewEventLedgerRepo(db DBTX) *EventLedgerRepo {
	return &EventLedgerRepo{db: db}
}

// ClaimOnce atomically claims a provider event ID. It is a single
// insert-if-absent (INSERT ... ON CONFLICT DO NOTHING), never a read followed
// by a write, so two workers delivering the same event concurrently cannot
// both claim it. Returns alreadyProcessed = true when another delivery holds
// the claim.
//
// The raw payload is archived gzip-compressed alongside the claim for audit
// and replay.
func (r *EventLedgerRepo) ClaimOnce(ctx context.Context, eventID, eventType string, rawPayload []byte) (bool, error) {
	compressed, err := gzipBytes(rawPayload)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress event payload", err)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (id, event_type, payload_gz, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		eventID,
		eventType,
		compressed,
		time.Now().UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim event", err)
	}

	// Zero rows affected means the conflict clause fired: the event ID is
	// already on the ledger.
	return tag.RowsAffected() == 0, nil
}

// Release drops the claim for an event whose dispatch failed transiently, so
// the provider's redelivery can reprocess it. Releasing an absent claim is a
// no-op.
func (r *EventLedgerRepo) Release(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM webhook_events WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release event claim", err)
	}
	return nil
}

// gzipBytes compresses b at the default level.
func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
