// Package store defines persistence for interception call traces.
package store

import (
	"context"
	"time"
)

// CallRecord is one finished interception as persisted.
type CallRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"ts"`
	ContextID   uint64    `json:"context_id"`
	Function    uint32    `json:"function"`
	Name        string    `json:"name"`
	DurationMS  float64   `json:"duration_ms"`
	Invocations int       `json:"invocations"`
}

// CallStore persists call records.
type CallStore interface {
	AppendCall(ctx context.Context, rec CallRecord) error
	RecentCalls(ctx context.Context, limit int) ([]CallRecord, error)
	CountCalls(ctx context.Context) (int64, error)
	Close() error
}
