package ack

import (
	"context"
	"time"
)

// Repository abstracts acknowledgment persistence and the append-only trail.
type Repository interface {
	// Upsert writes an ack by its composite key, atomically replacing any
	// previous row so racing writers are last-writer-wins.
	Upsert(ctx context.Context, a *Ack) error
	// Get returns the ack for a composite key, or a NotFoundError.
	Get(ctx context.Context, caseID, stationID, scope, scopeID string) (*Ack, error)
	// ListForCase returns every ack on a case, any scope, any age.
	ListForCase(ctx context.Context, caseID, stationID string) ([]*Ack, error)
	// ListForStation returns acks for all cases on a station keyed by case id.
	ListForStation(ctx context.Context, stationID string) (map[string][]*Ack, error)
	// Delete removes an ack outright. Returns false when no row existed.
	Delete(ctx context.Context, caseID, stationID, scope, scopeID string) (bool, error)

	AppendEvent(ctx context.Context, ev *Event) error
	ListEventsForCase(ctx context.Context, caseID string, limit, offset int) ([]*Event, int, error)
}

// DayVersionRepository is the per-station day counter.
type DayVersionRepository interface {
	// Current returns the version for (station, date), initializing the row
	// at 1 on first access. Concurrent first access must not error.
	Current(ctx context.Context, stationID string, date time.Time) (int, error)
	// Increment bumps the version atomically and returns old and new.
	Increment(ctx context.Context, stationID string, date time.Time) (oldV, newV int, err error)
}
