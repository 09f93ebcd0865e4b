package cases

import "context"

// Repository abstracts patient case persistence.
type Repository interface {
	GetByCaseID(ctx context.Context, caseID string) (*Case, error)
	ListByStation(ctx context.Context, stationID string, limit, offset int) ([]*Case, int, error)
	Upsert(ctx context.Context, c *Case) error
}
