package rules

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Catalog is the read-through cache in front of the rule repository. One
// instance per process, constructed in main and injected wherever rules or
// shift reasons are consulted.
//
// A refill failure falls back to the previous snapshot when one exists:
// serving slightly stale rules beats serving none.
type Catalog struct {
	repo   Repository
	ttl    time.Duration
	logger zerolog.Logger

	mu         sync.Mutex
	rules      []*RuleDefinition
	shiftCodes map[string]bool
	loadedAt   time.Time // zero forces a refill on next access
	loaded     bool      // a snapshot exists and may serve as stale fallback
	now        func() time.Time
}

func NewCatalog(repo Repository, ttl time.Duration, logger zerolog.Logger) *Catalog {
	return &Catalog{
		repo:   repo,
		ttl:    ttl,
		logger: logger.With().Str("component", "rule_catalog").Logger(),
		now:    time.Now,
	}
}

// ActiveRules returns the enabled rule set in catalog order.
func (c *Catalog) ActiveRules(ctx context.Context) ([]*RuleDefinition, error) {
	rules, _, err := c.snapshot(ctx)
	return rules, err
}

// ActiveShiftCodes returns the set of currently active shift reason codes.
func (c *Catalog) ActiveShiftCodes(ctx context.Context) (map[string]bool, error) {
	_, codes, err := c.snapshot(ctx)
	return codes, err
}

func (c *Catalog) snapshot(ctx context.Context) ([]*RuleDefinition, map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-checked under the lock: a racing caller may have refilled while
	// we waited.
	if c.loaded && !c.loadedAt.IsZero() && c.now().Sub(c.loadedAt) < c.ttl {
		return c.rules, c.shiftCodes, nil
	}

	rules, err := c.repo.ListEnabled(ctx)
	if err == nil {
		var reasons []*ShiftReason
		reasons, err = c.repo.ListShiftReasons(ctx)
		if err == nil {
			codes := make(map[string]bool, len(reasons))
			for _, sr := range reasons {
				if sr.Active {
					codes[sr.Code] = true
				}
			}
			c.rules = rules
			c.shiftCodes = codes
			c.loadedAt = c.now()
			c.loaded = true
			return c.rules, c.shiftCodes, nil
		}
	}

	if c.loaded {
		c.logger.Warn().Err(err).Msg("catalog refill failed, serving previous snapshot")
		return c.rules, c.shiftCodes, nil
	}
	return nil, nil, err
}

// Invalidate forces the next access to refill. Called synchronously after
// every administrative rule edit. The existing snapshot is retained so a
// failed refill can still fall back to it.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}
