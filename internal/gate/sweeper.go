package gate

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 30 * time.Second

// Sweep expires overdue requests and drops stale requests and tokens.
// Expiries are reported through the registry listener like any transition.
func (s *Service) Sweep() (expired, evicted, tokensRemoved int) {
	if s.requests != nil {
		exp, ev := s.requests.Sweep()
		expired, evicted = len(exp), ev
	}
	if s.tokens != nil {
		tokensRemoved = s.tokens.Sweep()
	}
	return expired, evicted, tokensRemoved
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, evicted, removed := s.Sweep()
			if expired+evicted+removed > 0 {
				slog.Debug("sweep completed", "expired", expired, "evicted", evicted, "tokens_removed", removed)
			}
		}
	}
}
