package agent

import (
	"context"
	"errors"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/logx"
)

// DefaultSelfCheckInterval keeps the attestation snapshot fresh without
// hammering the local attestation endpoint.
const DefaultSelfCheckInterval = 15 * time.Minute

// RunSelfCheck runs SelfCheck on a fixed interval until ctx is cancelled.
// It performs one check immediately so a freshly started agent has a
// snapshot before the first tick. In enforcing mode the loop stops and
// returns ErrCodeChanged when the code measurement no longer matches the
// birth certificate; all other failures are logged and retried next tick.
func (a *Agent) RunSelfCheck(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSelfCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.SelfCheck(ctx); err != nil {
			if errors.Is(err, ErrCodeChanged) {
				return err
			}
			logx.Warnf("agent: self-check failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
