package subagent

import (
	"context"
	"time"
)

// StartSweeper runs the archival sweep once per minute until ctx ends.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.SweepArchived(now)
			}
		}
	}()
}
