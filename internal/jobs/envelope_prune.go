package jobs

import (
	"context"
	"log"
	"time"

	"github.com/taalimflow-tech/qrlink/internal/config"
)

type envelopePruner interface {
	PruneSupersededEnvelopes(ctx context.Context, before time.Time) (int64, error)
}

// StartEnvelopePruneJob periodically deletes superseded code issuances that
// fell out of the retention window. The active envelope for each person is
// never pruned, so the job cannot invalidate a card in circulation.
func StartEnvelopePruneJob(ctx context.Context, cfg config.Config, store envelopePruner) {
	if !cfg.EnvelopePruneJobEnabled {
		return
	}
	if store == nil {
		log.Printf("envelope prune job disabled: store not configured")
		return
	}
	interval := cfg.EnvelopePruneJobInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.EnvelopePruneJobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retention := cfg.EnvelopeRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				pruned, err := store.PruneSupersededEnvelopes(tickCtx, cutoff)
				cancel()
				if err != nil {
					log.Printf("envelope prune job error: %v", err)
					continue
				}
				if pruned > 0 {
					log.Printf("envelope prune job removed %d envelopes", pruned)
				}
			}
		}
	}()
}
