package scheduling

import (
	"context"
	"time"
)

// Sweep completes every scheduled appointment that started at least the
// policy's grace period ago. Running it twice changes nothing the second time.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.policy.SweepGrace)
	n, err := s.appts.CompleteElapsed(ctx, cutoff)
	s.metrics.Swept(n, err)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("sweep failed")
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("completed", n).Time("cutoff", cutoff).Msg("appointments auto-completed")
	}
	return n, nil
}

// RunSweeper sweeps once immediately and then every interval. It blocks until
// ctx is cancelled. A non-positive interval returns at once.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info().Msg("sweeper disabled")
		return
	}
	// Sweep logs its own failures; the next tick retries.
	_, _ = s.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
