package surface

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/retry"
)

// onCrash handles an abnormal renderer exit: caches are dropped, callers are
// turned away by the readiness gate and the last page is reloaded after a delay.
func (s *Surface) onCrash() {
	s.mu.Lock()
	if s.closed || s.state == StateCrashed {
		s.mu.Unlock()
		return
	}
	s.settleLocked(StateCrashed)
	target := s.committedURL
	s.mu.Unlock()
	if target == "" {
		target = s.cfg.DefaultURL
	}

	s.console.Clear()
	s.index.Invalidate()
	s.logger.Error("Content surface renderer crashed.", zap.String("url", target))

	if !s.limiter.AllowN(s.clock.Now(), 1) {
		s.logger.Error("Crash recovery suspended; the renderer is crashing repeatedly.",
			zap.Int("max_per_hour", s.cfg.CrashRecovery.MaxPerHour))
		return
	}
	s.spawn(func() { s.recoverFromCrash(target) })
}

func (s *Surface) recoverFromCrash(target string) {
	policy := retry.Policy{Delay: s.cfg.CrashRecovery.Delay, Attempts: s.cfg.CrashRecovery.Attempts}
	err := retry.Do(s.lifetime, s.clock, policy, func(ctx context.Context, attempt int) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()

		s.mu.Lock()
		ua := s.userAgent
		s.mu.Unlock()
		if ua != "" {
			if err := s.applyUserAgent(ctx, ua); err != nil {
				return err
			}
		}
		s.logger.Info("Reloading after renderer crash.", zap.String("url", target), zap.Int("attempt", attempt))
		return s.load(ctx, target)
	})
	if err != nil {
		if s.lifetime.Err() == nil {
			s.settle(StateFailed)
			s.logger.Error("Crash recovery failed.", zap.String("url", target), zap.Error(err))
		}
		return
	}
	s.logger.Info("Content surface recovered.", zap.String("url", s.CurrentURL()))
}
