package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultSideEffectTimeout bounds each audit or notification call.
const DefaultSideEffectTimeout = 10 * time.Second

// sideEffects runs best-effort work off the request path. Work is detached
// from the caller's cancellation, bounded by timeout, and never panics out.
type sideEffects struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  Logger
}

func newSideEffects(timeout time.Duration, logger Logger) *sideEffects {
	if timeout <= 0 {
		timeout = DefaultSideEffectTimeout
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &sideEffects{timeout: timeout, logger: logger}
}

func (s *sideEffects) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("side effect panicked", "name", name, "panic", r)
			}
		}()

		runCtx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()

		if err := fn(runCtx); err != nil {
			s.logger.Warn("side effect failed", "name", name, "error", err)
		}
	}()
}

// Wait blocks until every dispatched side effect has returned.
func (s *sideEffects) Wait() {
	s.wg.Wait()
}
