package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/kinsync/internal/presence/domain"
)

// Sampler wraps the device location provider. It owns the single active
// subscription and caches the last delivered sample for graceful
// degradation of one-shot reads.
type Sampler struct {
	provider domain.LocationProvider
	logger   *zap.Logger

	mu          sync.Mutex
	initialized bool
	active      *Subscription
	last        *domain.LocationSample
}

// Subscription is the cancellation capability for an active stream.
type Subscription struct {
	once sync.Once
	stop func()
	done func(*Subscription)
}

// Cancel stops sample delivery. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		if s.done != nil {
			s.done(s)
		}
	})
}

// NewSampler constructs a Sampler around the given provider.
func NewSampler(provider domain.LocationProvider, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{provider: provider, logger: logger}
}

// Initialize requests foreground permission and, best-effort, background
// permission. Background denial degrades to foreground-only sampling.
func (s *Sampler) Initialize(ctx context.Context) error {
	if err := s.provider.RequestPermission(ctx); err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	if err := s.provider.RequestBackgroundPermission(ctx); err != nil {
		s.logger.Warn("background permission denied", zap.Error(err))
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Current returns a one-shot fix no older than maxAge, waiting up to
// timeout. When the provider fails it falls back to the last cached
// sample, or ErrProviderUnavailable if none exists.
func (s *Sampler) Current(ctx context.Context, timeout, maxAge time.Duration) (domain.LocationSample, error) {
	s.mu.Lock()
	ready := s.initialized
	s.mu.Unlock()
	if !ready {
		return domain.LocationSample{}, domain.ErrPermissionDenied
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sample, err := s.provider.Current(ctx, maxAge)
	if err != nil {
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if last != nil {
			s.logger.Warn("one-shot fix failed, using last sample", zap.Error(err))
			return *last, nil
		}
		return domain.LocationSample{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	s.remember(sample)
	return sample, nil
}

// Subscribe starts continuous sampling. At most one subscription is
// active per process; subscribing while one is active returns the
// existing handle unchanged.
func (s *Sampler) Subscribe(ctx context.Context, opts domain.WatchOptions, fn func(domain.LocationSample)) (*Subscription, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, domain.ErrPermissionDenied
	}
	if s.active != nil {
		sub := s.active
		s.mu.Unlock()
		return sub, nil
	}
	s.mu.Unlock()

	stop, err := s.provider.Watch(ctx, opts, func(sample domain.LocationSample) {
		s.remember(sample)
		fn(sample)
	})
	if err != nil {
		return nil, fmt.Errorf("start watch: %w", err)
	}

	sub := &Subscription{stop: stop, done: s.release}

	s.mu.Lock()
	if s.active != nil {
		// Lost a start race; keep the winner and tear ours down.
		existing := s.active
		s.mu.Unlock()
		sub.Cancel()
		return existing, nil
	}
	s.active = sub
	s.mu.Unlock()
	return sub, nil
}

// Active reports whether a subscription is currently running.
func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Last returns the most recent sample seen by any call path.
func (s *Sampler) Last() *domain.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	sample := *s.last
	return &sample
}

func (s *Sampler) remember(sample domain.LocationSample) {
	s.mu.Lock()
	s.last = &sample
	s.mu.Unlock()
}

func (s *Sampler) release(sub *Subscription) {
	s.mu.Lock()
	if s.active == sub {
		s.active = nil
	}
	s.mu.Unlock()
}
