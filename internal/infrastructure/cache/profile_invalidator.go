package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ProfileChangedChannel is the NOTIFY channel fired by the profiles trigger.
// The payload is the changed profile id.
const ProfileChangedChannel = "profile_changed"

const pingInterval = 90 * time.Second

// ProfileCache is the cache side the invalidator evicts from.
type ProfileCache interface {
	Invalidate(ctx context.Context, id string) error
	Purge(ctx context.Context) error
}

// ProfileInvalidator keeps cached profiles consistent across instances.
// It uses PostgreSQL LISTEN/NOTIFY so a rename on one node evicts the
// entry everywhere; the cache TTL remains the fallback.
type ProfileInvalidator struct {
	cache   ProfileCache
	connStr string
	logger  *zap.Logger

	mu       sync.Mutex
	listener *pq.Listener
	stopCh   chan struct{}
	done     chan struct{}
	stopped  bool
}

// NewProfileInvalidator creates an invalidator for the given cache.
// connStr is the PostgreSQL connection string used for LISTEN.
func NewProfileInvalidator(c ProfileCache, connStr string, logger *zap.Logger) *ProfileInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileInvalidator{
		cache:   c,
		connStr: connStr,
		logger:  logger.Named("profile-invalidator"),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the listener and begins evicting on notifications.
func (i *ProfileInvalidator) Start(ctx context.Context) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			i.logger.Warn("listener problem", zap.Int("event", int(ev)), zap.Error(err))
		}
	}

	listener := pq.NewListener(i.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(ProfileChangedChannel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", ProfileChangedChannel, err)
	}

	i.mu.Lock()
	i.listener = listener
	i.mu.Unlock()

	go i.run(context.WithoutCancel(ctx), listener.Notify, listener.Ping)
	return nil
}

// Stop stops the listener. It is safe to call more than once.
func (i *ProfileInvalidator) Stop() error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return nil
	}
	i.stopped = true
	close(i.stopCh)
	listener := i.listener
	i.mu.Unlock()

	if listener == nil {
		return nil
	}
	<-i.done
	return listener.Close()
}

// run processes notifications until Stop is called.
// A nil notification means the connection was re-established and events may
// have been missed, so the whole cache is dropped.
func (i *ProfileInvalidator) run(ctx context.Context, notify <-chan *pq.Notification, ping func() error) {
	defer close(i.done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stopCh:
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			i.handle(ctx, n)
		case <-ticker.C:
			go func() {
				if err := ping(); err != nil {
					i.logger.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (i *ProfileInvalidator) handle(ctx context.Context, n *pq.Notification) {
	if n == nil {
		if err := i.cache.Purge(ctx); err != nil {
			i.logger.Warn("purge after reconnect failed", zap.Error(err))
			return
		}
		i.logger.Info("listener reconnected, profile cache purged")
		return
	}

	if n.Extra == "" {
		return
	}
	if err := i.cache.Invalidate(ctx, n.Extra); err != nil {
		i.logger.Warn("invalidate failed", zap.String("profile_id", n.Extra), zap.Error(err))
		return
	}
	i.logger.Debug("profile invalidated", zap.String("profile_id", n.Extra))
}
