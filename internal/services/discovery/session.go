package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
)

// DefaultDebounce is the quiet period after the last keystroke before a query runs
const DefaultDebounce = 300 * time.Millisecond

// Result is one delivered search outcome, tagged with the generation of the
// keystroke that produced it
type Result struct {
	Generation uint64
	Query      string
	Profiles   []entities.Profile
	Err        error
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// Session turns a stream of keystrokes into search results. Every Update bumps
// the generation; only a result whose generation is still the latest is
// delivered, and the context of a superseded in-flight query is cancelled.
type Session struct {
	engine    *Engine
	exclusion func() entities.ExclusionSet
	debounce  time.Duration
	results   chan Result

	mu       sync.Mutex
	gen      uint64
	query    string
	pending  bool
	timer    *time.Timer
	cancel   context.CancelFunc
	inflight chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewSession creates a search session. exclusion is called each time a query
// fires so it reflects the latest relationship view.
func NewSession(engine *Engine, exclusion func() entities.ExclusionSet, opts ...SessionOption) *Session {
	if exclusion == nil {
		exclusion = func() entities.ExclusionSet { return entities.NewExclusionSet() }
	}
	s := &Session{
		engine:    engine,
		exclusion: exclusion,
		debounce:  DefaultDebounce,
		results:   make(chan Result, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Results delivers the latest result. The buffer holds one value; an
// unconsumed result is replaced by a newer one. The channel is closed by Close.
func (s *Session) Results() <-chan Result {
	return s.results
}

// Generation returns the generation of the last Update
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Update records a keystroke and returns its generation. A blank query
// delivers an empty result immediately.
func (s *Session) Update(query string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.gen
	}

	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if strings.TrimSpace(query) == "" {
		s.pending = false
		s.deliverLocked(Result{Generation: gen, Query: query, Profiles: []entities.Profile{}})
		return gen
	}

	s.query = query
	s.pending = true
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
	return gen
}

// Flush runs a pending query now instead of waiting for the debounce timer,
// then waits for the in-flight query to finish
func (s *Session) Flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pending {
		if s.timer != nil {
			s.timer.Stop()
		}
		run := s.claimLocked(s.gen)
		s.mu.Unlock()
		if run != nil {
			run()
		}
		return
	}
	done := s.inflight
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close stops the session, cancels any in-flight query and closes Results
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.results)
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	run := s.claimLocked(gen)
	s.mu.Unlock()

	if run != nil {
		run()
	}
}

// claimLocked takes the pending query for gen and returns the function that
// executes it, or nil when gen is stale or nothing is pending
func (s *Session) claimLocked(gen uint64) func() {
	if s.closed || !s.pending || gen != s.gen {
		return nil
	}
	s.pending = false
	s.timer = nil

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	done := make(chan struct{})
	s.inflight = done
	query := s.query
	s.wg.Add(1)

	return func() {
		defer s.wg.Done()
		defer close(done)

		profiles, err := s.engine.Search(ctx, query, s.exclusion())
		cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.gen {
			return
		}
		s.cancel = nil
		s.deliverLocked(Result{Generation: gen, Query: query, Profiles: profiles, Err: err})
	}
}

func (s *Session) deliverLocked(r Result) {
	select {
	case s.results <- r:
	default:
		// replace the unconsumed older result
		select {
		case <-s.results:
		default:
		}
		s.results <- r
	}
}
