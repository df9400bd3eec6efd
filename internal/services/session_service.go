package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown or expired session IDs
var ErrSessionNotFound = errors.New("session not found")

// ErrTooManySessions is returned when the session limit is reached
var ErrTooManySessions = errors.New("too many open sessions")

// Notifier pushes session messages to the presentation layer
type Notifier interface {
	Publish(sessionID, messageType string, payload interface{})
	// CloseSession disconnects everything still attached to a closed session
	CloseSession(sessionID string)
}

// SessionConfig bounds the number and lifetime of dashboard sessions
type SessionConfig struct {
	MaxSessions   int           `koanf:"max_sessions" validate:"gte=0"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type session struct {
	dashboard   *Dashboard
	unsubscribe func()
}

// SessionService owns the dashboard sessions
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*session
	explorer *ExplorerService
	notifier Notifier
	config   SessionConfig
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewSessionService creates a new session registry. notifier may be nil.
func NewSessionService(explorer *ExplorerService, notifier Notifier, cfg SessionConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SessionService {
	return &SessionService{
		sessions: make(map[string]*session),
		explorer: explorer,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Create opens a dashboard at the initial state
func (s *SessionService) Create(ctx context.Context) (*Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxSessions > 0 && len(s.sessions) >= s.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	d := NewDashboard(ctx, id, s.explorer, s.logger, s.metrics)

	entry := &session{dashboard: d, unsubscribe: func() {}}
	if s.notifier != nil {
		entry.unsubscribe = d.Subscribe(func(snap Snapshot) {
			s.notifier.Publish(id, "snapshot", snap)
		})
	}

	s.sessions[id] = entry
	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))

	s.logger.Info(logging.WithSessionID(ctx, id), "[SESSION_CREATE] Dashboard session created", logging.Fields{
		"active_sessions": len(s.sessions),
	})

	return d, nil
}

// Get returns an open dashboard
func (s *SessionService) Get(id string) (*Dashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.dashboard, nil
}

// Delete closes a dashboard
func (s *SessionService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	entry.unsubscribe()
	if s.notifier != nil {
		s.notifier.CloseSession(id)
	}
	s.metrics.ActiveSessions.Set(float64(count))

	s.logger.Info(logging.WithSessionID(ctx, id), "[SESSION_DELETE] Dashboard session closed", logging.Fields{
		"active_sessions": count,
	})
	return nil
}

// Count returns the number of open sessions
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the configured timeout and
// returns how many were closed
func (s *SessionService) Sweep(ctx context.Context, now time.Time) int {
	if s.config.IdleTimeout <= 0 {
		return 0
	}

	s.mu.RLock()
	var expired []string
	for id, entry := range s.sessions {
		if now.Sub(entry.dashboard.idleSince()) > s.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	closed := 0
	for _, id := range expired {
		if err := s.Delete(ctx, id); err == nil {
			closed++
		}
	}

	if closed > 0 {
		s.logger.Info(ctx, "[SESSION_SWEEP] Idle sessions closed", logging.Fields{
			"closed":       closed,
			"idle_timeout": s.config.IdleTimeout.String(),
		})
	}
	return closed
}

// Serve runs the idle sweeper until ctx is cancelled
func (s *SessionService) Serve(ctx context.Context) error {
	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// String identifies the service in supervisor logs
func (s *SessionService) String() string {
	return "session-sweeper"
}
