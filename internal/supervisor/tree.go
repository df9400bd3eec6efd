// Package supervisor runs the long-lived marscast services under a suture
// supervision tree: the HTTP server, the websocket hub and the session sweeper.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"marscast/pkg/logging"
)

// TreeConfig holds supervisor tree configuration
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig matches suture's built-in defaults
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers so a crash in session housekeeping or push delivery
// never takes the API down with it:
//   - sessions: websocket hub, session sweeper
//   - api: HTTP server
type Tree struct {
	root     *suture.Supervisor
	sessions *suture.Supervisor
	api      *suture.Supervisor
	logger   *logging.StructuredLogger
}

// NewTree creates a supervisor tree. Zero config values take the defaults.
func NewTree(logger *logging.StructuredLogger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	rootSpec := suture.Spec{
		EventHook:        eventHook(logger),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("marscast", rootSpec)
	sessions := suture.New("session-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(sessions)
	root.Add(api)

	return &Tree{
		root:     root,
		sessions: sessions,
		api:      api,
		logger:   logger,
	}
}

// AddSessionService adds a service to the session layer
func (t *Tree) AddSessionService(svc suture.Service) suture.ServiceToken {
	return t.sessions.Add(svc)
}

// AddAPIService adds a service to the API layer
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// eventHook routes suture events through the structured logger
func eventHook(logger *logging.StructuredLogger) suture.EventHook {
	return func(e suture.Event) {
		fields := logging.Fields{"stage": "supervisor"}
		for k, v := range e.Map() {
			fields[k] = v
		}

		ctx := context.Background()
		switch e.Type() {
		case suture.EventTypeServicePanic:
			logger.Error(ctx, "[SUPERVISOR_PANIC] Service panicked", fields, nil)
		case suture.EventTypeServiceTerminate:
			logger.Warn(ctx, "[SUPERVISOR_TERMINATE] Service terminated", fields)
		case suture.EventTypeBackoff:
			logger.Warn(ctx, "[SUPERVISOR_BACKOFF] Supervisor entering backoff", fields)
		case suture.EventTypeResume:
			logger.Info(ctx, "[SUPERVISOR_RESUME] Supervisor resuming", fields)
		case suture.EventTypeStopTimeout:
			logger.Error(ctx, "[SUPERVISOR_STOP_TIMEOUT] Service failed to stop in time", fields, nil)
		default:
			logger.Debug(ctx, "[SUPERVISOR_EVENT] "+e.String(), fields)
		}
	}
}
