package supervisor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marscast/pkg/logging"
)

type fakeServer struct {
	mu       sync.Mutex
	listen   chan struct{}
	failWith error
	shutdown int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{listen: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.failWith != nil {
		return f.failWith
	}
	<-f.listen
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	atomic.AddInt32(&f.shutdown, 1)
	close(f.listen)
	return nil
}

func TestHTTPService(t *testing.T) {
	tests := []struct {
		name        string
		server      func() *fakeServer
		cancel      bool
		checkValues func(*testing.T, *fakeServer, error)
	}{
		{
			name:   "graceful shutdown on cancel",
			server: newFakeServer,
			cancel: true,
			checkValues: func(t *testing.T, f *fakeServer, err error) {
				if !errors.Is(err, context.Canceled) {
					t.Errorf("Serve() error = %v, want context.Canceled", err)
				}
				if atomic.LoadInt32(&f.shutdown) != 1 {
					t.Errorf("shutdown called %d times", f.shutdown)
				}
			},
		},
		{
			name: "listen failure surfaces",
			server: func() *fakeServer {
				f := newFakeServer()
				f.failWith = errors.New("address in use")
				return f
			},
			checkValues: func(t *testing.T, f *fakeServer, err error) {
				if err == nil || atomic.LoadInt32(&f.shutdown) != 0 {
					t.Errorf("Serve() error = %v, shutdown = %d", err, f.shutdown)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.server()
			svc := NewHTTPService(f, time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- svc.Serve(ctx) }()

			if tt.cancel {
				cancel()
			}
			select {
			case err := <-done:
				tt.checkValues(t, f, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Serve() did not return")
			}
		})
	}

	if got := NewHTTPService(newFakeServer(), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}

type countingService struct {
	starts atomic.Int32
	fail   atomic.Bool
}

func (c *countingService) Serve(ctx context.Context) error {
	c.starts.Add(1)
	if c.fail.CompareAndSwap(true, false) {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *countingService) String() string { return "counting" }

func TestTree_RestartsFailedService(t *testing.T) {
	logger := logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	tree := NewTree(logger, TreeConfig{FailureBackoff: 10 * time.Millisecond})

	svc := &countingService{}
	svc.fail.Store(true)
	tree.AddSessionService(svc)
	tree.AddAPIService(&countingService{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() < 2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("starts = %d, want a restart after failure", svc.starts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}
