// Package shutdown closes the long-lived resources of a command in a fixed
// order when it finishes or is interrupted.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a resource released at shutdown
type Closer interface {
	Close() error
}

// HookFunc performs cleanup during shutdown
type HookFunc func(ctx context.Context) error

// Coordinator closes registered resources in priority order
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	items []item

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

type item struct {
	name     string
	priority int // Lower = closed first
	closer   Closer
	hook     HookFunc
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register registers a resource. Priority determines the order (lower = closed first).
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.add(item{name: name, priority: priority, closer: closer})
}

// RegisterHook registers a cleanup function. Hooks run before resources of
// the same priority.
func (c *Coordinator) RegisterHook(name string, hook HookFunc, priority int) {
	c.add(item{name: name, priority: priority, hook: hook})
}

func (c *Coordinator) add(it item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, it)

	c.logger.Debug().
		Str("name", it.name).
		Int("priority", it.priority).
		Msg("Registered for shutdown")
}

// NotifyContext returns a context that is cancelled on SIGINT or SIGTERM, or
// when Trigger is called, so that polling loops stop promptly. The returned
// stop function releases the signal handler.
func (c *Coordinator) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-quit:
			c.logger.Warn().
				Str("signal", sig.String()).
				Msg("Received signal, cancelling")
			c.Trigger()
			cancel()
		case <-c.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(quit)
		cancel()
	}
}

// Done is closed once shutdown has been triggered.
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownCh
}

// Trigger starts shutdown programmatically. Safe to call more than once.
func (c *Coordinator) Trigger() {
	c.triggerOnce.Do(func() {
		close(c.shutdownCh)
	})
}

// Shutdown runs hooks and closes resources by priority. It runs once; later
// calls return the first result.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.Trigger()

		c.mu.Lock()
		items := make([]item, len(c.items))
		copy(items, c.items)
		c.mu.Unlock()

		sort.SliceStable(items, func(i, j int) bool {
			if items[i].priority != items[j].priority {
				return items[i].priority < items[j].priority
			}
			return items[i].hook != nil && items[j].hook == nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, it := range items {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("name", it.name).
					Msg("Shutdown timeout reached, skipping remaining resources")
				shutdownErr = ctx.Err()
				return
			}

			var err error
			if it.hook != nil {
				err = it.hook(ctx)
			} else {
				err = it.closer.Close()
			}
			if err != nil {
				c.logger.Error().Err(err).Str("name", it.name).Msg("Shutdown step failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
				continue
			}
			c.logger.Debug().Str("name", it.name).Msg("Closed")
		}

		c.logger.Debug().
			Int("resources", len(items)).
			Dur("duration", time.Since(start)).
			Msg("Shutdown complete")
	})

	return shutdownErr
}

// Priorities for the toolkit's resources
const (
	PriorityScheduler = 10 // Stop triggering new runs first
	PriorityConverter = 30 // Conversion engine and its embedded DuckDB
	PriorityStorage   = 50 // Object storage clients last
)
