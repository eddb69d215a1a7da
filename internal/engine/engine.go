package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/blockflow/internal/block"
)

// DefaultTickInterval is how often flows are saved when no interval is
// configured.
const DefaultTickInterval = time.Second

// shutdownSaveTimeout bounds the final save after cancellation.
const shutdownSaveTimeout = 5 * time.Second

// Engine drives a Root on one goroutine.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - Do(): safe from any goroutine while Run is active
//   - Load(), SaveAll(): call before Run, or from inside Do
type Engine struct {
	root     *block.Root
	tick     time.Duration
	autosave bool
	logger   *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithTickInterval sets how often the loop ticks.
//
// Default: 1s (DefaultTickInterval)
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithAutosave controls whether every tick saves all flows. On by default.
func WithAutosave(on bool) Option {
	return func(e *Engine) {
		e.autosave = on
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine for root.
func New(root *block.Root, opts ...Option) *Engine {
	e := &Engine{
		root:     root,
		tick:     DefaultTickInterval,
		autosave: true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Root returns the hosted root.
func (e *Engine) Root() *block.Root { return e.root }

// Load restores every stored flow, then adds each seed flow that storage
// did not already hold. Seeds are saved right away so the next start
// restores them from storage.
func (e *Engine) Load(ctx context.Context, seeds map[string]map[string]any) error {
	hasStorage := true
	if err := e.root.LoadFlows(ctx); err != nil {
		if !errors.Is(err, block.ErrNoStorage) {
			return &RuntimeError{Code: ErrCodeLoadFailed, Message: "restore flows", Err: err}
		}
		hasStorage = false
	}

	for _, name := range sortedNames(seeds) {
		if e.root.Flow(name) != nil {
			e.logger.Debug("seed skipped, flow already stored", "flow", name)
			continue
		}
		e.root.AddFlow(name, seeds[name])
		if !hasStorage {
			continue
		}
		if err := e.root.SaveFlow(ctx, name); err != nil {
			return &RuntimeError{Code: ErrCodeSaveFailed, Message: "save seed", Flow: name, Err: err}
		}
	}
	e.logger.Info("flows loaded", "count", len(e.root.FlowNames()))
	return nil
}

// SaveAll saves every flow. It keeps going past failures and returns them
// joined. A Root without storage has nothing to save.
func (e *Engine) SaveAll(ctx context.Context) error {
	var errs []error
	for _, name := range e.root.FlowNames() {
		err := e.root.SaveFlow(ctx, name)
		if errors.Is(err, block.ErrNoStorage) {
			return nil
		}
		if err != nil {
			e.logger.Error("flow save failed", "flow", name, "error", err)
			errs = append(errs, &RuntimeError{Code: ErrCodeSaveFailed, Message: "save flow", Flow: name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Run drives the root until ctx is cancelled or the root is closed.
// All mailbox work runs on the calling goroutine, which becomes the
// graph owner.
//
// ERROR HANDLING: a failed autosave is logged and the loop continues; the
// next tick retries.
func (e *Engine) Run(ctx context.Context) error {
	e.root.AdoptOwner()
	e.logger.Info("engine starting", "tick", e.tick, "autosave", e.autosave)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	mb := e.root.Mailbox()
	for {
		e.root.Run()

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			if e.autosave {
				saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownSaveTimeout)
				e.SaveAll(saveCtx)
				cancel()
			}
			return ctx.Err()

		case _, ok := <-mb.Wait():
			if !ok {
				e.logger.Info("engine stopping: root closed")
				return nil
			}

		case <-ticker.C:
			if e.autosave {
				e.SaveAll(ctx)
			}
		}
	}
}

// Do runs fn on the engine goroutine and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.root.Post(func() {
		defer close(done)
		fn()
	}) {
		return errStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortedNames(m map[string]map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
