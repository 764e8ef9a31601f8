// Package models lazily loads the inference capabilities and keeps them for
// the life of the process.
//
// Every kind moves through Uninitialized -> Loading -> Ready, or
// Uninitialized -> Loading -> Failed. Ready is terminal. Failed is not
// sticky: the next Ensure for that kind starts a fresh load.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"storyteller/internal/metrics"
)

// Kind identifies one of the inference capabilities.
type Kind string

const (
	KindCaption  Kind = "caption"
	KindGenerate Kind = "generate"
	KindSpeech   Kind = "speech"
)

// Default load budgets. The generation model is the heaviest to bring up.
const (
	DefaultCaptionLoadTimeout  = 60 * time.Second
	DefaultGenerateLoadTimeout = 5 * time.Minute
	DefaultSpeechLoadTimeout   = 2 * time.Minute
)

// ErrUnknownKind is returned for kinds the cache has no loader for.
var ErrUnknownKind = errors.New("unknown model kind")

// State is the lifecycle state of one kind.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle is an opaque reference to a loaded capability.
type Handle struct {
	Kind     Kind
	Model    string
	Value    any
	LoadedAt time.Time
}

// As returns the capability held by h as T.
func As[T any](h Handle) (T, error) {
	v, ok := h.Value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s handle holds %T, not the requested capability", h.Kind, h.Value)
	}
	return v, nil
}

// Loader brings up one capability.
type Loader func(ctx context.Context) (Handle, error)

// Spec describes how to load a kind.
type Spec struct {
	Load    Loader
	Timeout time.Duration
}

// LoadError reports a failed load.
type LoadError struct {
	Kind Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s model: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type slot struct {
	state   State
	handle  Handle
	lastErr error
}

// Cache owns at-most-once construction of each capability.
type Cache struct {
	specs map[Kind]Spec
	group singleflight.Group

	mu    sync.RWMutex
	slots map[Kind]*slot
}

// New returns a cache that loads each kind in specs on first demand.
func New(specs map[Kind]Spec) *Cache {
	c := &Cache{
		specs: make(map[Kind]Spec, len(specs)),
		slots: make(map[Kind]*slot, len(specs)),
	}
	for kind, spec := range specs {
		c.specs[kind] = spec
		c.slots[kind] = &slot{}
	}
	return c
}

// Kinds returns the kinds this cache can load, sorted.
func (c *Cache) Kinds() []Kind {
	kinds := make([]Kind, 0, len(c.specs))
	for kind := range c.specs {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// State reports the lifecycle state of kind.
func (c *Cache) State(kind Kind) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[kind]
	if !ok {
		return Uninitialized
	}
	return s.state
}

// LastError returns the error of the most recent failed load of kind, if any.
func (c *Cache) LastError(kind Kind) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.slots[kind]; ok {
		return s.lastErr
	}
	return nil
}

// Ensure returns the handle for kind, loading it if needed. Concurrent callers
// share a single load and all observe its result. The load itself is detached
// from ctx cancellation and bounded by the kind's timeout; ctx only bounds how
// long this caller waits.
func (c *Cache) Ensure(ctx context.Context, kind Kind) (Handle, error) {
	spec, ok := c.specs[kind]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	c.mu.Lock()
	s := c.slots[kind]
	if s.state == Ready {
		h := s.handle
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(string(kind), func() (interface{}, error) {
		c.mu.Lock()
		if s.state == Ready {
			h := s.handle
			c.mu.Unlock()
			return h, nil
		}
		s.state = Loading
		c.mu.Unlock()

		h, err := c.load(ctx, kind, spec)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			s.state = Failed
			s.lastErr = err
			return nil, err
		}
		s.state = Ready
		s.handle = h
		s.lastErr = nil
		return h, nil
	})

	select {
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, res.Err
		}
		h, ok := res.Val.(Handle)
		if !ok {
			return Handle{}, fmt.Errorf("unexpected return type from singleflight: %T", res.Val)
		}
		return h, nil
	}
}

func (c *Cache) load(ctx context.Context, kind Kind, spec Spec) (Handle, error) {
	loadCtx := context.WithoutCancel(ctx)
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(loadCtx, spec.Timeout)
		defer cancel()
	}

	slog.Info("loading model", "kind", kind)
	start := time.Now()
	h, err := spec.Load(loadCtx)
	elapsed := time.Since(start)
	metrics.ModelLoads.WithLabelValues(string(kind), metrics.Outcome(err)).Inc()
	metrics.ModelLoadDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err != nil {
		slog.Error("model load failed", "kind", kind, "elapsed", elapsed.String(), "err", err)
		return Handle{}, &LoadError{Kind: kind, Err: err}
	}

	h.Kind = kind
	if h.LoadedAt.IsZero() {
		h.LoadedAt = time.Now()
	}
	slog.Info("model ready", "kind", kind, "model", h.Model, "elapsed", elapsed.String())
	return h, nil
}

// Warmup loads the given kinds concurrently, or every kind when none are given.
func (c *Cache) Warmup(ctx context.Context, kinds ...Kind) error {
	if len(kinds) == 0 {
		kinds = c.Kinds()
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for _, k := range kinds {
		kind := k
		eg.Go(func() error {
			_, err := c.Ensure(egCtx, kind)
			return err
		})
	}
	return eg.Wait()
}
