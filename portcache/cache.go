// Package portcache implements the Port Cache (spec.md §4.2): the
// origin-keyed store of constructed Ports with at-most-one-construction
// coalescing, negative caching, and fire-and-forget recursive expansion of
// a Port's dependency origins.
package portcache

import (
	"context"
	"fmt"
	"sync"

	"go-synth/depgraph"
	"go-synth/log"
	"go-synth/port"
)

// Loader loads a port's attributes, implemented by portattr.Load wired
// with a concrete Querier. Kept as an interface here so the cache has no
// dependency on os/exec or the ports-tree filesystem layout.
type Loader interface {
	Load(origin, portDir string) (*port.Attributes, error)
}

// LoaderFunc adapts a plain function to Loader.
type LoaderFunc func(origin, portDir string) (*port.Attributes, error)

func (f LoaderFunc) Load(origin, portDir string) (*port.Attributes, error) { return f(origin, portDir) }

type cacheEntry struct {
	port *port.Port
	done chan struct{}
	err  error // set iff construction (attribute loading) failed
}

// Cache is the Port Cache. It never evicts during a run (spec.md §4.2).
type Cache struct {
	loader Loader
	logger log.LibraryLogger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// New creates an empty Cache backed by loader.
func New(loader Loader, logger log.LibraryLogger) *Cache {
	return &Cache{
		loader:  loader,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
	}
}

// ErrUnknown wraps a negatively-cached construction failure; Get returns
// this (wrapping the original load error) rather than the raw loader
// error, so callers can recognize "this origin will never resolve" with
// errors.Is.
type ErrUnknown struct {
	Origin string
	Err    error
}

func (e *ErrUnknown) Error() string {
	return fmt.Sprintf("port cache: %s: construction failed: %v", e.Origin, e.Err)
}

func (e *ErrUnknown) Unwrap() error { return e.Err }

// Add idempotently ensures origin has a cache entry, inserting a pending
// marker and kicking off asynchronous attribute loading if none exists yet.
// It returns immediately; the Port object itself (and its DependHandler)
// exists synchronously on return, even though attributes may still be
// loading.
func (c *Cache) Add(origin string) *port.Port {
	return c.addEntry(origin).port
}

// addEntry is Add's implementation, returning the full cacheEntry (rather
// than just its Port) so construct can wait on a dependency's own done
// channel before deciding how to wire it.
func (c *Cache) addEntry(origin string) *cacheEntry {
	c.mu.Lock()
	if e, ok := c.entries[origin]; ok {
		c.mu.Unlock()
		return e
	}
	p := port.New(port.Origin(origin))
	p.SetLogger(depgraphLoggerAdapter{c.logger})
	e := &cacheEntry{port: p, done: make(chan struct{})}
	c.entries[origin] = e
	c.mu.Unlock()

	go c.construct(origin, e)
	return e
}

// lookup returns the entry for origin if present, without creating one.
func (c *Cache) lookup(origin string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[origin]
	return e, ok
}

// construct runs in its own goroutine per origin (spec.md §4.2's
// "asynchronous construction job"): loads attributes then, on success,
// fire-and-forget Adds every dependency origin so the graph expands
// without this goroutine waiting on any of it. Each edge is wired by its
// own waiter goroutine once the dependency's own load finishes — see
// waitAndWireDependency — rather than here, since whether an edge is real
// or stale isn't known until that load completes.
func (c *Cache) construct(origin string, e *cacheEntry) {
	defer close(e.done)

	attrs, err := c.loader.Load(origin, origin)
	if err != nil {
		e.err = err
		return
	}
	e.port.SetAttributes(attrs)

	for _, field := range []string{"FETCH_DEPENDS", "EXTRACT_DEPENDS", "PATCH_DEPENDS", "BUILD_DEPENDS", "LIB_DEPENDS", "RUN_DEPENDS"} {
		kind := fieldKind(field)
		for _, dep := range attrs.DependsOf(field) {
			peerEntry := c.addEntry(dep.Origin) // fire-and-forget: ensures peer exists/constructs
			go waitAndWireDependency(e.port, field, kind, peerEntry)
		}
	}
}

// waitAndWireDependency waits for a dependency's own construction to
// finish, then wires the edge onto holder's Handler — or, if the peer's
// attribute load failed (e.g. the origin isn't in the tree at all), wires
// a nil peer instead so AddDependency treats it as spec.md §4.4/§7's
// StaleDependency case (logged and skipped) rather than an edge onto a
// Handler that will sit Unresolved forever.
func waitAndWireDependency(holder *port.Port, field string, kind depgraph.Kind, peerEntry *cacheEntry) {
	<-peerEntry.done
	if peerEntry.err != nil {
		holder.Depends().AddDependency(field, kind, nil)
		return
	}
	holder.Depends().AddDependency(field, kind, peerEntry.port.Depends())
}

func fieldKind(field string) depgraph.Kind {
	switch field {
	case "FETCH_DEPENDS":
		return depgraph.Fetch
	case "EXTRACT_DEPENDS":
		return depgraph.Extract
	case "PATCH_DEPENDS":
		return depgraph.Patch
	case "BUILD_DEPENDS":
		return depgraph.Build
	case "LIB_DEPENDS":
		return depgraph.Lib
	case "RUN_DEPENDS":
		return depgraph.Run
	default:
		return depgraph.Build
	}
}

// Get blocks until origin's construction finishes (Adding it first if
// necessary), returning the constructed Port or an *ErrUnknown wrapping
// the load failure for a negatively-cached entry.
func (c *Cache) Get(ctx context.Context, origin string) (*port.Port, error) {
	e, ok := c.lookup(origin)
	if !ok {
		c.Add(origin)
		e, _ = c.lookup(origin)
	}

	select {
	case <-e.done:
		if e.err != nil {
			return nil, &ErrUnknown{Origin: origin, Err: e.err}
		}
		return e.port, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many origins have an entry (used by tests and the
// Monitor's package-count display).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// depgraphLoggerAdapter satisfies depgraph.Logger via log.LibraryLogger.
type depgraphLoggerAdapter struct {
	logger log.LibraryLogger
}

func (a depgraphLoggerAdapter) Warn(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Warn(format, args...)
}
