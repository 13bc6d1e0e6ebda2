package exchange

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Container is a thread-safe registry of statement sources keyed by name.
type Container struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewContainer creates and returns a new empty container.
func NewContainer() *Container {
	return &Container{
		sources: make(map[string]Source),
	}
}

// Register adds a source under its own name.
// If a source with the same name exists, it will be overwritten.
func (c *Container) Register(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[src.Name()] = src
}

// Get retrieves a source by name.
func (c *Container) Get(name string) (Source, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src, exists := c.sources[name]
	if !exists {
		return nil, fmt.Errorf("source %q not found", name)
	}
	return src, nil
}

// Names returns the registered source names in sorted order.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Sources returns the registered sources ordered by name.
func (c *Container) Sources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Source, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src)
	}
	slices.SortFunc(out, func(a, b Source) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

// Unregister removes a source from the container by name without closing it.
func (c *Container) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, name)
}

// Close closes every registered source and empties the container.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, src := range c.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	c.sources = make(map[string]Source)
	return errors.Join(errs...)
}

func (c *Container) Exists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sources[name]
	return exists
}
