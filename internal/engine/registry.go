package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBackend is always compiled in.
const DefaultBackend = "reference"

// ErrUnknownBackend is returned by Open for a backend that was not compiled in.
var ErrUnknownBackend = errors.New("engine: unknown backend")

// Options are passed to a backend factory.
type Options struct {
	// Threads caps the worker threads of native backends (0 = all cores).
	Threads int
	// Language hints backends that need one; "auto" or "" detects it.
	Language string
	Logger   zerolog.Logger
}

// Factory builds an Engine. Backends register one from an init function.
type Factory func(opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available to Open. Registering a name twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name = strings.ToLower(strings.TrimSpace(name))
	if _, dup := registry[name]; dup {
		panic("engine: backend registered twice: " + name)
	}
	registry[name] = f
}

// Open instantiates the named backend; an empty name selects DefaultBackend.
func Open(name string, opts Options) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultBackend
	}
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownBackend, name, strings.Join(Backends(), ", "))
	}
	return f(opts)
}

// Backends lists the compiled-in backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
