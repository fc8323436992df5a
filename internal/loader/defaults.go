package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	// DefaultName is the name of the process-default context
	DefaultName = "default"

	// ExtensionsName is the name of the platform-extension context
	ExtensionsName = "extensions"
)

// ErrSealed is returned when built-in providers are registered after the
// process-default context has been constructed.
var ErrSealed = errors.New("default loading context already initialized")

var (
	initMu     sync.Mutex
	extensions *Context
	defaultCtx *Context
	builtins   = make(map[string][]string)
)

// Extensions returns the platform-extension context: the root of the
// context hierarchy. The same handle is returned on every call.
func Extensions() *Context {
	initMu.Lock()
	defer initMu.Unlock()
	return extensionsLocked()
}

// Default returns the process-default context, whose parent is
// Extensions(). Providers registered through RegisterBuiltin before the
// first call are declared by it. The same handle is returned on every call.
func Default() *Context {
	initMu.Lock()
	defer initMu.Unlock()

	if defaultCtx == nil {
		defaultCtx = New(DefaultName, extensionsLocked(), WithDeclarations(builtins))
		slog.Debug("Initialized default loading context", "contracts", len(builtins))
	}
	return defaultCtx
}

// Caller must hold initMu.
func extensionsLocked() *Context {
	if extensions == nil {
		extensions = New(ExtensionsName, nil)
	}
	return extensions
}

// RegisterBuiltin declares a provider compiled into the process as part of
// the default context. It must be called before Default() is first used,
// typically from an init function.
func RegisterBuiltin(contract, provider string) error {
	if contract == "" || provider == "" {
		return fmt.Errorf("contract and provider names are required")
	}

	initMu.Lock()
	defer initMu.Unlock()

	if defaultCtx != nil {
		return fmt.Errorf("register %s for %s: %w", provider, contract, ErrSealed)
	}
	builtins[contract] = append(builtins[contract], provider)
	return nil
}
