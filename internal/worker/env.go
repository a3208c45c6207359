package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// envGate serializes environment reloads against invocations. Invocations
// hold the shared side until their function body has returned, even when
// the invocation itself already timed out; a reload takes the exclusive
// side, so it waits for running bodies and none observes a half-applied
// reload.
type envGate struct {
	mu sync.RWMutex
}

// envLease is an invocation's hold on the shared side of the gate. It is
// reference counted so a pool job can keep it past the invocation.
type envLease struct {
	refs   atomic.Int32
	unlock func()
}

// enter admits one invocation.
func (g *envGate) enter() *envLease {
	g.mu.RLock()
	l := &envLease{unlock: g.mu.RUnlock}
	l.refs.Store(1)
	return l
}

func (l *envLease) retain() {
	l.refs.Add(1)
}

func (l *envLease) release() {
	if l.refs.Add(-1) == 0 {
		l.unlock()
	}
}

type envLeaseKey struct{}

func withEnvLease(ctx context.Context, l *envLease) context.Context {
	return context.WithValue(ctx, envLeaseKey{}, l)
}

func envLeaseFrom(ctx context.Context) *envLease {
	l, _ := ctx.Value(envLeaseKey{}).(*envLease)
	return l
}

// apply sets every variable in vars and, when dir is not empty, makes it the
// working directory. Keys are validated first, so an invalid request
// changes nothing.
func (g *envGate) apply(vars map[string]string, dir string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if err := validEnvKey(k); err != nil {
			return &EnvironmentError{Key: k, Err: err}
		}
		if strings.ContainsRune(vars[k], 0) {
			return &EnvironmentError{Key: k, Err: errors.New("value contains NUL")}
		}
		keys = append(keys, k)
	}
	if dir != "" {
		fi, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("function app directory: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("function app directory %s is not a directory", dir)
		}
	}
	slices.Sort(keys)

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		if err := os.Setenv(k, vars[k]); err != nil {
			return &EnvironmentError{Key: k, Err: err}
		}
	}
	if dir != "" {
		if err := os.Chdir(dir); err != nil {
			return fmt.Errorf("function app directory: %w", err)
		}
	}
	return nil
}

func validEnvKey(k string) error {
	switch {
	case k == "":
		return errors.New("empty name")
	case strings.ContainsAny(k, "=\x00"):
		return errors.New("name contains '=' or NUL")
	}
	return nil
}
