// Package invocation carries the causal invocation token through units of
// work.
//
// A unit of work is a goroutine together with the context.Context it runs
// under. The token travels as a context value, so anything derived from an
// invocation's context sees it automatically. Goroutines that start from an
// unrelated context (pool workers, background loops) must re-attach it
// explicitly with Inherit before running invocation code.
//
//	ctx = invocation.WithToken(ctx, req.InvocationID)   // once, on receipt
//	...
//	jobCtx := invocation.Inherit(workerCtx, ctx)        // crossing into a pool goroutine
//	invocation.ID(jobCtx) == req.InvocationID
package invocation

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Origin records how a unit of work obtained its token.
type Origin int

const (
	OriginNone      Origin = iota // no token
	OriginExplicit                // set with WithToken
	OriginInherited               // copied from a parent unit with Inherit
)

func (o Origin) String() string {
	switch o {
	case OriginExplicit:
		return "explicit"
	case OriginInherited:
		return "inherited"
	default:
		return "none"
	}
}

// Token is the invocation correlation token.
type Token struct {
	ID     string
	Origin Origin
}

type tokenKey struct{}

// WithToken explicitly assigns id to the unit of work running under ctx.
// An empty id leaves ctx unchanged.
func WithToken(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, Token{ID: id, Origin: OriginExplicit})
}

// Inherit attaches parent's token to child. When parent carries no token,
// child is returned as is. The active trace span of parent is carried over
// too, so spans started under child nest below the invocation span.
func Inherit(child, parent context.Context) context.Context {
	tok, ok := FromContext(parent)
	if !ok {
		return child
	}
	child = context.WithValue(child, tokenKey{}, Token{ID: tok.ID, Origin: OriginInherited})
	if span := trace.SpanFromContext(parent); span.SpanContext().IsValid() {
		child = trace.ContextWithSpan(child, span)
	}
	return child
}

// FromContext returns the token of the unit of work running under ctx.
func FromContext(ctx context.Context) (Token, bool) {
	if ctx == nil {
		return Token{}, false
	}
	tok, ok := ctx.Value(tokenKey{}).(Token)
	if !ok || tok.ID == "" {
		return Token{}, false
	}
	return tok, true
}

// ID returns the invocation id carried by ctx, or "" when there is none.
func ID(ctx context.Context) string {
	tok, _ := FromContext(ctx)
	return tok.ID
}

// Go runs fn on a new goroutine. The goroutine starts from a detached
// context that inherits ctx's token; cancellation of ctx is still observed.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	child, cancel := context.WithCancel(Inherit(context.WithoutCancel(ctx), ctx))
	stop := context.AfterFunc(ctx, cancel)
	go func() {
		defer func() {
			stop()
			cancel()
		}()
		fn(child)
	}()
}
