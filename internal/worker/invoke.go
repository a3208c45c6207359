package worker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"time"

	"github.com/oriys/pulsar/internal/bindings"
	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/invocation"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/protocol"
)

func (d *Dispatcher) handleInvoke(ctx context.Context, sess *session, requestID string, req *protocol.InvocationRequest) *protocol.InvocationResponse {
	ctx = invocation.WithToken(ctx, req.InvocationID)
	ctx, span := observability.StartInvocationSpan(ctx, req)
	defer span.End()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.metrics.InvocationStarted()
	defer d.metrics.InvocationFinished()

	start := time.Now()
	logging.Op().DebugContext(ctx, "invocation started", "function_id", req.FunctionID, "request_id", requestID)

	resp := &protocol.InvocationResponse{InvocationID: req.InvocationID}
	info, ret, outputs, err := d.invoke(ctx, sess, req)
	elapsed := time.Since(start)

	entry := &logging.InvocationLog{
		RequestID:    requestID,
		InvocationID: req.InvocationID,
		TraceID:      observability.GetTraceID(ctx),
		SpanID:       observability.GetSpanID(ctx),
		FunctionID:   req.FunctionID,
		DurationMs:   elapsed.Milliseconds(),
		Success:      err == nil,
	}
	if info != nil {
		entry.Function = info.Name
		entry.Async = info.IsAsync
		span.SetAttributes(observability.AttrFunctionName.String(info.Name), observability.AttrAsync.Bool(info.IsAsync))
	}

	if err != nil {
		observability.SetSpanError(span, err)
		logging.Op().ErrorContext(ctx, "invocation failed", "function_id", req.FunctionID, "duration_ms", entry.DurationMs, "error", err)
		entry.Error = err.Error()
		resp.Result = failure(err)
	} else {
		observability.SetSpanOK(span)
		logging.Op().DebugContext(ctx, "invocation finished", "function_id", req.FunctionID, "duration_ms", entry.DurationMs)
		entry.Outputs = len(outputs)
		resp.ReturnValue = ret
		resp.OutputData = outputs
		resp.Result = protocol.Success()
	}

	d.metrics.RecordInvocation(req.FunctionID, entry.Async, elapsed, err == nil)
	if d.invLog != nil {
		d.invLog.Log(entry)
	}
	return resp
}

// invoke binds the request's inputs, runs the function and encodes its
// results. Nothing is returned on error.
func (d *Dispatcher) invoke(ctx context.Context, sess *session, req *protocol.InvocationRequest) (*functions.Info, *protocol.TypedData, []protocol.ParameterBinding, error) {
	info, err := sess.registry.Get(req.FunctionID)
	if err != nil {
		return nil, nil, nil, err
	}

	args := make(map[string]any, len(req.InputData)+len(info.OutputTypes)+1)
	for _, in := range req.InputData {
		ti, ok := info.InputTypes[in.Name]
		if !ok {
			return info, nil, nil, &bindings.DecodeError{Param: in.Name, Err: errors.New("no input binding declared")}
		}
		var meta map[string]protocol.TypedData
		if ti.Kind.IsTrigger() {
			meta = req.TriggerMetadata
		}
		v, err := d.codecs.Decode(ti, in.Data, meta)
		if err != nil {
			var de *bindings.DecodeError
			if errors.As(err, &de) {
				de.Param = in.Name
			}
			return info, nil, nil, err
		}
		args[in.Name] = v
	}

	if info.RequiresContext {
		args[bindings.ContextParam] = &bindings.Context{
			FunctionName:      info.Name,
			FunctionDirectory: info.Directory,
			InvocationID:      req.InvocationID,
		}
	}

	outs := make(map[string]*bindings.Out, len(info.OutputTypes))
	for name := range info.OutputTypes {
		o := &bindings.Out{}
		outs[name] = o
		args[name] = o
	}

	result, err := d.execute(ctx, info, args)
	if err != nil {
		return info, nil, nil, err
	}
	if isNil(result) {
		result = nil
	}
	if result != nil && !info.HasReturn() {
		return info, nil, nil, &ContractViolation{FunctionID: info.ID, Result: result}
	}

	names := make([]string, 0, len(outs))
	for name := range outs {
		names = append(names, name)
	}
	slices.Sort(names)
	var outputs []protocol.ParameterBinding
	for _, name := range names {
		v, ok := outs[name].Get()
		if !ok {
			continue
		}
		data, err := d.codecs.Encode(info.OutputTypes[name], v)
		if err != nil {
			return info, nil, nil, withEncodeParam(err, name)
		}
		outputs = append(outputs, protocol.ParameterBinding{Name: name, Data: data})
	}

	var ret *protocol.TypedData
	if info.HasReturn() && result != nil {
		data, err := d.codecs.Encode(*info.ReturnType, result)
		if err != nil {
			return info, nil, nil, withEncodeParam(err, bindings.ReturnParam)
		}
		ret = &data
	}
	return info, ret, outputs, nil
}

// execute runs async functions on the invocation goroutine and everything
// else on the sync pool.
func (d *Dispatcher) execute(ctx context.Context, info *functions.Info, args map[string]any) (any, error) {
	if info.IsAsync {
		return call(ctx, info.Func, args)
	}
	sink := logging.SinkFrom(ctx)
	// The body may outlive a timed-out invocation; it keeps the
	// environment lease until it returns.
	var finished func()
	if lease := envLeaseFrom(ctx); lease != nil {
		lease.retain()
		finished = lease.release
	}
	return d.pool.run(ctx, func(jobCtx context.Context) (any, error) {
		if sink != nil {
			jobCtx = logging.WithSink(jobCtx, sink)
		}
		return call(jobCtx, info.Func, args)
	}, finished)
}

func call(ctx context.Context, fn functions.Func, args map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if fn == nil {
		return nil, fmt.Errorf("function has no callable")
	}
	return fn(ctx, args)
}

// isNil reports whether v is nil or a typed nil such as a nil pointer
// stored in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func withEncodeParam(err error, name string) error {
	var ee *bindings.EncodeError
	if errors.As(err, &ee) {
		ee.Param = name
	}
	return err
}
