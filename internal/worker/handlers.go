package worker

import (
	"context"
	"errors"
	"strconv"

	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/protocol"
)

func (d *Dispatcher) handleInit(ctx context.Context, sess *session, req *protocol.WorkerInitRequest) *protocol.WorkerInitResponse {
	prev := State(sess.state.Swap(int32(StateReady)))
	logging.Op().InfoContext(ctx, "worker initialized",
		"worker_id", d.workerID,
		"host_version", req.HostVersion,
		"reinit", prev == StateReady,
	)
	return &protocol.WorkerInitResponse{
		WorkerVersion: d.version,
		Capabilities: map[string]string{
			"RpcLog":           "true",
			"WorkerStatus":     "true",
			"TypedDataHttp":    "true",
			"SyncPoolSize":     strconv.Itoa(d.pool.Size()),
			"EnvironmentGated": "true",
		},
		Result: protocol.Success(),
	}
}

func (d *Dispatcher) handleLoad(ctx context.Context, sess *session, req *protocol.FunctionLoadRequest) *protocol.FunctionLoadResponse {
	resp := &protocol.FunctionLoadResponse{FunctionID: req.FunctionID}
	if err := d.load(ctx, sess, req); err != nil {
		logging.Op().ErrorContext(ctx, "function load failed",
			"function_id", req.FunctionID,
			"name", req.Metadata.Name,
			"error", err,
		)
		resp.Result = failure(err)
		return resp
	}
	logging.Op().InfoContext(ctx, "function loaded",
		"function_id", req.FunctionID,
		"name", req.Metadata.Name,
		"entry_point", req.Metadata.EntryPoint,
	)
	resp.Result = protocol.Success()
	return resp
}

func (d *Dispatcher) load(ctx context.Context, sess *session, req *protocol.FunctionLoadRequest) error {
	if sess.State() != StateReady {
		return ErrNotInitialized
	}
	if req.FunctionID == "" {
		return &functions.LoadError{Err: errors.New("function id is required")}
	}
	if d.loader == nil {
		return &functions.LoadError{FunctionID: req.FunctionID, Err: errors.New("no loader configured")}
	}
	// Checked up front so a duplicate never reaches the loader.
	if _, err := sess.registry.Get(req.FunctionID); err == nil {
		return &functions.LoadError{FunctionID: req.FunctionID, Err: functions.ErrAlreadyRegistered}
	}

	md := functions.MetadataFromProto(req.Metadata)
	ld, err := d.loader.Load(ctx, md)
	if err != nil {
		return &functions.LoadError{FunctionID: req.FunctionID, Err: err}
	}
	if _, err := sess.registry.Add(req.FunctionID, md, ld); err != nil {
		return &functions.LoadError{FunctionID: req.FunctionID, Err: err}
	}
	d.metrics.SetRegisteredFunctions(sess.registry.Len())
	return nil
}

func (d *Dispatcher) handleEnvironmentReload(ctx context.Context, req *protocol.FunctionEnvironmentReloadRequest) *protocol.FunctionEnvironmentReloadResponse {
	if err := d.env.apply(req.EnvironmentVariables, req.FunctionAppDirectory); err != nil {
		logging.Op().ErrorContext(ctx, "environment reload failed", "error", err)
		return &protocol.FunctionEnvironmentReloadResponse{Result: failure(err)}
	}
	logging.Op().InfoContext(ctx, "environment reloaded",
		"variables", len(req.EnvironmentVariables),
		"app_directory", req.FunctionAppDirectory,
	)
	return &protocol.FunctionEnvironmentReloadResponse{Result: protocol.Success()}
}
