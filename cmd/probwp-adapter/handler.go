// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"encoding/json"

	"github.com/sourcegraph/jsonrpc2"

	"probwp/internal/debugger"
	"probwp/internal/errdefs"
)

// handler wires JSON-RPC methods to façade calls. It holds the debugger, and
// dispatch maps each method name to one façade method through a switch.
type handler struct {
	d *debugger.Debugger
}

func (h *handler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	result, err := h.dispatch(ctx, req)
	if err != nil {
		if rpcErr, ok := err.(*jsonrpc2.Error); ok {
			return nil, rpcErr
		}
		return nil, rpcError(err)
	}
	return result, nil
}

func (h *handler) dispatch(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "stepOver":
		return nil, h.d.StepOver(ctx)
	case "stepInto":
		var params struct {
			Branch bool `json:"branch"`
		}
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return nil, h.d.StepInto(ctx, params.Branch)
	case "runUntilEnd":
		return nil, h.d.RunUntilEnd(ctx)
	case "saveState":
		h.d.SaveState()
		return nil, nil
	case "restoreState":
		return nil, h.d.RestoreState()
	case "variableValues":
		var params struct {
			Distribute bool `json:"distribute"`
		}
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		handling := debugger.Drop
		if params.Distribute {
			handling = debugger.Distribute
		}
		return h.d.VariableValues(ctx, handling)
	case "slice":
		var params struct {
			Variable string `json:"variable"`
		}
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return h.d.Slice(ctx, params.Variable)
	case "position":
		return h.d.Current().Position, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method " + req.Method}
	}
}

func unmarshalParams(req *jsonrpc2.Request, out any) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, out); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// rpcError maps a façade sentinel error to a stable JSON-RPC error code, so
// a front end can distinguish "infeasible branch" from "programmer error"
// without string-matching the message (§7).
func rpcError(err error) *jsonrpc2.Error {
	switch {
	case errdefs.Is(err, errdefs.InfeasibleBranch):
		return &jsonrpc2.Error{Code: 1, Message: err.Error()}
	case errdefs.Is(err, errdefs.AlreadyTerminated):
		return &jsonrpc2.Error{Code: 2, Message: err.Error()}
	case errdefs.Is(err, errdefs.NoSavedState):
		return &jsonrpc2.Error{Code: 3, Message: err.Error()}
	case errdefs.Is(err, errdefs.UnknownVariable):
		return &jsonrpc2.Error{Code: 4, Message: err.Error()}
	default:
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
	}
}
