// Package gateway serves analysis commands one at a time and streams their
// responses back to the caller.
package gateway

import (
	"encoding/json"

	"kana-backend/internal/shared/failure"
)

// Command types.
const (
	TypeInit             = "INIT"
	TypeRun              = "RUN"
	TypeLoad             = "LOAD"
	TypeExport           = "EXPORT"
	TypeSave             = "SAVE"
	TypeRemove           = "REMOVE"
	TypePreflight        = "PREFLIGHT_INPUT"
	TypeMarkersCluster   = "getMarkersForCluster"
	TypeGeneExpression   = "getGeneExpression"
	TypeAnnotation       = "getAnnotation"
	TypeCustomMarkers    = "computeCustomMarkers"
	TypeMarkersSelection = "getMarkersForSelection"
	TypeRemoveCustom     = "removeCustomMarkers"
	TypeAnimateTSNE      = "animateTSNE"
	TypeAnimateUMAP      = "animateUMAP"
)

// Command is one request to the worker.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorInfo describes a failed command. Fatal means the worker needs a new
// INIT before it can serve dependent commands.
type ErrorInfo struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind"`
	Fatal  bool   `json:"fatal"`
}

// Response is one message produced while serving a command. Exactly one
// response per command has Final set.
type Response struct {
	CommandID string     `json:"id"`
	Type      string     `json:"type"`
	Resp      any        `json:"resp,omitempty"`
	Iteration int        `json:"iteration,omitempty"`
	Msg       string     `json:"msg,omitempty"`
	Final     bool       `json:"final"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// Sink receives a command's responses. It may be called from more than one
// goroutine, but never concurrently for the same command.
type Sink interface {
	Send(Response)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Response)

func (f SinkFunc) Send(r Response) { f(r) }

func errorResponse(cmd Command, err error) Response {
	kind := failure.KindOf(err)
	if kind == failure.KindUnknown {
		kind = failure.KindStageExecution
	}
	return Response{
		CommandID: cmd.ID,
		Type:      cmd.Type + "_ERROR",
		Final:     true,
		Error: &ErrorInfo{
			Reason: err.Error(),
			Kind:   kind.String(),
			Fatal:  failure.IsFatal(err),
		},
	}
}
