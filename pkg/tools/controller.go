// Package tools runs model-requested capability calls and commits them to the turn log.
//
// A call goes through two explicit phases. Begin validates the request and emits a
// pending render without touching the log. Resolve runs the executor and, on success,
// appends the assistant call turn and the tool result turn together.
package tools

import (
	"context"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type HandleState int

const (
	HandlePending HandleState = iota
	HandleCommitted
	HandleDiscarded
)

func (s HandleState) String() string {
	switch s {
	case HandlePending:
		return "pending"
	case HandleCommitted:
		return "committed"
	case HandleDiscarded:
		return "discarded"
	}
	return "unknown"
}

// PendingHandle is a capability call that has been accepted but not resolved.
type PendingHandle struct {
	CallID         string
	CapabilityName string
	Arguments      map[string]any
	Render         projector.RenderTurn

	state HandleState
}

func (h *PendingHandle) State() HandleState { return h.state }

// Controller drives capability calls against a registry.
type Controller struct {
	registry *Registry
}

func NewController(registry *Registry) *Controller {
	return &Controller{registry: registry}
}

// Registry returns the capabilities offered by the controller.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Begin accepts a capability call requested by the model. callID may be empty, in
// which case one is generated. l is only read, to compute the pending render.
func (c *Controller) Begin(ctx context.Context, l *turnlog.TurnLog, callID, capabilityName string, args map[string]any) (*PendingHandle, error) {
	capability, ok := c.lookup(capabilityName)
	if !ok {
		return nil, apperrors.NewMalformedResponse(capabilityName, "unknown capability")
	}
	if err := capability.ValidateArgs(args); err != nil {
		return nil, apperrors.NewMalformedResponse(capability.Name, "invalid arguments: %v", err)
	}
	if callID == "" {
		callID = uuid.NewString()
	}
	if args == nil {
		args = map[string]any{}
	}

	h := &PendingHandle{
		CallID:         callID,
		CapabilityName: capability.Name,
		Arguments:      args,
		Render:         projector.PendingRender(l, capability.Name),
		state:          HandlePending,
	}
	log.Debug().Str("call_id", callID).Str("capability", capability.Name).Msg("capability call pending")
	events.PublishEventToContext(ctx, events.NewToolPendingEvent(events.NewMetadata(ctx), callID, capability.Name, args, h.Render))
	return h, nil
}

// Resolve executes the call and commits the call and result turns to l as one unit.
// exec may be nil to use the registry. On failure the handle is discarded and l is
// left untouched.
func (c *Controller) Resolve(ctx context.Context, h *PendingHandle, l *turnlog.TurnLog, exec Executor) (turnlog.ToolResultEntry, error) {
	if h == nil || h.state != HandlePending {
		state := "nil"
		if h != nil {
			state = h.state.String()
		}
		return turnlog.ToolResultEntry{}, apperrors.InvalidState("resolve of %s capability handle", state)
	}
	if exec == nil {
		exec = c.registry
	}

	result, err := exec.Execute(ctx, h.CapabilityName, h.Arguments)
	if err != nil {
		h.state = HandleDiscarded
		log.Warn().Err(err).Str("call_id", h.CallID).Str("capability", h.CapabilityName).Msg("capability call failed")
		return turnlog.ToolResultEntry{}, &apperrors.ToolExecutionFailedError{
			CapabilityName: h.CapabilityName,
			CallID:         h.CallID,
			Cause:          err,
		}
	}
	if err := ctx.Err(); err != nil {
		h.state = HandleDiscarded
		return turnlog.ToolResultEntry{}, err
	}

	entry := turnlog.ToolResultEntry{CallID: h.CallID, CapabilityName: h.CapabilityName, Result: result}
	from := l.Len()
	err = l.AppendAll(
		turnlog.NewToolCallTurn(turnlog.ToolCallEntry{CallID: h.CallID, CapabilityName: h.CapabilityName, Arguments: h.Arguments}),
		turnlog.NewToolResultTurn(entry),
	)
	if err != nil {
		h.state = HandleDiscarded
		return turnlog.ToolResultEntry{}, err
	}
	h.state = HandleCommitted

	log.Debug().Str("call_id", h.CallID).Str("capability", h.CapabilityName).Msg("capability call committed")
	events.PublishEventToContext(ctx, events.NewToolResultEvent(events.NewMetadata(ctx), h.CallID, h.CapabilityName, projector.ProjectFrom(l, from)))
	return entry, nil
}

// Discard abandons a pending handle.
func (c *Controller) Discard(h *PendingHandle) {
	if h != nil && h.state == HandlePending {
		h.state = HandleDiscarded
	}
}

func (c *Controller) lookup(name string) (*Capability, bool) {
	if c.registry == nil {
		return nil, false
	}
	return c.registry.Lookup(name)
}
