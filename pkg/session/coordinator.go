// Package session runs conversational interactions against a persisted turn log.
//
// A Coordinator owns the single-writer rule: one interaction per session at a time,
// working on a private clone of the last persisted snapshot. The clone is persisted
// exactly once when the interaction ends, or discarded when the caller cancels.
package session

import (
	"context"
	"io"
	"time"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/metrics"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/go-go-golems/bookchat/pkg/provider"
	"github.com/go-go-golems/bookchat/pkg/store"
	"github.com/go-go-golems/bookchat/pkg/stream"
	"github.com/go-go-golems/bookchat/pkg/tools"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FailurePolicy decides what a failed capability call leaves in the log besides the
// user turn.
type FailurePolicy string

const (
	// FailureSilent ends the interaction with only the user turn committed.
	FailureSilent FailurePolicy = "silent"
	// FailureSurface also commits an assistant text turn stating the failure.
	FailureSurface FailurePolicy = "surface"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailureSilent:
		return FailureSilent, nil
	case FailureSurface:
		return FailureSurface, nil
	}
	return "", errors.Errorf("unknown tool failure policy %q", s)
}

// Kind is the failure class of an error returned by the coordinator.
type Kind = apperrors.Kind

// Classify maps err to its failure kind. Errors from Submit and Resume always map to
// a known kind.
func Classify(err error) Kind {
	return apperrors.KindOf(err)
}

type Coordinator struct {
	provider   provider.ModelStream
	controller *tools.Controller
	executor   tools.Executor
	store      store.Store
	identity   identity.Resolver
	metrics    metrics.Recorder
	sinks      []events.EventSink
	prompt     *Prompt
	policy     FailurePolicy

	inflight *inflight
}

type Option func(*Coordinator) error

func WithIdentityResolver(r identity.Resolver) Option {
	return func(c *Coordinator) error {
		c.identity = r
		return nil
	}
}

// WithExecutor runs capability calls through exec instead of the controller registry.
func WithExecutor(exec tools.Executor) Option {
	return func(c *Coordinator) error {
		c.executor = exec
		return nil
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Coordinator) error {
		if m != nil {
			c.metrics = m
		}
		return nil
	}
}

// WithEventSinks adds sinks that receive every event of every interaction, after the
// sinks carried by the submit context.
func WithEventSinks(sinks ...events.EventSink) Option {
	return func(c *Coordinator) error {
		c.sinks = append(c.sinks, sinks...)
		return nil
	}
}

// WithSystemPrompt sets the system prompt template. Empty restores the default.
func WithSystemPrompt(text string) Option {
	return func(c *Coordinator) error {
		p, err := ParsePrompt(text)
		if err != nil {
			return err
		}
		c.prompt = p
		return nil
	}
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *Coordinator) error {
		if p != FailureSilent && p != FailureSurface {
			return errors.Errorf("unknown tool failure policy %q", p)
		}
		c.policy = p
		return nil
	}
}

// NewCoordinator returns a coordinator. Callers are resolved from the context by
// default, see identity.ContextResolver.
func NewCoordinator(p provider.ModelStream, controller *tools.Controller, st store.Store, options ...Option) (*Coordinator, error) {
	if p == nil {
		return nil, errors.New("session coordinator needs a model stream")
	}
	if controller == nil {
		return nil, errors.New("session coordinator needs a tool controller")
	}
	if st == nil {
		return nil, errors.New("session coordinator needs a store")
	}
	prompt, err := ParsePrompt("")
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		provider:   p,
		controller: controller,
		store:      st,
		identity:   identity.ContextResolver{},
		metrics:    metrics.Nop{},
		prompt:     prompt,
		policy:     FailureSilent,
		inflight:   newInflight(),
	}
	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Busy reports whether sessionID has an interaction in flight.
func (c *Coordinator) Busy(sessionID string) bool {
	return c.inflight.busy(sessionID)
}

// Submit runs one interaction: it appends userText to the session, streams the model
// response, runs at most one capability call and persists the result once. It returns
// the renders of the turns the interaction committed, starting with the user turn.
//
// When the provider, the response or the capability fails, only the user turn (plus a
// failure notice under FailureSurface) is persisted. Those renders are returned along
// with the classified error. When ctx is canceled nothing is persisted and the error
// is the context error.
//
// Unidentified callers get nothing and no error.
func (c *Coordinator) Submit(ctx context.Context, sessionID, userText string) ([]projector.RenderTurn, error) {
	who, ok := c.identity.Resolve(ctx)
	if !ok {
		log.Debug().Str("session_id", sessionID).Msg("submit without identity ignored")
		return nil, nil
	}
	if sessionID == "" {
		return nil, apperrors.InvalidState("submit with empty session id")
	}
	if !c.inflight.acquire(sessionID) {
		return nil, errors.Wrapf(apperrors.ErrSessionBusy, "session %s", sessionID)
	}
	defer c.inflight.release(sessionID)

	start := time.Now()
	renders, err := c.submit(ctx, who, sessionID, userText)
	c.metrics.ObserveInteraction(Classify(err), time.Since(start))
	return renders, err
}

func (c *Coordinator) submit(ctx context.Context, who identity.Identity, sessionID, userText string) ([]projector.RenderTurn, error) {
	interactionID := uuid.NewString()
	ctx = events.WithInteraction(ctx, sessionID, interactionID)
	ctx = events.WithEventSinks(ctx, c.sinks...)
	logger := log.With().Str("session_id", sessionID).Str("interaction_id", interactionID).Logger()

	base, err := c.loadForWrite(ctx, who, sessionID)
	if err != nil {
		c.publishError(ctx, err)
		return nil, err
	}

	userTurn := turnlog.NewUserTurn(userText)
	working := base.Clone()
	from := working.Len()
	if err := working.Append(userTurn); err != nil {
		c.publishError(ctx, err)
		return nil, err
	}
	events.PublishEventToContext(ctx, events.NewStartEvent(events.NewMetadata(ctx), userText))
	logger.Debug().Str("turn_id", userTurn.ID).Int("turns", from).Msg("interaction started")

	it := &interaction{c: c, log: working}
	err = it.run(ctx, who)

	if ctx.Err() != nil {
		logger.Info().Err(ctx.Err()).Msg("interaction canceled, nothing persisted")
		events.PublishEventToContext(ctx, events.NewInterruptEvent(events.NewMetadata(ctx), it.partial()))
		return nil, ctx.Err()
	}

	if err != nil {
		logger.Warn().Err(err).Str("kind", string(Classify(err))).Msg("interaction failed")
		failed := base.Clone()
		turns := []turnlog.Turn{userTurn}
		if c.policy == FailureSurface && errors.Is(err, apperrors.ErrToolExecutionFailed) {
			turns = append(turns, turnlog.NewAssistantTextTurn(failureNotice(err)))
		}
		if aerr := failed.AppendAll(turns...); aerr != nil {
			c.publishError(ctx, aerr)
			return nil, aerr
		}
		if perr := c.persist(ctx, failed); perr != nil {
			logger.Error().Err(perr).Msg("could not persist failed interaction")
		}
		c.publishError(ctx, err)
		return projector.ProjectFrom(failed, from), err
	}

	if err := c.persist(ctx, working); err != nil {
		if ctx.Err() != nil {
			events.PublishEventToContext(ctx, events.NewInterruptEvent(events.NewMetadata(ctx), it.partial()))
			return nil, ctx.Err()
		}
		c.publishError(ctx, err)
		return nil, err
	}

	renders := projector.ProjectFrom(working, from)
	events.PublishEventToContext(ctx, events.NewFinalEvent(events.NewMetadata(ctx), renders))
	logger.Debug().Int("turns", working.Len()).Int("renders", len(renders)).Msg("interaction committed")
	return renders, nil
}

// loadForWrite returns the last persisted snapshot, or a new log owned by who.
func (c *Coordinator) loadForWrite(ctx context.Context, who identity.Identity, sessionID string) (*turnlog.TurnLog, error) {
	l, err := c.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		l = turnlog.New(sessionID)
		l.UserID = who.UserID
		return l, nil
	case errors.Is(err, apperrors.ErrIntegrityViolation):
		return nil, err
	case err != nil:
		return nil, apperrors.PersistenceFailed("load session", err)
	}
	if l.UserID != "" && l.UserID != who.UserID {
		return nil, apperrors.InvalidState("session %s belongs to another user", sessionID)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.UserID == "" {
		l.UserID = who.UserID
	}
	return l, nil
}

func (c *Coordinator) persist(ctx context.Context, l *turnlog.TurnLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.store.Save(ctx, l)
	c.metrics.ObservePersist(err)
	if err != nil {
		if errors.Is(err, apperrors.ErrIntegrityViolation) {
			return err
		}
		return apperrors.PersistenceFailed("save session", err)
	}
	return nil
}

func (c *Coordinator) publishError(ctx context.Context, err error) {
	events.PublishEventToContext(ctx, events.NewErrorEvent(events.NewMetadata(ctx), string(Classify(err)), err))
}

func failureNotice(err error) string {
	var te *apperrors.ToolExecutionFailedError
	if errors.As(err, &te) {
		return "Sorry, " + te.CapabilityName + " failed: " + te.Cause.Error()
	}
	return "Sorry, the request failed: " + err.Error()
}

// Resume returns the renders of the persisted session. An unknown session has no
// renders. A snapshot that fails validation yields no renders and the integrity error.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) ([]projector.RenderTurn, error) {
	who, ok := c.identity.Resolve(ctx)
	if !ok {
		return nil, nil
	}
	if sessionID == "" {
		return nil, apperrors.InvalidState("resume with empty session id")
	}
	l, err := c.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return []projector.RenderTurn{}, nil
	case errors.Is(err, apperrors.ErrIntegrityViolation):
		log.Warn().Err(err).Str("session_id", sessionID).Msg("refusing to resume corrupted session")
		return nil, err
	case err != nil:
		return nil, apperrors.PersistenceFailed("load session", err)
	}
	if l.UserID != "" && l.UserID != who.UserID {
		return []projector.RenderTurn{}, nil
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return projector.Project(l), nil
}

// History lists the stored sessions of userID, newest first. An empty user id lists
// nothing.
func (c *Coordinator) History(ctx context.Context, userID string) ([]store.Summary, error) {
	if userID == "" {
		return nil, nil
	}
	ret, err := c.store.List(ctx, userID)
	if err != nil {
		return nil, apperrors.PersistenceFailed("list sessions", err)
	}
	return ret, nil
}

// interaction is the state of one model response being routed into the working log.
type interaction struct {
	c   *Coordinator
	log *turnlog.TurnLog
	acc *stream.Accumulation
}

func (it *interaction) partial() string {
	if it.acc == nil {
		return ""
	}
	return it.acc.Value()
}

func (it *interaction) request(ctx context.Context, who identity.Identity) (provider.Request, error) {
	system, err := it.c.prompt.Render(PromptData{
		UserID:    who.UserID,
		SessionID: it.log.SessionID,
		Now:       time.Now(),
	})
	if err != nil {
		return provider.Request{}, apperrors.InvalidState("system prompt: %v", err)
	}
	req := provider.Request{Messages: provider.MessagesFromLog(system, it.log)}
	for _, capability := range it.c.controller.Registry().List() {
		params, err := capability.ParametersJSON()
		if err != nil {
			return provider.Request{}, apperrors.InvalidState("capability %s schema: %v", capability.Name, err)
		}
		req.Capabilities = append(req.Capabilities, provider.CapabilitySpec{
			Name:        capability.Name,
			Description: capability.Description,
			Parameters:  params,
		})
	}
	return req, nil
}

// run streams one model response. Text is accumulated and committed as one assistant
// turn at stream end. A stream that closes before its end event failed. A capability call is begun when it arrives and resolved at
// stream end, so a response that turns out malformed never executes anything.
func (it *interaction) run(ctx context.Context, who identity.Identity) error {
	req, err := it.request(ctx, who)
	if err != nil {
		return err
	}
	s, err := it.c.provider.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.ProviderFailed("start model stream", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Debug().Err(err).Msg("closing model stream")
		}
	}()

	var (
		handle    *tools.PendingHandle
		finalText string
		ended     bool
	)
	defer func() { it.c.controller.Discard(handle) }()

loop:
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.ProviderFailed("receive model stream", err)
		}

		switch ev.Kind {
		case provider.EventTextDelta:
			if ev.Delta == "" {
				continue
			}
			if handle != nil {
				return apperrors.NewMalformedResponse(handle.CapabilityName, "text after capability call")
			}
			if it.acc == nil {
				it.acc = stream.Start(it.observer(ctx))
			}
			if _, err := it.acc.Push(ev.Delta); err != nil {
				return err
			}
		case provider.EventCapabilityCall:
			if ev.Call == nil {
				return apperrors.NewMalformedResponse("", "capability call event without call")
			}
			if handle != nil {
				return apperrors.NewMalformedResponse(ev.Call.Name, "more than one capability call")
			}
			if it.acc != nil && it.acc.Deltas() > 0 {
				return apperrors.NewMalformedResponse(ev.Call.Name, "text and capability call in one response")
			}
			if ev.Call.RawArguments != "" {
				return apperrors.NewMalformedResponse(ev.Call.Name, "arguments are not a JSON object")
			}
			handle, err = it.c.controller.Begin(ctx, it.log, ev.Call.ID, ev.Call.Name, ev.Call.Arguments)
			if err != nil {
				return err
			}
		case provider.EventStreamEnd:
			finalText = ev.FinalText
			ended = true
			break loop
		default:
			return apperrors.NewMalformedResponse("", "unknown stream event %q", ev.Kind)
		}
	}

	if !ended {
		return apperrors.ProviderFailed("receive model stream", io.ErrUnexpectedEOF)
	}

	if handle != nil {
		if finalText != "" {
			return apperrors.NewMalformedResponse(handle.CapabilityName, "text and capability call in one response")
		}
		_, err := it.c.controller.Resolve(ctx, handle, it.log, it.c.executor)
		it.c.metrics.ObserveCapabilityCall(handle.CapabilityName, err)
		return err
	}

	if it.acc == nil {
		it.acc = stream.Start(nil)
	}
	text, err := it.acc.Finish(finalText)
	if err != nil {
		return err
	}
	if text == "" {
		return apperrors.NewMalformedResponse("", "empty response")
	}
	return it.log.Append(turnlog.NewAssistantTextTurn(text))
}

// observer publishes every partial value with the render id the committed assistant
// turn will get.
func (it *interaction) observer(ctx context.Context) stream.Observer {
	var last string
	return func(partial string) {
		delta := partial[len(last):]
		last = partial
		events.PublishEventToContext(ctx, events.NewPartialEvent(events.NewMetadata(ctx), delta, partial, projector.StreamingRender(it.log, partial)))
	}
}
