package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
	ctxKeyInteraction
)

// WithEventSinks attaches sinks to ctx, after any sinks already attached.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := GetEventSinks(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

// GetEventSinks returns the sinks attached to ctx.
func GetEventSinks(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

// PublishEventToContext publishes event to every sink attached to ctx. Sink errors are
// logged and otherwise ignored.
func PublishEventToContext(ctx context.Context, event Event) {
	sinks := GetEventSinks(ctx)
	if len(sinks) == 0 {
		log.Trace().Str("event_type", string(event.Type())).Msg("no event sinks in context")
		return
	}
	for _, sink := range sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("event sink failed")
		}
	}
}

type interaction struct {
	sessionID     string
	interactionID string
}

// WithInteraction records the session and interaction that events published under ctx
// belong to.
func WithInteraction(ctx context.Context, sessionID, interactionID string) context.Context {
	return context.WithValue(ctx, ctxKeyInteraction, interaction{sessionID: sessionID, interactionID: interactionID})
}

// NewMetadata returns fresh metadata for an event published under ctx.
func NewMetadata(ctx context.Context) EventMetadata {
	md := EventMetadata{ID: uuid.New()}
	if v, ok := ctx.Value(ctxKeyInteraction).(interaction); ok {
		md.SessionID = v.sessionID
		md.InteractionID = v.interactionID
	}
	return md
}
