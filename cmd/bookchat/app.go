package main

import (
	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/go-go-golems/bookchat/pkg/capabilities/searchbooks"
	"github.com/go-go-golems/bookchat/pkg/config"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/helpers"
	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/metrics"
	"github.com/go-go-golems/bookchat/pkg/provider"
	"github.com/go-go-golems/bookchat/pkg/provider/openai"
	"github.com/go-go-golems/bookchat/pkg/provider/scripted"
	"github.com/go-go-golems/bookchat/pkg/session"
	"github.com/go-go-golems/bookchat/pkg/store"
	"github.com/go-go-golems/bookchat/pkg/tools"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// app holds the collaborators shared by every command.
type app struct {
	coordinator *session.Coordinator
	store       store.Store
	metrics     *metrics.Metrics
	router      *events.EventRouter
	grapher     books.Grapher
}

func newApp(s *config.Settings, resolver identity.Resolver) (*app, error) {
	st, err := newStore(s.Store)
	if err != nil {
		return nil, err
	}
	ret := &app{store: st, metrics: metrics.New()}

	p, err := newProvider(s.Provider)
	if err != nil {
		_ = ret.Close()
		return nil, err
	}

	var caps []*tools.Capability
	if s.Books.SearchURL != "" || s.Books.GraphURL != "" {
		client := books.NewClient(s.Books.SearchURL, s.Books.GraphURL, books.WithTimeout(s.Books.Timeout))
		if s.Books.SearchURL != "" {
			c, err := searchbooks.New(client)
			if err != nil {
				_ = ret.Close()
				return nil, err
			}
			caps = append(caps, c)
		}
		if s.Books.GraphURL != "" {
			ret.grapher = client
		}
	}
	if len(caps) == 0 {
		log.Warn().Msg("no book search endpoint configured, the model gets no capabilities")
	}
	registry, err := tools.NewRegistry(caps...)
	if err != nil {
		_ = ret.Close()
		return nil, err
	}

	ret.router, err = events.NewEventRouter(
		events.WithLogger(helpers.NewWatermill(log.Logger)),
		events.WithVerbose(s.Events.Verbose),
	)
	if err != nil {
		_ = ret.Close()
		return nil, err
	}
	ret.router.AddHandler("metrics", events.DefaultTopic, ret.metrics.EventCounter)
	ret.router.AddEventHandler("log", events.DefaultTopic, func(e events.Event) error {
		log.Trace().Str("event_type", string(e.Type())).Str("session_id", e.Metadata().SessionID).Msg("session event")
		return nil
	})

	policy, err := session.ParseFailurePolicy(s.Session.ToolFailurePolicy)
	if err != nil {
		_ = ret.Close()
		return nil, err
	}
	ret.coordinator, err = session.NewCoordinator(p, tools.NewController(registry), st,
		session.WithIdentityResolver(resolver),
		session.WithMetrics(ret.metrics),
		session.WithEventSinks(ret.router.Sink(events.DefaultTopic)),
		session.WithSystemPrompt(s.Session.SystemPrompt),
		session.WithFailurePolicy(policy),
	)
	if err != nil {
		_ = ret.Close()
		return nil, err
	}
	return ret, nil
}

func newStore(s config.StoreSettings) (store.Store, error) {
	switch s.Driver {
	case "memory":
		return store.NewInMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(s.DSN)
	case "yaml":
		return store.NewYAMLDirStore(s.Dir)
	}
	return nil, errors.Errorf("unknown store driver %q", s.Driver)
}

func newProvider(s config.ProviderSettings) (provider.ModelStream, error) {
	switch s.Driver {
	case "openai":
		return openai.New(openai.Settings{
			APIKey:      s.APIKey,
			BaseURL:     s.BaseURL,
			Model:       s.Model,
			Temperature: s.Temperature,
		})
	case "scripted":
		script, err := scripted.LoadScript(s.Script)
		if err != nil {
			return nil, err
		}
		return scripted.New(*script), nil
	}
	return nil, errors.Errorf("unknown provider driver %q", s.Driver)
}

func (a *app) Close() error {
	var result *multierror.Error
	if a.router != nil {
		if err := a.router.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
