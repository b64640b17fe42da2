package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/ui"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func newChatCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Chat in the terminal, starting or resuming a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(settings, identity.Static(user))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sessionID := uuid.NewString()
			if len(args) == 1 {
				sessionID = args[0]
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			history, err := a.coordinator.Resume(ctx, sessionID)
			if err != nil {
				return errors.Wrapf(err, "resume session %s", sessionID)
			}
			log.Debug().Str("session_id", sessionID).Int("turns", len(history)).Msg("starting chat")

			model := ui.NewModel(ctx, a.coordinator, sessionID, history)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
			a.router.AddHandler("ui", events.DefaultTopic, ui.ForwardFunc(p))

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return a.router.Run(ctx)
			})
			eg.Go(func() error {
				defer cancel()
				select {
				case <-a.router.Running():
				case <-ctx.Done():
					return nil
				}
				_, err := p.Run()
				return err
			})
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user owning the session")
	return cmd
}
