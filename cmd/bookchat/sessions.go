package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/spf13/cobra"
)

func newSessionsCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions of a user, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(settings, identity.Static(user))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			summaries, err := a.coordinator.History(cmd.Context(), user)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tTURNS\tUPDATED\tTITLE")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.SessionID, s.Turns, s.UpdatedAt.Format(time.RFC3339), s.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user owning the sessions")
	return cmd
}
