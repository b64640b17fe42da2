package main

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/ui"
	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	var (
		user   string
		asJSON bool
		width  int
	)
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Print the render turns of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(settings, identity.Static(user))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			renders, err := a.coordinator.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(renders)
			}
			if len(renders) == 0 {
				_, err = fmt.Fprintf(out, "session %s has no turns\n", args[0])
				return err
			}
			_, err = fmt.Fprintln(out, ui.NewRenderer(ui.DefaultStyles(), width).Turns(renders))
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user owning the session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print render turns as JSON")
	cmd.Flags().IntVar(&width, "width", 100, "wrap width")
	return cmd
}
