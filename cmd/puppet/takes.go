package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/normanking/cortexpuppet/internal/takes"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func openTakes() (*takes.Store, error) {
	cfg, _, err := loadConfig(zerolog.Nop())
	if err != nil {
		return nil, err
	}
	return takes.Open(cfg.Takes.Path)
}

func takesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "takes",
		Short: "Browse recorded takes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded takes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTakes()
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListTakes(cmd.Context())
			if err != nil {
				return err
			}
			printTakes(cmd.OutOrStdout(), list)
			return nil
		},
	})

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show [take-id]",
		Short: "Show one take",
		Long:  "Show a take by id or id prefix. With --json the recorded frames are printed as JSON lines.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTakes()
			if err != nil {
				return err
			}
			defer store.Close()

			take, err := findTake(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			if !asJSON {
				printTake(cmd.OutOrStdout(), take)
				return nil
			}

			frames, err := store.Frames(cmd.Context(), take.ID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, f := range frames {
				if err := enc.Encode(f); err != nil {
					return err
				}
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print recorded frames as JSON lines")
	cmd.AddCommand(showCmd)

	return cmd
}

// findTake resolves a full id or a unique id prefix.
func findTake(ctx context.Context, store *takes.Store, id string) (*takes.Take, error) {
	if t, err := store.Take(ctx, id); err == nil {
		return t, nil
	}
	list, err := store.ListTakes(ctx)
	if err != nil {
		return nil, err
	}
	var found *takes.Take
	for _, t := range list {
		if strings.HasPrefix(t.ID, id) {
			if found != nil {
				return nil, fmt.Errorf("take id %q is ambiguous", id)
			}
			found = t
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", id, takes.ErrTakeNotFound)
	}
	return found, nil
}

func printTakes(w io.Writer, list []*takes.Take) {
	if len(list) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No takes recorded. Enable takes in the config and run 'puppet serve'."))
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Takes"))
	fmt.Fprintln(w)
	for _, t := range list {
		status := successStyle.Render("●")
		if t.FinishedAt == nil {
			status = dimStyle.Render("○")
		}
		fmt.Fprintf(w, "%s %s %s\n", status, t.ID[:min(8, len(t.ID))], t.CharacterID)
		fmt.Fprintf(w, "  %s\n", dimStyle.Render(fmt.Sprintf("%s | %d frames | %s",
			t.StartedAt.Local().Format("2006-01-02 15:04:05"), t.FrameCount, takeDuration(t))))
	}
}

func printTake(w io.Writer, t *takes.Take) {
	fmt.Fprintln(w, titleStyle.Render("Take "+t.ID))
	fmt.Fprintf(w, "  Session:   %s\n", t.SessionID)
	fmt.Fprintf(w, "  Character: %s\n", t.CharacterID)
	if t.TemplateID != "" {
		fmt.Fprintf(w, "  Template:  %s\n", t.TemplateID)
	}
	fmt.Fprintf(w, "  Started:   %s\n", t.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Frames:    %d\n", t.FrameCount)
	fmt.Fprintf(w, "  Duration:  %s\n", takeDuration(t))
}

func takeDuration(t *takes.Take) string {
	if t.FinishedAt == nil {
		return "recording"
	}
	return t.FinishedAt.Sub(t.StartedAt).Round(time.Millisecond).String()
}
