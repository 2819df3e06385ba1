// Package main is the entry point for the cortexpuppet CLI. It serves live
// face tracking to rigged characters and replays recorded takes.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	cfgPath string
	noColor bool

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "puppet",
		Short: "cortexpuppet - drive rigged characters from face tracking",
		Long: titleStyle.Render("cortexpuppet") + `

Maps face landmarks and blendshape scores from a tracker onto a character's
morph targets and head bone:
  • Live websocket tracking sessions with smoothing
  • Characters from glTF rigs and YAML catalogs
  • Recorded takes, replayable offline

` + dimStyle.Render("Use 'puppet [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				lipgloss.SetColorProfile(termenv.Ascii)
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexpuppet/config.yaml)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cortexpuppet %s\n", version)
		},
	})

	root.AddCommand(serveCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(templatesCmd())
	root.AddCommand(takesCmd())

	return root
}

// loadConfig reads the config named by --config.
func loadConfig(log zerolog.Logger) (*config.Config, *config.Loader, error) {
	loader, err := config.NewLoader(cfgPath, log)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// loadLibrary loads the character library from dir. A missing directory
// yields an empty library.
func loadLibrary(dir string, log zerolog.Logger) (*character.Library, error) {
	lib := character.NewLibrary(log)
	if dir == "" {
		return lib, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Warn().Str("dir", dir).Msg("character directory not found")
		return lib, nil
	}
	if _, err := lib.LoadDir(dir); err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}
	return lib, nil
}
