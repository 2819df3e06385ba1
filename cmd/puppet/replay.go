package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/normanking/cortexpuppet/internal/takes"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// maxFrameLine bounds one JSON frame line; a full mesh is a few tens of KB.
const maxFrameLine = 4 << 20

// replayLine is one output line. Result is null for frames without a face.
type replayLine struct {
	Seq    uint64         `json:"seq"`
	Result *mapper.Result `json:"result"`
}

type replayStats struct {
	Frames int
	Mapped int
	NoFace int
}

// frameSource yields frames in order and io.EOF when exhausted.
type frameSource func() (*landmarks.Frame, error)

func jsonlSource(r io.Reader) frameSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameLine)
	line := 0
	return func() (*landmarks.Frame, error) {
		for sc.Scan() {
			line++
			data := sc.Bytes()
			if len(data) == 0 {
				continue
			}
			var f landmarks.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			return &f, nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

func takeSource(frames []takes.Frame) frameSource {
	i := 0
	return func() (*landmarks.Frame, error) {
		if i >= len(frames) {
			return nil, io.EOF
		}
		f := frames[i].Input
		i++
		return f, nil
	}
}

// replay maps every frame from next through m, carrying character state
// forward, and writes one JSON line per frame to w.
func replay(next frameSource, w io.Writer, m *mapper.Mapper, char *character.Character, tmpl *character.Template) (replayStats, error) {
	var stats replayStats
	enc := json.NewEncoder(w)

	for {
		f, err := next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		stats.Frames++

		res := m.MapToCharacter(f, char, tmpl)
		if res == nil {
			stats.NoFace++
		} else {
			stats.Mapped++
			char = res.Apply(char)
		}
		if err := enc.Encode(replayLine{Seq: uint64(stats.Frames), Result: res}); err != nil {
			return stats, err
		}
	}
}

func replayCmd() *cobra.Command {
	var (
		characterID string
		templateID  string
		takeID      string
		libDir      string
		noSmoothing bool
	)

	cmd := &cobra.Command{
		Use:   "replay [frames.jsonl]",
		Short: "Map recorded frames offline",
		Long: `Map landmark frames through a fresh mapper and print one JSON result per line.
Frames come from a JSON lines file ('-' for stdin) or, with --take, from a
recorded take.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(zerolog.Nop())
			if err != nil {
				return err
			}
			if libDir == "" {
				libDir = cfg.Library.Dir
			}

			var next frameSource
			switch {
			case takeID != "":
				store, err := takes.Open(cfg.Takes.Path)
				if err != nil {
					return err
				}
				defer store.Close()

				ctx := context.Background()
				take, err := store.Take(ctx, takeID)
				if err != nil {
					return err
				}
				frames, err := store.Frames(ctx, takeID)
				if err != nil {
					return err
				}
				if characterID == "" {
					characterID = take.CharacterID
					if templateID == "" {
						templateID = take.TemplateID
					}
				}
				next = takeSource(frames)

			case len(args) == 1 && args[0] != "-":
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				next = jsonlSource(file)

			default:
				next = jsonlSource(cmd.InOrStdin())
			}

			if characterID == "" {
				characterID = cfg.Library.DefaultCharacter
			}
			if characterID == "" {
				return fmt.Errorf("no character given; use --character or set library.default_character")
			}

			lib, err := loadLibrary(libDir, zerolog.Nop())
			if err != nil {
				return err
			}
			char, tmpl, err := lib.Resolve(characterID, templateID)
			if err != nil {
				return fmt.Errorf("%s: %w", characterID, err)
			}

			mcfg := cfg.Mapping.Config
			if noSmoothing {
				mcfg.Smoothing = false
			}
			opts := []mapper.Option{mapper.WithFilterParams(cfg.Mapping.Filter)}
			if len(cfg.Mapping.Synonyms) > 0 {
				opts = append(opts, mapper.WithSynonyms(mapper.SynonymTable(cfg.Mapping.Synonyms)))
			}
			m := mapper.New(mcfg, opts...)

			stats, err := replay(next, cmd.OutOrStdout(), m, char, tmpl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render(fmt.Sprintf(
				"%d frames, %d mapped, %d without a face", stats.Frames, stats.Mapped, stats.NoFace)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&characterID, "character", "c", "", "character id (default library.default_character, or the take's character)")
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id (default the character's own)")
	cmd.Flags().StringVar(&takeID, "take", "", "replay a recorded take instead of a file")
	cmd.Flags().StringVar(&libDir, "library", "", "character directory (default library.dir)")
	cmd.Flags().BoolVar(&noSmoothing, "no-smoothing", false, "disable morph smoothing")
	return cmd
}
