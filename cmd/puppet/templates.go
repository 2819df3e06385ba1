package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"t"},
		Short:   "Inspect character templates",
	}

	var libDir string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List templates and characters in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			if libDir == "" {
				cfg, _, err := loadConfig(zerolog.Nop())
				if err != nil {
					return err
				}
				libDir = cfg.Library.Dir
			}
			lib, err := loadLibrary(libDir, zerolog.Nop())
			if err != nil {
				return err
			}
			printLibrary(cmd.OutOrStdout(), lib)
			return nil
		},
	}
	listCmd.Flags().StringVar(&libDir, "library", "", "character directory (default library.dir)")

	inspectCmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Show how tracker blendshapes resolve against a rig or catalog",
		Long:  "Load a .gltf, .glb or YAML catalog file and report which tracker categories reach a morph target.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpls, err := loadTemplates(args[0])
			if err != nil {
				return err
			}
			for _, t := range tmpls {
				printCoverage(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, inspectCmd)
	return cmd
}

func loadTemplates(path string) ([]*character.Template, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
		tmpl, _, err := character.LoadGLTF(path)
		if err != nil {
			return nil, err
		}
		return []*character.Template{tmpl}, nil
	case ".yaml", ".yml":
		cat, err := character.LoadYAML(path)
		if err != nil {
			return nil, err
		}
		return cat.Templates, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func printLibrary(w io.Writer, lib *character.Library) {
	tmpls := lib.Templates()
	chars := lib.Characters()
	if len(tmpls) == 0 && len(chars) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No templates or characters found."))
		return
	}

	fmt.Fprintln(w, titleStyle.Render("Templates"))
	for _, t := range tmpls {
		fmt.Fprintf(w, "  %s %s\n", t.ID, dimStyle.Render(fmt.Sprintf("(%d morph targets)", len(t.MorphTargets))))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("Characters"))
	for _, c := range chars {
		root, _ := c.RootBone()
		tmpl := c.TemplateID
		if tmpl == "" {
			tmpl = "-"
		}
		fmt.Fprintf(w, "  %s %s\n", c.ID, dimStyle.Render(fmt.Sprintf("template %s | %d bones | root %s", tmpl, len(c.Skeleton.Bones), root)))
	}
}

// coverage reports the morph ids each tracker category drives on t.
func coverage(t *character.Template) (hits map[string][]string, misses []string) {
	idx := t.MorphIndex()
	synonyms := mapper.DefaultSynonyms().Merge(mapper.SynonymTable(t.Synonyms))
	hits = make(map[string][]string)
	for _, name := range landmarks.CanonicalBlendshapes {
		if ids := synonyms.Targets(name, idx); len(ids) > 0 {
			hits[name] = ids
		} else {
			misses = append(misses, name)
		}
	}
	return hits, misses
}

func printCoverage(w io.Writer, t *character.Template) {
	hits, misses := coverage(t)
	fmt.Fprintln(w, titleStyle.Render(t.ID))
	fmt.Fprintf(w, "  %d morph targets, %d of %d tracker categories mapped\n",
		len(t.MorphTargets), len(hits), len(landmarks.CanonicalBlendshapes))
	for _, name := range landmarks.CanonicalBlendshapes {
		if ids, ok := hits[name]; ok {
			fmt.Fprintf(w, "  %s %s → %s\n", successStyle.Render("●"), name, strings.Join(ids, ", "))
		}
	}
	if len(misses) > 0 {
		fmt.Fprintln(w, dimStyle.Render("  unmapped: "+strings.Join(misses, ", ")))
	}
	fmt.Fprintln(w)
}
