package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/keel/pkg/component"
	"github.com/ravi-parthasarathy/keel/pkg/extension"
)

type componentSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	LocalPath      string   `json:"local_path"`
	ReleaseEnabled bool     `json:"release_enabled"`
	Steps          int      `json:"steps"`
	Extensions     []string `json:"extensions,omitempty"`
}

func componentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "component",
		Short: "Inspect component definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the components in the components directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store := component.NewStore(a.cfg.ComponentsDir)
			ids, err := store.List()
			if err != nil {
				return usageErr(err)
			}
			out := make([]componentSummary, 0, len(ids))
			for _, id := range ids {
				c, err := store.Load(id)
				if err != nil {
					return usageErr(err)
				}
				s := componentSummary{
					ID:             c.ID,
					Name:           c.Name,
					LocalPath:      c.LocalPath,
					ReleaseEnabled: c.Release.Enabled,
					Steps:          len(c.Release.Steps),
					Extensions:     c.Extensions,
				}
				if c.Release.StepsFile != "" {
					if cfg, err := c.PipelineConfig(); err == nil {
						s.Steps = len(cfg.Steps)
					}
				}
				out = append(out, s)
			}
			return a.emit(envelope{Command: "component", Result: out})
		},
	})
	return cmd
}

type extensionSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Version    string   `json:"version,omitempty"`
	Dir        string   `json:"dir"`
	Components []string `json:"components,omitempty"`
	Actions    []string `json:"actions"`
}

func extensionCmd(a *app) *cobra.Command {
	var componentID string
	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Inspect installed extensions",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List installed extensions and their actions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			catalog, err := extension.LoadDir(a.cfg.ExtensionsDir)
			if err != nil {
				return usageErr(err)
			}
			if componentID != "" {
				c, err := component.NewStore(a.cfg.ComponentsDir).Load(componentID)
				if err != nil {
					return usageErr(err)
				}
				catalog = catalog.Compatible(c.ID, c.Extensions)
			}
			manifests := catalog.List()
			out := make([]extensionSummary, 0, len(manifests))
			for _, m := range manifests {
				s := extensionSummary{
					ID:         m.ID,
					Name:       m.Name,
					Version:    m.Version,
					Dir:        m.Dir,
					Components: m.Components,
					Actions:    make([]string, 0, len(m.Actions)),
				}
				for _, act := range m.Actions {
					s.Actions = append(s.Actions, act.ID)
				}
				sort.Strings(s.Actions)
				out = append(out, s)
			}
			return a.emit(envelope{Command: "extension", Result: out})
		},
	}
	list.Flags().StringVar(&componentID, "component", "", "only list extensions usable by this component")
	cmd.AddCommand(list)
	return cmd
}
