package release

import (
	"fmt"
	"sort"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// truncate shortens s to maxLen runes, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// RenderPlanText produces the human-readable plan summary.
func RenderPlanText(componentID string, p *ExecutionPlan) string {
	var sb strings.Builder

	state := "enabled"
	if !p.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(&sb, "Release plan: %s  (%d steps, %s)\n", componentID, len(p.Steps), state)

	maxIDLen := 4
	for _, s := range p.Steps {
		if len(s.ID) > maxIDLen {
			maxIDLen = len(s.ID)
		}
	}

	fmt.Fprintf(&sb, "\nSteps:\n")
	for i, s := range p.Steps {
		needs := "-"
		if len(s.Needs) > 0 {
			needs = strings.Join(s.Needs, ",")
		}
		fmt.Fprintf(&sb, "  %2d. %-*s  %-14s  needs=%s%s\n",
			i+1, maxIDLen, s.ID, string(s.Type), needs, configSuffix(s.Config))
	}

	writeList(&sb, "Warnings", p.Warnings)
	writeList(&sb, "Hints", p.Hints)
	return sb.String()
}

// RenderRunText produces the human-readable run summary.
func RenderRunText(componentID string, r *RunResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Release run: %s  status=%s\n", componentID, r.Status)
	fmt.Fprintf(&sb, "  %d steps: %d succeeded, %d failed, %d skipped, %d missing\n",
		r.Summary.TotalSteps, r.Summary.Succeeded, r.Summary.Failed, r.Summary.Skipped, r.Summary.Missing)

	maxIDLen := 4
	for _, s := range r.Steps {
		if len(s.ID) > maxIDLen {
			maxIDLen = len(s.ID)
		}
	}
	fmt.Fprintf(&sb, "\nSteps:\n")
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %-*s  %-8s", maxIDLen, s.ID, s.Status)
		if s.Error != "" {
			line += "  " + truncate(s.Error, 80)
		}
		sb.WriteString(line + "\n")
	}

	writeList(&sb, "Next actions", r.Summary.NextActions)
	writeList(&sb, "Warnings", r.Warnings)
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "  - %s\n", it)
	}
}

func configSuffix(cfg map[string]any) string {
	if len(cfg) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + truncate(fmt.Sprint(cfg[k]), 40)
	}
	return "  " + strings.Join(parts, " ")
}

// RenderPlanDOT renders the plan as a Graphviz digraph with edges pointing
// from a dependency to its dependent.
func RenderPlanDOT(name string, p *ExecutionPlan) (string, error) {
	if name == "" {
		name = "release"
	}
	g := gographviz.NewEscape()
	if err := g.SetName(name); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(name, "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, s := range p.Steps {
		attrs := map[string]string{
			"label": fmt.Sprintf("%s\\n(%s)", s.DisplayName(), s.Type),
			"shape": "box",
		}
		if !s.Type.IsBuiltin() {
			attrs["style"] = "dashed"
		}
		if err := g.AddNode(name, s.ID, attrs); err != nil {
			return "", fmt.Errorf("render step %q: %w", s.ID, err)
		}
	}
	for _, s := range p.Steps {
		for _, n := range s.Needs {
			if err := g.AddEdge(n, s.ID, true, nil); err != nil {
				return "", fmt.Errorf("render edge %q -> %q: %w", n, s.ID, err)
			}
		}
	}
	return g.String(), nil
}
