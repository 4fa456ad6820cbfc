package release

import (
	"fmt"
	"slices"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// ParseDOT reads release steps from a Graphviz digraph. Every node is a
// step: its "type" and "label" attributes map to the step fields and all
// other attributes become string config values. An edge a -> b means b
// needs a. Steps keep the order in which nodes first appear.
func ParseDOT(src string) ([]StepDefinition, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// A permissive collector accepts any attribute name; gographviz.Graph
	// would reject attributes Graphviz itself does not know.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	steps := make([]StepDefinition, 0, len(collector.order))
	index := make(map[string]int, len(collector.order))
	for _, id := range collector.order {
		attrs := collector.nodes[id]
		s := StepDefinition{
			ID:    id,
			Type:  StepType(attrs["type"]),
			Label: attrs["label"],
			Needs: []string{},
		}
		for k, v := range attrs {
			if k == "type" || k == "label" {
				continue
			}
			if s.Config == nil {
				s.Config = map[string]any{}
			}
			s.Config[k] = v
		}
		index[id] = len(steps)
		steps = append(steps, s)
	}

	for _, e := range collector.edges {
		i, ok := index[e.to]
		if !ok {
			return nil, fmt.Errorf("edge %q -> %q references an undeclared step", e.from, e.to)
		}
		if !slices.Contains(steps[i].Needs, e.from) {
			steps[i].Needs = append(steps[i].Needs, e.from)
		}
	}
	return steps, nil
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	order []string
	nodes map[string]map[string]string
	edges []rawEdge
}

func newDOTCollector() *dotCollector {
	return &dotCollector{nodes: make(map[string]map[string]string)}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	c.edges = append(c.edges, rawEdge{from: unquote(src), to: unquote(dst)})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, _, _ string) error { return nil }

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT identifier or value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}
