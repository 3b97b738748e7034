// Package visualization renders the hop graph of recorded circuits.
package visualization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nvandessel/pathsim/internal/store"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatDOT, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown graph format %q (valid: dot, json)", s)
	}
}

// positionColors maps the first position a relay served to a DOT color.
var positionColors = map[string]string{
	"guard":  "steelblue",
	"middle": "goldenrod",
	"exit":   "tomato",
}

// Node is a relay that appears in at least one circuit.
type Node struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label"`
	Guard       int    `json:"guard"`
	Middle      int    `json:"middle"`
	Exit        int    `json:"exit"`
}

// role names the position the relay served most often.
func (n *Node) role() string {
	switch {
	case n.Guard >= n.Middle && n.Guard >= n.Exit:
		return "guard"
	case n.Middle >= n.Exit:
		return "middle"
	default:
		return "exit"
	}
}

// Edge counts circuits that used Source and Target as consecutive hops.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// Graph is the hop graph of a set of circuits.
type Graph struct {
	Circuits int     `json:"circuits"`
	Nodes    []*Node `json:"nodes"`
	Edges    []Edge  `json:"edges"`
}

// BuildGraph aggregates circuits into a hop graph. order > 0 keeps only the
// circuits of that order. labels maps fingerprints to display names;
// missing entries fall back to a shortened fingerprint.
func BuildGraph(circuits []store.CircuitRecord, order int, labels map[string]string) *Graph {
	g := &Graph{}
	nodes := make(map[string]*Node)
	edges := make(map[[2]string]int)

	node := func(fp string) *Node {
		n, ok := nodes[fp]
		if !ok {
			label := labels[fp]
			if label == "" {
				label = truncate(fp, 8)
			}
			n = &Node{Fingerprint: fp, Label: label}
			nodes[fp] = n
		}
		return n
	}

	for _, c := range circuits {
		if order > 0 && c.Order != order {
			continue
		}
		g.Circuits++
		node(c.Guard).Guard++
		node(c.Middle).Middle++
		node(c.Exit).Exit++
		edges[[2]string{c.Guard, c.Middle}]++
		edges[[2]string{c.Middle, c.Exit}]++
	}

	for _, n := range nodes {
		g.Nodes = append(g.Nodes, n)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Fingerprint < g.Nodes[j].Fingerprint })

	for k, count := range edges {
		g.Edges = append(g.Edges, Edge{Source: k[0], Target: k[1], Count: count})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Count != g.Edges[j].Count {
			return g.Edges[i].Count > g.Edges[j].Count
		}
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})
	return g
}

// RenderDOT produces a Graphviz DOT representation of g. Edge pen width
// scales with the share of circuits that used the edge.
func RenderDOT(g *Graph) string {
	var b strings.Builder
	b.WriteString("digraph pathsim {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, n := range g.Nodes {
		b.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q, tooltip=\"guard=%d middle=%d exit=%d\"];\n",
			n.Fingerprint, truncate(n.Label, 40), positionColors[n.role()], n.Guard, n.Middle, n.Exit))
	}
	b.WriteString("\n")

	for _, e := range g.Edges {
		width := 1.0
		if g.Circuits > 0 {
			width += 4 * float64(e.Count) / float64(g.Circuits)
		}
		b.WriteString(fmt.Sprintf("  %q -> %q [label=\"%d\", penwidth=%.2f];\n",
			e.Source, e.Target, e.Count, width))
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON-friendly representation of g.
func RenderJSON(g *Graph) map[string]any {
	return map[string]any{
		"circuits":   g.Circuits,
		"nodes":      g.Nodes,
		"edges":      g.Edges,
		"node_count": len(g.Nodes),
		"edge_count": len(g.Edges),
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
