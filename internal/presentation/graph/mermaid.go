package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/script"
)

// Overlay contains runtime data to visualize on the graph.
type Overlay struct {
	Visited  []string
	Playhead string
}

// OverlayFromCheckpoint marks the actions a checkpoint has state for as visited.
func OverlayFromCheckpoint(cp *domain.Checkpoint) *Overlay {
	if cp == nil {
		return nil
	}
	o := &Overlay{}
	for id := range cp.Actions {
		o.Visited = append(o.Visited, id)
	}
	sort.Strings(o.Visited)
	if cp.Playhead != nil {
		o.Playhead = cp.Playhead.ActionID
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a script: one subgraph per
// context, solid edges for sibling order and dotted edges into children.
// Shapes:
// - Condition (Flow.if, Flow.while, Flow.find, Flow.expect): {Rhombus}
// - Loop (Flow.each): [[Subroutine]]
// - Input / output (Data.*): [/Parallelogram/]
// - Terminal (Flow.success, Flow.fail, Flow.leaveContext): ((Circle))
// - Default: [Rectangle]
func GenerateMermaid(s *script.Script, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, c := range s.Contexts {
		title := c.ID
		if c.Name != "" {
			title = c.Name
		}
		fmt.Fprintf(&sb, "    subgraph %s[\"%s\"]\n", sanitizeMermaidID("ctx_"+c.ID), escape(title))
		writeActions(&sb, s, c.Actions)
		sb.WriteString("    end\n")
	}

	s.Walk(func(a *script.Action, depth int) bool {
		if next, ok := s.NextSibling(a); ok {
			fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(a.ID), sanitizeMermaidID(next.ID))
		}
		if len(a.Children) > 0 {
			fmt.Fprintf(&sb, "    %s -.-> %s\n", sanitizeMermaidID(a.ID), sanitizeMermaidID(a.Children[0]))
		}
		return true
	})

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Visited {
			if _, ok := s.Action(id); !ok || seen[id] || id == overlay.Playhead {
				continue
			}
			seen[id] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeMermaidID(id))
		}
		if _, ok := s.Action(overlay.Playhead); ok {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Playhead))
		}
	}

	return sb.String()
}

func writeActions(sb *strings.Builder, s *script.Script, ids []string) {
	for _, id := range ids {
		a, ok := s.Action(id)
		if !ok {
			continue
		}
		opener, closer := shape(a.Type)
		label := a.Type
		if a.Label != "" {
			label = a.Label + "<br/>" + a.Type
		}
		fmt.Fprintf(sb, "        %s%s\"%s\"%s\n", sanitizeMermaidID(a.ID), opener, escape(label), closer)
		writeActions(sb, s, a.Children)
	}
}

func shape(typ string) (string, string) {
	switch typ {
	case "Flow.if", "Flow.while", "Flow.find", "Flow.expect":
		return "{", "}"
	case "Flow.each":
		return "[[", "]]"
	case "Flow.success", "Flow.fail", "Flow.leaveContext":
		return "((", "))"
	}
	if strings.HasPrefix(typ, "Data.") {
		return "[/", "/]"
	}
	return "[", "]"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
