package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/marionette/pkg/inspect"
)

// ReportMarkdown formats an inspection report as markdown.
func ReportMarkdown(r *inspect.Report) string {
	var sb strings.Builder
	status := "valid"
	if !r.Valid() {
		status = "invalid"
	}
	fmt.Fprintf(&sb, "# %s\n\n", r.Script)
	fmt.Fprintf(&sb, "**Status:** %s  \n**Contexts:** %d  \n**Max depth:** %d\n\n", status, r.Contexts, r.MaxDepth)

	writeCounts(&sb, "Actions", r.Actions)
	writeCounts(&sb, "Pipes", r.Pipes)

	if problems := r.Problems(); len(problems) > 0 {
		sb.WriteString("## Problems\n\n")
		for _, p := range problems {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
		sb.WriteString("\n")
	}

	writeList(&sb, "Inputs", r.Inputs)
	writeList(&sb, "Outputs", r.Outputs)
	writeList(&sb, "Globals read but never set", r.UnsetGlobals)

	if len(r.Migrations) > 0 {
		sb.WriteString("## Migrations\n\n")
		for _, m := range r.Migrations {
			fmt.Fprintf(&sb, "- `%s`: `%s` → `%s`\n", m.Path, m.From, m.To)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeCounts(sb *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Fprintf(sb, "## %s\n\n| Type | Count |\n| --- | ---: |\n", title)
	for _, t := range types {
		fmt.Fprintf(sb, "| %s | %d |\n", t, counts[t])
	}
	sb.WriteString("\n")
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "- `%s`\n", it)
	}
	sb.WriteString("\n")
}

// HitsMarkdown formats search results as a markdown table.
func HitsMarkdown(query string, hits []inspect.Hit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search `%s`\n\n", query)
	if len(hits) == 0 {
		sb.WriteString("No matches.\n")
		return sb.String()
	}
	sb.WriteString("| Kind | Action | Type | Path |\n| --- | --- | --- | --- |\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "| %s | %s | %s | `%s` |\n", h.Kind, h.ActionID, h.Type, h.Path)
	}
	return sb.String()
}
