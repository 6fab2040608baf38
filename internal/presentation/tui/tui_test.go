package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/inspect"
	"github.com/aretw0/marionette/pkg/script"
)

func TestReportMarkdown(t *testing.T) {
	v := "1.0.0"
	r := &inspect.Report{
		Script:     "shop",
		Contexts:   2,
		MaxDepth:   3,
		Actions:    map[string]int{"Page.navigate": 1, "Flow.each": 2},
		Pipes:      map[string]int{"DOM.queryAll": 4},
		Inputs:     []string{"otp"},
		Outputs:    []string{"price"},
		Migrations: []script.Migration{{Path: "main/0", From: "Flow.ifElse", To: "Flow.if"}},
		Unmet:      []domain.UnmetDependency{{Name: "ocr", Version: "^2.0.0", ExistingVersion: &v}},
	}

	md := ReportMarkdown(r)
	for _, want := range []string{
		"# shop",
		"**Status:** invalid",
		"| Flow.each | 2 |",
		"| DOM.queryAll | 4 |",
		"## Problems",
		"extension ocr 1.0.0 does not satisfy ^2.0.0",
		"## Inputs\n\n- `otp`",
		"## Outputs\n\n- `price`",
		"`main/0`: `Flow.ifElse` → `Flow.if`",
	} {
		assert.Contains(t, md, want)
	}
	assert.Less(t, bytes.Index([]byte(md), []byte("Flow.each")), bytes.Index([]byte(md), []byte("Page.navigate")), "types are sorted")
}

func TestReportMarkdown_Valid(t *testing.T) {
	md := ReportMarkdown(&inspect.Report{Script: "empty"})
	assert.Contains(t, md, "**Status:** valid")
	assert.NotContains(t, md, "## Problems")
	assert.NotContains(t, md, "## Actions")
}

func TestHitsMarkdown(t *testing.T) {
	md := HitsMarkdown("type:Page.*", []inspect.Hit{{Kind: inspect.KindAction, ActionID: "open", Type: "Page.navigate", Path: "main/open"}})
	assert.Contains(t, md, "| action | open | Page.navigate | `main/open` |")
	assert.Contains(t, HitsMarkdown("x", nil), "No matches.")
}

func TestPrint_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, "# title\n"))
	assert.Equal(t, "# title\n", buf.String())
	assert.False(t, IsTerminal(&buf))
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
}
