package dsl_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/adapters/static"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/dsl"
)

func fruits() *dsl.Builder {
	b := dsl.New("fruits")
	b.Context("list").
		Limit(1).
		Match(dsl.Pipe("DOM.queryAll").With("selector", "li"), dsl.Pipe("List.count")).
		Action("each", "Flow.each").
		From(dsl.Pipe("DOM.queryAll").With("selector", "li")).
		Child(
			dsl.Action("name", "Data.sendOutput").
				Set("key", "fruit").
				From(dsl.Pipe("DOM.getText"), dsl.Pipe("String.trim")),
		)
	return b
}

func TestBuilder_Play(t *testing.T) {
	catalog := marionette.NewCatalog()
	s, err := fruits().Build(catalog)
	require.NoError(t, err)

	assert.Equal(t, "fruits", s.ID)
	require.Len(t, s.Contexts, 1)
	assert.Equal(t, 1, s.Contexts[0].Limit)
	assert.Len(t, s.Contexts[0].Matchers, 1)
	each, ok := s.Action("each")
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, each.Children)

	page, err := static.New(`<ul><li> Apple </li><li>Pear</li></ul>`)
	require.NoError(t, err)
	flow := memory.NewFlow()
	eng, err := marionette.New(s, marionette.WithCatalog(catalog), marionette.WithPage(page), marionette.WithFlow(flow))
	require.NoError(t, err)

	status, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	var got []any
	for _, o := range flow.Outputs() {
		got = append(got, o.Data)
	}
	assert.Equal(t, []any{"Apple", "Pear"}, got)
}

func TestBuilder_ContextIsReused(t *testing.T) {
	b := dsl.New("x")
	b.Context("main").Action("a", "Flow.success")
	b.Context("main").Name("Main page")

	raw := b.Map()
	contexts := raw["contexts"].([]any)
	require.Len(t, contexts, 1)
	assert.Equal(t, "Main page", contexts[0].(map[string]any)["name"])
}

func TestBuilder_JSON(t *testing.T) {
	b := fruits().Require("ocr", "^1.2.0")
	data, err := b.JSON()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{map[string]any{"name": "ocr", "version": "^1.2.0"}}, raw["dependencies"])

	s, err := marionette.Decode(data, marionette.NewCatalog())
	require.NoError(t, err)
	assert.Equal(t, []domain.Dependency{{Name: "ocr", Version: "^1.2.0"}}, s.Dependencies)
}

func TestBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		build func() *dsl.Builder
	}{
		{
			name: "unknown action",
			build: func() *dsl.Builder {
				b := dsl.New("x")
				b.Context("main").Action("a", "Flow.teleport")
				return b
			},
		},
		{
			name: "unknown pipe",
			build: func() *dsl.Builder {
				b := dsl.New("x")
				b.Context("main").Action("a", "Data.setGlobal").Set("key", "k").From(dsl.Pipe("Magic.wand"))
				return b
			},
		},
		{
			name: "duplicate action id",
			build: func() *dsl.Builder {
				b := dsl.New("x")
				b.Context("main").Do(dsl.Action("a", "Flow.success"), dsl.Action("a", "Flow.success"))
				return b
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build(marionette.NewCatalog())
			require.Error(t, err)
			assert.Equal(t, domain.CodeInvalidScript, domain.CodeOf(err))
		})
	}
}

func TestBuilder_GeneratedIDs(t *testing.T) {
	b := dsl.New("x")
	b.Context("main").Do(dsl.Action("", "Flow.success"))

	s, err := b.Build(marionette.NewCatalog())
	require.NoError(t, err)
	ids := s.Contexts[0].Actions
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])
}
