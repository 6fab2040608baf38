package pipes_test

import (
	"context"
	"testing"

	"github.com/aretw0/marionette/internal/builtin/pipes"
	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/adapters/static"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<h1 id="title" class="big">  Catalogue  </h1>
<ul>
<li class="item" data-price="12.5">Apple</li>
<li class="item" data-price="3">Pear</li>
<li class="item sold-out" data-price="7">Plum</li>
</ul>
<script type="application/json" id="state">{"user": {"name": "ada", "tags": ["a", "b"]}}</script>
</body></html>`

type fixture struct {
	env     *runtime.Env
	catalog *runtime.Catalog
	flow    *memory.Flow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := runtime.NewCatalog()
	pipes.Register(c)
	p, err := static.New(page)
	require.NoError(t, err)
	flow := memory.NewFlow(memory.WithInputs(map[string]any{"query": "plum"}))
	return &fixture{
		catalog: c,
		flow:    flow,
		env: &runtime.Env{
			Script:         script.New("test"),
			Catalog:        c,
			Page:           p,
			Flow:           flow,
			Logger:         logging.NewNop(),
			MapConcurrency: runtime.DefaultMapConcurrency,
		},
	}
}

func (f *fixture) eval(t *testing.T, src string) ([]any, error) {
	t.Helper()
	p, err := script.DecodePipeline([]byte(src), f.catalog)
	require.NoError(t, err)
	out, err := f.env.NewEvaluation().SelectAll(context.Background(), p, []domain.Element{domain.ValueElement(nil)})
	if err != nil {
		return nil, err
	}
	return domain.Values(out), nil
}

func TestPipes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []any
	}{
		{"queryAll describes nodes", `[{"type": "DOM.queryAll", "selector": "h1"}]`, []any{"h1#title.big"}},
		{"getText", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "DOM.getText"}]`, []any{"Apple", "Pear", "Plum"}},
		{"getAttribute", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "DOM.getAttribute", "name": "data-price"}]`, []any{"12.5", "3", "7"}},
		{"missing attribute is null", `[{"type": "DOM.queryAll", "selector": "h1"}, {"type": "DOM.getAttribute", "name": "href"}]`, []any{nil}},
		{"queryXPath", `[{"type": "DOM.queryXPath", "expression": "//li[contains(@class, 'sold-out')]"}, {"type": "DOM.getText"}]`, []any{"Plum"}},
		{"queryOne optional none", `[{"type": "DOM.queryOne", "selector": "table", "optional": true}]`, []any{}},
		{"trim", `[{"type": "DOM.queryAll", "selector": "h1"}, {"type": "DOM.getText"}, {"type": "String.trim"}]`, []any{"Catalogue"}},
		{"contains case insensitive", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "DOM.getText"}, {"type": "String.contains", "substring": "PL"}]`, []any{true, false, true}},
		{"contains case sensitive", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "DOM.getText"}, {"type": "String.contains", "substring": "PL", "caseSensitive": true}]`, []any{false, false, false}},
		{"replace", `[{"type": "Value.getConstant", "value": "a-b-c"}, {"type": "String.replace", "pattern": "-", "replacement": "+"}]`, []any{"a+b+c"}},
		{"extractRegexp", `[{"type": "Value.getConstant", "value": "order #4521 shipped"}, {"type": "String.extractRegexp", "pattern": "#(\\d+)", "group": 1}]`, []any{"4521"}},
		{"compare", `[{"type": "Value.getConstant", "value": 5}, {"type": "Number.compare", "operator": "gte", "value": 5}]`, []any{true}},
		{"not", `[{"type": "Value.getConstant", "value": ""}, {"type": "Boolean.not"}]`, []any{true}},
		{"and", `[{"type": "Boolean.and", "pipelineA": [{"type": "Value.getConstant", "value": true}], "pipelineB": [{"type": "Value.getConstant", "value": 0}]}]`, []any{false}},
		{"or", `[{"type": "Boolean.or", "pipelineA": [{"type": "Value.getConstant", "value": false}], "pipelineB": [{"type": "Value.getConstant", "value": "x"}]}]`, []any{true}},
		{"filter", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "List.filter", "pipeline": [{"type": "DOM.getAttribute", "name": "class"}, {"type": "String.contains", "substring": "sold"}]}, {"type": "DOM.getText"}]`, []any{"Plum"}},
		{"filter values", `[{"type": "Value.getConstant", "value": ["en", "fr", "pt", "es"]}, {"type": "Value.jq", "query": ".[]"}, {"type": "List.filter", "pipeline": [{"type": "String.contains", "substring": "e"}]}]`, []any{"en", "es"}},
		{"count", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "List.count"}]`, []any{3}},
		{"first", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "List.first"}, {"type": "DOM.getText"}]`, []any{"Apple"}},
		{"last", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "List.last"}, {"type": "DOM.getText"}]`, []any{"Plum"}},
		{"reverse", `[{"type": "DOM.queryAll", "selector": "li"}, {"type": "List.reverse"}, {"type": "DOM.getText"}]`, []any{"Plum", "Pear", "Apple"}},
		{"parseJson and getPath", `[{"type": "DOM.queryAll", "selector": "#state"}, {"type": "DOM.getText"}, {"type": "Value.parseJson"}, {"type": "Object.getPath", "path": "user.name"}]`, []any{"ada"}},
		{"getPath missing", `[{"type": "Value.getConstant", "value": {"a": 1}}, {"type": "Object.getPath", "path": "b.c"}]`, []any{nil}},
		{"jq fans out", `[{"type": "DOM.queryAll", "selector": "#state"}, {"type": "DOM.getText"}, {"type": "Value.parseJson"}, {"type": "Value.jq", "query": ".user.tags[]"}]`, []any{"a", "b"}},
		{"jq empty", `[{"type": "Value.getConstant", "value": {}}, {"type": "Value.jq", "query": "empty"}]`, []any{}},
		{"getInput", `[{"type": "Data.getInput", "key": "query"}]`, []any{"plum"}},
		{"peekInput missing", `[{"type": "Data.peekInput", "key": "absent"}]`, []any{nil}},
		{"page url", `[{"type": "Page.getUrl"}]`, []any{"about:blank"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			got, err := f.eval(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPipes_Errors(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		code      string
		retriable bool
	}{
		{"queryOne missing", `[{"type": "DOM.queryOne", "selector": "table"}]`, domain.CodeElementNotFound, true},
		{"queryOne ambiguous", `[{"type": "DOM.queryOne", "selector": "li"}]`, domain.CodeElementUnstable, true},
		{"parseJson non string", `[{"type": "Value.getConstant", "value": 1}, {"type": "Value.parseJson"}]`, domain.CodeInvalidParameter, false},
		{"bad jq", `[{"type": "Value.jq", "query": ".["}]`, domain.CodeInvalidParameter, false},
		{"bad regexp", `[{"type": "Value.getConstant", "value": "x"}, {"type": "String.extractRegexp", "pattern": "("}]`, domain.CodeInvalidParameter, false},
		{"compare non number", `[{"type": "Value.getConstant", "value": "x"}, {"type": "Number.compare", "operator": "eq", "value": 1}]`, domain.CodeInvalidParameter, false},
		{"boolean operand arity", `[{"type": "Boolean.and", "pipelineA": [{"type": "DOM.queryAll", "selector": "li"}], "pipelineB": []}]`, domain.CodePipelineOutputMismatch, true},
		{"input missing", `[{"type": "Data.getInput", "key": "absent"}]`, domain.CodeInputRequired, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.eval(t, tt.src)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.CodeOf(err))
			assert.Equal(t, tt.retriable, domain.IsRetriable(err))
		})
	}
}

func TestPipes_GlobalsAndLocals(t *testing.T) {
	f := newFixture(t)
	f.env.Globals()["cart"] = map[string]any{"items": []any{"apple"}}

	got, err := f.eval(t, `[{"type": "Data.getGlobal", "key": "cart"}, {"type": "Object.getPath", "path": "items"}]`)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"apple"}}, got)

	got, err = f.eval(t, `[
		{"type": "DOM.queryAll", "selector": "li"},
		{"type": "Data.saveLocal", "key": "items"},
		{"type": "List.count"},
		{"type": "Data.restoreLocal", "key": "items"},
		{"type": "DOM.getText"}
	]`)
	require.NoError(t, err)
	assert.Equal(t, []any{"Apple", "Pear", "Plum"}, got)
}

func TestRegister_Catalogue(t *testing.T) {
	c := runtime.NewCatalog()
	pipes.Register(c)
	for _, typ := range []string{
		"DOM.queryAll", "DOM.queryOne", "DOM.queryXPath", "DOM.getAttribute", "DOM.getText", "DOM.getHtml",
		"Page.getUrl", "Value.getConstant", "Value.parseJson", "Value.jq", "Object.getPath",
		"String.contains", "String.trim", "String.replace", "String.extractRegexp", "Number.compare",
		"Boolean.and", "Boolean.or", "Boolean.not", "List.filter", "List.count", "List.first",
		"List.last", "List.reverse", "Data.getInput", "Data.peekInput", "Data.getGlobal",
		"Data.saveLocal", "Data.restoreLocal",
	} {
		_, ok := c.Pipe(typ)
		assert.True(t, ok, typ)
	}
}
