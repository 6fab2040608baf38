package inspect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/inspect"
)

func paths(hits []inspect.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Path
	}
	return out
}

func TestSearch(t *testing.T) {
	s := decode(t, shopScript)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"type glob over actions and pipes", "type:Data.*Global", []string{
			"actions/loop/pipeline/0",
			"actions/mark",
			"actions/out/pipeline/0",
		}},
		{"id scopes pipes to their action", "id:login type:DOM.*", []string{
			"actions/login/pipeline/0",
		}},
		{"param value", "param:key=se*", []string{
			"actions/mark",
			"actions/out/pipeline/0",
		}},
		{"non-string param", "param:value=true", []string{
			"actions/mark/pipeline/0",
		}},
		{"bare glob matches labels", "Type*", []string{
			"actions/login",
		}},
		{"bare glob matches string params", "#user", []string{
			"actions/login/pipeline/0",
		}},
		{"matchers have no action", "type:String.contains", []string{
			"contexts/home/matchers/0/1",
		}},
		{"nothing", "type:Flow.fail", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := inspect.Search(s, tt.query)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, hits)
				return
			}
			assert.Equal(t, tt.want, paths(hits))
		})
	}
}

func TestSearch_HitFields(t *testing.T) {
	s := decode(t, shopScript)
	hits, err := inspect.Search(s, "type:Data.getInput")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, inspect.Hit{
		Kind:     inspect.KindPipe,
		ActionID: "login",
		Path:     "actions/login/valuePipeline/0",
		Type:     "Data.getInput",
	}, hits[0])
}

func TestSearch_EmptyQueryMatchesEverything(t *testing.T) {
	s := decode(t, shopScript)
	hits, err := inspect.Search(s, "")
	require.NoError(t, err)
	// 5 actions, 2 matcher pipes and 5 action pipes.
	assert.Len(t, hits, 12)
}

func TestSearch_InvalidQuery(t *testing.T) {
	s := decode(t, shopScript)
	for _, q := range []string{"param:key", "param:=x"} {
		_, err := inspect.Search(s, q)
		require.Error(t, err, q)
		assert.Equal(t, domain.CodeInvalidScript, domain.CodeOf(err), q)
	}
}

func TestSearch_BareGlobWithColon(t *testing.T) {
	s := decode(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "cart", "type": "Page.navigate", "url": "https://shop.test/cart"},
		{"id": "home", "type": "Page.navigate", "url": "https://other.test/"}
	]}]}`)

	hits, err := inspect.Search(s, "https://shop.test/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"actions/cart"}, paths(hits))

	hits, err = inspect.Search(s, "color:red")
	require.NoError(t, err)
	assert.Empty(t, hits)
}
