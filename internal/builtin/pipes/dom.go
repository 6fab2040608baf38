package pipes

import (
	"context"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/schema"
)

type selectorParams struct {
	Selector string `mapstructure:"selector"`
	Optional bool   `mapstructure:"optional"`
}

type xpathParams struct {
	Expression string `mapstructure:"expression"`
}

type attributeParams struct {
	Name string `mapstructure:"name"`
}

func nodeElements(nodes []domain.Node) []domain.Element {
	out := make([]domain.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, domain.NewElement(n, n.Describe()))
	}
	return out
}

func domPipes() []*runtime.PipeDef {
	return []*runtime.PipeDef{
		{
			Type:        "DOM.queryAll",
			Description: "Selects all descendants of each input matching a CSS selector.",
			Params:      schema.Params{{Name: "selector", Type: schema.String(), Required: true}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[selectorParams](call)
				if err != nil {
					return nil, err
				}
				page, err := call.Env().RequirePage()
				if err != nil {
					return nil, err
				}
				return call.Map(ctx, in, func(ctx context.Context, el domain.Element) ([]domain.Element, error) {
					nodes, err := page.QueryAll(ctx, el.Node, p.Selector)
					if err != nil {
						return nil, err
					}
					return nodeElements(nodes), nil
				})
			},
		},
		{
			Type:        "DOM.queryOne",
			Description: "Selects exactly one descendant of each input; optional allows none.",
			Params: schema.Params{
				{Name: "selector", Type: schema.String(), Required: true},
				{Name: "optional", Type: schema.Bool(), Default: false},
			},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[selectorParams](call)
				if err != nil {
					return nil, err
				}
				page, err := call.Env().RequirePage()
				if err != nil {
					return nil, err
				}
				return call.Map(ctx, in, func(ctx context.Context, el domain.Element) ([]domain.Element, error) {
					nodes, err := page.QueryAll(ctx, el.Node, p.Selector)
					if err != nil {
						return nil, err
					}
					switch {
					case len(nodes) == 0 && p.Optional:
						return nil, nil
					case len(nodes) == 0:
						return nil, domain.Retriable(domain.CodeElementNotFound, "no element matches %q", p.Selector)
					case len(nodes) > 1:
						return nil, domain.Retriable(domain.CodeElementUnstable, "%d elements match %q, expected one", len(nodes), p.Selector)
					}
					return nodeElements(nodes), nil
				})
			},
		},
		{
			Type:        "DOM.queryXPath",
			Description: "Selects nodes matching an XPath expression relative to each input.",
			Params:      schema.Params{{Name: "expression", Type: schema.String(), Required: true}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[xpathParams](call)
				if err != nil {
					return nil, err
				}
				page, err := call.Env().RequirePage()
				if err != nil {
					return nil, err
				}
				return call.Map(ctx, in, func(ctx context.Context, el domain.Element) ([]domain.Element, error) {
					nodes, err := page.QueryXPath(ctx, el.Node, p.Expression)
					if err != nil {
						return nil, err
					}
					return nodeElements(nodes), nil
				})
			},
		},
		{
			Type:        "DOM.getAttribute",
			Description: "Replaces each value with an attribute of its node; absent attributes yield null.",
			Params:      schema.Params{{Name: "name", Type: schema.String(), Required: true}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[attributeParams](call)
				if err != nil {
					return nil, err
				}
				return nodeValue(ctx, call, in, func(ctx context.Context, page ports.Page, n domain.Node) (any, error) {
					v, ok, err := page.Attribute(ctx, n, p.Name)
					if err != nil || !ok {
						return nil, err
					}
					return v, nil
				})
			},
		},
		{
			Type:        "DOM.getText",
			Description: "Replaces each value with the text content of its node.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				return nodeValue(ctx, call, in, func(ctx context.Context, page ports.Page, n domain.Node) (any, error) {
					return page.Text(ctx, n)
				})
			},
		},
		{
			Type:        "DOM.getHtml",
			Description: "Replaces each value with the outer HTML of its node.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				return nodeValue(ctx, call, in, func(ctx context.Context, page ports.Page, n domain.Node) (any, error) {
					return page.HTML(ctx, n)
				})
			},
		},
		{
			Type:        "Page.getUrl",
			Description: "Replaces each value with the current page URL.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				page, err := call.Env().RequirePage()
				if err != nil {
					return nil, err
				}
				url, err := page.URL(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]domain.Element, len(in))
				for i, el := range in {
					out[i] = el.Clone(url)
				}
				return out, nil
			},
		},
	}
}

func nodeValue(ctx context.Context, call *runtime.PipeCall, in []domain.Element, fn func(context.Context, ports.Page, domain.Node) (any, error)) ([]domain.Element, error) {
	page, err := call.Env().RequirePage()
	if err != nil {
		return nil, err
	}
	return call.Map(ctx, in, func(ctx context.Context, el domain.Element) ([]domain.Element, error) {
		node := el.Node
		if domain.IsDocument(node) {
			doc, err := page.Document(ctx)
			if err != nil {
				return nil, err
			}
			node = doc
		}
		v, err := fn(ctx, page, node)
		if err != nil {
			return nil, err
		}
		return runtime.One(el.Clone(v)), nil
	})
}
