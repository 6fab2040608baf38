package actions

import (
	"context"
	"fmt"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
)

type navigateParams struct {
	URL string `mapstructure:"url"`
}

type typeParams struct {
	Text string `mapstructure:"text"`
}

func pageActions() []*runtime.ActionDef {
	return []*runtime.ActionDef{
		{
			Type:        "Page.navigate",
			Description: "Navigates to url, or to the single value of the pipeline when url is empty.",
			Params: schema.Params{
				mainPipeline,
				{Name: "url", Type: schema.String()},
			},
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[navigateParams](call)
				if err != nil {
					return err
				}
				page, err := call.Env().RequirePage()
				if err != nil {
					return err
				}
				url := p.URL
				if url == "" {
					el, err := call.SelectOne(ctx, "pipeline")
					if err != nil {
						return err
					}
					s, ok := el.Value.(string)
					if !ok || s == "" {
						return domain.Fatal(domain.CodeInvalidParameter, "navigate %s: pipeline must yield a URL string", call.Action.ID)
					}
					url = s
				}
				if err := page.Navigate(ctx, url); err != nil {
					return domain.Wrap(err, domain.CodeNavigationFailed, false, "navigate to %s", url)
				}
				return nil
			},
		},
		{
			Type:        "Page.click",
			Description: "Clicks the single element selected by the pipeline.",
			Params:      schema.Params{mainPipeline},
			Retriable:   true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				page, err := call.Env().RequirePage()
				if err != nil {
					return err
				}
				el, err := call.SelectOne(ctx, "pipeline")
				if err != nil {
					return err
				}
				if domain.IsDocument(el.Node) {
					return domain.Fatal(domain.CodeInvalidParameter, "click %s: pipeline must select an element", call.Action.ID)
				}
				return page.Click(ctx, el.Node)
			},
		},
		{
			Type:        "Page.type",
			Description: "Types text, or the single value of valuePipeline, into the element selected by the pipeline.",
			Params: schema.Params{
				mainPipeline,
				{Name: "valuePipeline", Type: schema.Pipeline()},
				{Name: "text", Type: schema.String()},
			},
			Retriable: true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[typeParams](call)
				if err != nil {
					return err
				}
				page, err := call.Env().RequirePage()
				if err != nil {
					return err
				}
				target, err := call.SelectOne(ctx, "pipeline")
				if err != nil {
					return err
				}
				if domain.IsDocument(target.Node) {
					return domain.Fatal(domain.CodeInvalidParameter, "type %s: pipeline must select an element", call.Action.ID)
				}
				text := p.Text
				if call.Action.Pipeline("valuePipeline").Len() > 0 {
					v, err := call.SelectOne(ctx, "valuePipeline")
					if err != nil {
						return err
					}
					text = fmt.Sprint(v.Value)
				}
				return page.Type(ctx, target.Node, text)
			},
		},
	}
}
