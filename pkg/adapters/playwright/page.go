// Package playwright implements ports.Page over playwright-go.
//
// Raw protocol commands go through a Chromium CDP session, so Send only works
// with the chromium browser type.
package playwright

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/network"
	"github.com/aretw0/marionette/pkg/ports"
)

// Config controls the launched browser.
type Config struct {
	Headless bool
	// Timeout is the default for every playwright operation.
	Timeout time.Duration
	// Install downloads the driver and browsers when missing.
	Install bool
}

// Node wraps an element handle.
type Node struct {
	h    pw.ElementHandle
	desc string
}

func (n *Node) Describe() string { return n.desc }

// Page is a playwright page with its own browser and context.
type Page struct {
	runtime *pw.Playwright
	browser pw.Browser
	bctx    pw.BrowserContext
	page    pw.Page
	tracker *network.Tracker
	logger  *slog.Logger

	cdpOnce sync.Once
	cdp     pw.CDPSession
	cdpErr  error
}

// Option configures a Page.
type Option func(*Page)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Page) { p.logger = logger }
}

// Launch starts the playwright driver and a chromium browser.
func Launch(cfg Config, opts ...Option) (*Page, error) {
	runOpts := &pw.RunOptions{Verbose: false, Stdout: io.Discard, Stderr: io.Discard}
	if cfg.Install {
		if err := pw.Install(runOpts); err != nil {
			return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "install playwright")
		}
	}
	runtime, err := pw.Run(runOpts)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "start playwright")
	}
	browser, err := runtime.Chromium.Launch(pw.BrowserTypeLaunchOptions{Headless: pw.Bool(cfg.Headless)})
	if err != nil {
		_ = runtime.Stop()
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "launch browser")
	}
	bctx, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		_ = runtime.Stop()
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "create context")
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = browser.Close()
		_ = runtime.Stop()
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "create page")
	}
	if cfg.Timeout > 0 {
		page.SetDefaultTimeout(float64(cfg.Timeout.Milliseconds()))
	}

	p := &Page{
		runtime: runtime,
		browser: browser,
		bctx:    bctx,
		page:    page,
		tracker: network.NewTracker(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tracker.SetLoaded(true)
	p.watch()
	return p, nil
}

func requestID(r pw.Request) string { return fmt.Sprintf("%p", r) }

func (p *Page) watch() {
	p.page.OnRequest(func(r pw.Request) { p.tracker.RequestStarted(requestID(r)) })
	p.page.OnRequestFinished(func(r pw.Request) { p.tracker.RequestFinished(requestID(r)) })
	p.page.OnRequestFailed(func(r pw.Request) { p.tracker.RequestFinished(requestID(r)) })
	p.page.OnFrameNavigated(func(f pw.Frame) {
		if f.ParentFrame() == nil {
			p.logger.Debug("frame navigated", "url", f.URL())
			p.tracker.Navigated()
		}
	})
	p.page.OnLoad(func(pw.Page) { p.tracker.SetLoaded(true) })
}

// Close shuts the browser and the driver down.
func (p *Page) Close() error {
	if err := p.browser.Close(); err != nil {
		_ = p.runtime.Stop()
		return err
	}
	return p.runtime.Stop()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.tracker.Navigated()
	if _, err := p.page.Goto(url); err != nil {
		return domain.Wrap(err, domain.CodeNavigationFailed, true, "navigate to %s", url)
	}
	return nil
}

func (p *Page) session() (pw.CDPSession, error) {
	p.cdpOnce.Do(func() {
		p.cdp, p.cdpErr = p.bctx.NewCDPSession(p.page)
	})
	return p.cdp, p.cdpErr
}

// Send issues a raw CDP command through a chromium CDP session.
func (p *Page) Send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.session()
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "cdp session")
	}
	res, err := s.Send(method, params)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "cdp %s", method)
	}
	out, _ := res.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

const layoutJS = `() => ({
	vw: window.innerWidth,
	vh: window.innerHeight,
	cw: document.documentElement.scrollWidth,
	ch: document.documentElement.scrollHeight,
})`

func (p *Page) LayoutMetrics(ctx context.Context) (ports.LayoutMetrics, error) {
	if err := ctx.Err(); err != nil {
		return ports.LayoutMetrics{}, err
	}
	res, err := p.page.Evaluate(layoutJS)
	if err != nil {
		return ports.LayoutMetrics{}, domain.Wrap(err, domain.CodePageUnavailable, true, "layout metrics")
	}
	m, _ := res.(map[string]any)
	return ports.LayoutMetrics{
		ViewportWidth:  number(m["vw"]),
		ViewportHeight: number(m["vh"]),
		ContentWidth:   number(m["cw"]),
		ContentHeight:  number(m["ch"]),
	}, nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func (p *Page) Document(ctx context.Context) (domain.Node, error) {
	nodes, err := p.query(ctx, nil, "html")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, domain.Retriable(domain.CodeElementNotFound, "document has no root element")
	}
	return nodes[0], nil
}

func (p *Page) handle(node domain.Node) (pw.ElementHandle, error) {
	n, ok := node.(*Node)
	if !ok {
		return nil, domain.Fatal(domain.CodeInvalidParameter, "foreign node %s", node.Describe())
	}
	return n.h, nil
}

func (p *Page) query(ctx context.Context, scope domain.Node, selector string) ([]domain.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		hs  []pw.ElementHandle
		err error
	)
	if domain.IsDocument(scope) {
		hs, err = p.page.QuerySelectorAll(selector)
	} else {
		h, herr := p.handle(scope)
		if herr != nil {
			return nil, herr
		}
		hs, err = h.QuerySelectorAll(selector)
	}
	if err != nil {
		return nil, domain.Wrap(err, domain.CodeElementUnstable, true, "query %q", selector)
	}
	out := make([]domain.Node, 0, len(hs))
	for i, h := range hs {
		out = append(out, &Node{h: h, desc: fmt.Sprintf("%s[%d]", selector, i)})
	}
	return out, nil
}

func (p *Page) QueryAll(ctx context.Context, scope domain.Node, selector string) ([]domain.Node, error) {
	return p.query(ctx, scope, selector)
}

func (p *Page) QueryXPath(ctx context.Context, scope domain.Node, expr string) ([]domain.Node, error) {
	return p.query(ctx, scope, "xpath="+expr)
}

func (p *Page) Attribute(ctx context.Context, node domain.Node, name string) (string, bool, error) {
	h, err := p.handle(node)
	if err != nil {
		return "", false, err
	}
	v, err := h.Evaluate("(el, name) => el.getAttribute(name)", name)
	if err != nil {
		return "", false, domain.Wrap(err, domain.CodeElementUnstable, true, "attribute %q of %s", name, node.Describe())
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (p *Page) Text(ctx context.Context, node domain.Node) (string, error) {
	h, err := p.handle(node)
	if err != nil {
		return "", err
	}
	s, err := h.TextContent()
	if err != nil {
		return "", domain.Wrap(err, domain.CodeElementUnstable, true, "text of %s", node.Describe())
	}
	return s, nil
}

func (p *Page) HTML(ctx context.Context, node domain.Node) (string, error) {
	h, err := p.handle(node)
	if err != nil {
		return "", err
	}
	v, err := h.Evaluate("el => el.outerHTML")
	if err != nil {
		return "", domain.Wrap(err, domain.CodeElementUnstable, true, "html of %s", node.Describe())
	}
	s, _ := v.(string)
	return s, nil
}

func (p *Page) Click(ctx context.Context, node domain.Node) error {
	h, err := p.handle(node)
	if err != nil {
		return err
	}
	if err := h.Click(); err != nil {
		return domain.Wrap(err, domain.CodeElementUnstable, true, "click %s", node.Describe())
	}
	return nil
}

func (p *Page) Type(ctx context.Context, node domain.Node, text string) error {
	h, err := p.handle(node)
	if err != nil {
		return err
	}
	if err := h.Fill(text); err != nil {
		return domain.Wrap(err, domain.CodeElementUnstable, true, "type into %s", node.Describe())
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	return p.page.URL(), nil
}

func (p *Page) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	cookies, err := p.bctx.Cookies()
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, true, "read cookies")
	}
	return fromPlaywright(cookies), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := p.bctx.AddCookies(toPlaywright(cookies, p.page.URL())); err != nil {
		return domain.Wrap(err, domain.CodePageUnavailable, true, "set cookies")
	}
	return nil
}

func (p *Page) Network() ports.NetworkMonitor { return p.tracker }

func (p *Page) Loaded() bool { return p.tracker.Loaded() }

func fromPlaywright(cookies []pw.Cookie) []domain.Cookie {
	out := make([]domain.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		})
	}
	return out
}

// toPlaywright scopes cookies without a domain to pageURL.
func toPlaywright(cookies []domain.Cookie, pageURL string) []pw.OptionalCookie {
	out := make([]pw.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := pw.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			HttpOnly: pw.Bool(c.HTTPOnly),
			Secure:   pw.Bool(c.Secure),
		}
		if c.Domain != "" {
			path := c.Path
			if path == "" {
				path = "/"
			}
			oc.Domain = pw.String(c.Domain)
			oc.Path = pw.String(path)
		} else {
			oc.URL = pw.String(pageURL)
		}
		if c.Expires > 0 {
			oc.Expires = pw.Float(c.Expires)
		}
		out = append(out, oc)
	}
	return out
}

var _ ports.Page = (*Page)(nil)
