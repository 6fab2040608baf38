// Package rod implements ports.Page over a live Chromium driven by go-rod.
//
// CDP network and page events feed a network.Tracker from rod's event
// goroutine, so IsSilentFor and Loaded reflect the real browser.
package rod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/network"
	"github.com/aretw0/marionette/pkg/ports"
)

// Config selects how the browser is obtained.
type Config struct {
	// ControlURL connects to a running browser. Empty launches one.
	ControlURL string
	Bin        string
	Headless   bool
	// Timeout bounds navigation.
	Timeout time.Duration
}

// Node wraps a remote element.
type Node struct {
	el *rod.Element
}

func (n *Node) Describe() string { return n.el.String() }

// Element returns the underlying rod element.
func (n *Node) Element() *rod.Element { return n.el }

// Page is a live browser tab.
type Page struct {
	cfg      Config
	browser  *rod.Browser
	page     *rod.Page
	tracker  *network.Tracker
	logger   *slog.Logger
	stopOnce sync.Once
	stop     context.CancelFunc
}

// Option configures a Page.
type Option func(*Page)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Page) { p.logger = logger }
}

// Launch starts or connects to a browser and opens a blank tab.
func Launch(ctx context.Context, cfg Config, opts ...Option) (*Page, error) {
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "launch browser")
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "connect to browser")
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = browser.Close()
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "open tab")
	}
	return Attach(browser, page, cfg, opts...)
}

// Attach wraps an existing tab. Closing the Page closes browser.
func Attach(browser *rod.Browser, page *rod.Page, cfg Config, opts ...Option) (*Page, error) {
	p := &Page{
		cfg:     cfg,
		browser: browser,
		page:    page,
		tracker: network.NewTracker(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "enable network events")
	}
	p.tracker.SetLoaded(true)
	p.watch()
	return p, nil
}

// watch feeds the tracker from CDP events until Close.
func (p *Page) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	wait := p.page.Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			p.tracker.RequestStarted(string(ev.RequestID))
		},
		func(ev *proto.NetworkLoadingFinished) {
			p.tracker.RequestFinished(string(ev.RequestID))
		},
		func(ev *proto.NetworkLoadingFailed) {
			p.tracker.RequestFinished(string(ev.RequestID))
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				p.logger.Debug("frame navigated", "url", ev.Frame.URL)
				p.tracker.Navigated()
			}
		},
		func(ev *proto.PageLoadEventFired) {
			p.tracker.SetLoaded(true)
		},
	)
	go wait()
}

// Close stops event handling and closes the browser.
func (p *Page) Close() error {
	var err error
	p.stopOnce.Do(func() {
		p.stop()
		err = p.browser.Close()
	})
	return err
}

func (p *Page) ctx(ctx context.Context) *rod.Page { return p.page.Context(ctx) }

func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.ctx(ctx)
	if p.cfg.Timeout > 0 {
		pg = pg.Timeout(p.cfg.Timeout)
	}
	p.tracker.Navigated()
	if err := pg.Navigate(url); err != nil {
		return domain.Wrap(err, domain.CodeNavigationFailed, true, "navigate to %s", url)
	}
	return nil
}

// Send issues a raw CDP command on the tab session.
func (p *Page) Send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := p.page.Call(ctx, string(p.page.SessionID), method, params)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, false, "cdp %s", method)
	}
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return out, nil
}

func (p *Page) LayoutMetrics(ctx context.Context) (ports.LayoutMetrics, error) {
	res, err := proto.PageGetLayoutMetrics{}.Call(p.ctx(ctx))
	if err != nil {
		return ports.LayoutMetrics{}, domain.Wrap(err, domain.CodePageUnavailable, true, "layout metrics")
	}
	var m ports.LayoutMetrics
	if v := res.CSSLayoutViewport; v != nil {
		m.ViewportWidth = float64(v.ClientWidth)
		m.ViewportHeight = float64(v.ClientHeight)
	}
	if c := res.CSSContentSize; c != nil {
		m.ContentWidth = c.Width
		m.ContentHeight = c.Height
	}
	return m, nil
}

func (p *Page) Document(ctx context.Context) (domain.Node, error) {
	els, err := p.ctx(ctx).Elements("html")
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, true, "document")
	}
	if len(els) == 0 {
		return nil, domain.Retriable(domain.CodeElementNotFound, "document has no root element")
	}
	return &Node{el: els.First()}, nil
}

func (p *Page) element(ctx context.Context, node domain.Node) (*rod.Element, error) {
	n, ok := node.(*Node)
	if !ok {
		return nil, domain.Fatal(domain.CodeInvalidParameter, "foreign node %s", node.Describe())
	}
	return n.el.Context(ctx), nil
}

func wrap(els rod.Elements) []domain.Node {
	out := make([]domain.Node, 0, len(els))
	for _, el := range els {
		out = append(out, &Node{el: el})
	}
	return out
}

func (p *Page) QueryAll(ctx context.Context, scope domain.Node, selector string) ([]domain.Node, error) {
	var (
		els rod.Elements
		err error
	)
	if domain.IsDocument(scope) {
		els, err = p.ctx(ctx).Elements(selector)
	} else {
		el, serr := p.element(ctx, scope)
		if serr != nil {
			return nil, serr
		}
		els, err = el.Elements(selector)
	}
	if err != nil {
		return nil, domain.Wrap(err, domain.CodeElementUnstable, true, "query %q", selector)
	}
	return wrap(els), nil
}

func (p *Page) QueryXPath(ctx context.Context, scope domain.Node, expr string) ([]domain.Node, error) {
	var (
		els rod.Elements
		err error
	)
	if domain.IsDocument(scope) {
		els, err = p.ctx(ctx).ElementsX(expr)
	} else {
		el, serr := p.element(ctx, scope)
		if serr != nil {
			return nil, serr
		}
		els, err = el.ElementsX(expr)
	}
	if err != nil {
		return nil, domain.Wrap(err, domain.CodeElementUnstable, true, "xpath %q", expr)
	}
	return wrap(els), nil
}

func (p *Page) Attribute(ctx context.Context, node domain.Node, name string) (string, bool, error) {
	el, err := p.element(ctx, node)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, domain.Wrap(err, domain.CodeElementUnstable, true, "attribute %q of %s", name, node.Describe())
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (p *Page) Text(ctx context.Context, node domain.Node) (string, error) {
	el, err := p.element(ctx, node)
	if err != nil {
		return "", err
	}
	s, err := el.Text()
	if err != nil {
		return "", domain.Wrap(err, domain.CodeElementUnstable, true, "text of %s", node.Describe())
	}
	return s, nil
}

func (p *Page) HTML(ctx context.Context, node domain.Node) (string, error) {
	el, err := p.element(ctx, node)
	if err != nil {
		return "", err
	}
	s, err := el.HTML()
	if err != nil {
		return "", domain.Wrap(err, domain.CodeElementUnstable, true, "html of %s", node.Describe())
	}
	return s, nil
}

func (p *Page) Click(ctx context.Context, node domain.Node) error {
	el, err := p.element(ctx, node)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return domain.Wrap(err, domain.CodeElementUnstable, true, "click %s", node.Describe())
	}
	return nil
}

func (p *Page) Type(ctx context.Context, node domain.Node, text string) error {
	el, err := p.element(ctx, node)
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return domain.Wrap(err, domain.CodeElementUnstable, true, "type into %s", node.Describe())
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", domain.Wrap(err, domain.CodePageUnavailable, true, "page info")
	}
	return info.URL, nil
}

func (p *Page) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	cookies, err := p.ctx(ctx).Cookies(nil)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodePageUnavailable, true, "read cookies")
	}
	return fromProto(cookies), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := p.ctx(ctx).SetCookies(toProto(cookies)); err != nil {
		return domain.Wrap(err, domain.CodePageUnavailable, true, "set cookies")
	}
	return nil
}

func (p *Page) Network() ports.NetworkMonitor { return p.tracker }

func (p *Page) Loaded() bool { return p.tracker.Loaded() }

func fromProto(cookies []*proto.NetworkCookie) []domain.Cookie {
	out := make([]domain.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out
}

func toProto(cookies []domain.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out
}

var _ ports.Page = (*Page)(nil)
