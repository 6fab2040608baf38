// Package static implements ports.Page over parsed HTML documents.
//
// It never runs page scripts: navigation fetches HTML (from registered routes
// or over HTTP), the document is always loaded and the network silent once the
// fetch completes. It backs offline script validation and the test suites.
package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/network"
	"github.com/aretw0/marionette/pkg/ports"
	"golang.org/x/net/html"
)

// Node wraps a parsed HTML node.
type Node struct {
	n *html.Node
}

// Describe renders the node as tag#id.class.
func (n *Node) Describe() string {
	if n.n.Type == html.DocumentNode {
		return "#document"
	}
	if n.n.Type == html.TextNode {
		return "#text"
	}
	var b strings.Builder
	b.WriteString(n.n.Data)
	for _, a := range n.n.Attr {
		switch a.Key {
		case "id":
			b.WriteString("#" + a.Val)
		case "class":
			for _, c := range strings.Fields(a.Val) {
				b.WriteString("." + c)
			}
		}
	}
	return b.String()
}

// HTMLNode returns the underlying parsed node.
func (n *Node) HTMLNode() *html.Node { return n.n }

// Page is an in-memory page.
type Page struct {
	mu      sync.RWMutex
	doc     *html.Node
	url     string
	cookies []domain.Cookie
	routes  map[string]string
	client  *http.Client
	tracker *network.Tracker
	onClick func(ctx context.Context, p *Page, n *Node) error
}

// Option configures a Page.
type Option func(*Page)

// WithRoutes serves navigation to the given URLs from memory.
func WithRoutes(routes map[string]string) Option {
	return func(p *Page) {
		for k, v := range routes {
			p.routes[k] = v
		}
	}
}

// WithHTTPClient sets the client used to fetch unrouted URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

// WithClickHandler overrides what a click does. The default follows links.
func WithClickHandler(fn func(ctx context.Context, p *Page, n *Node) error) Option {
	return func(p *Page) { p.onClick = fn }
}

// New creates a page showing content.
func New(content string, opts ...Option) (*Page, error) {
	p := &Page{
		routes:  make(map[string]string),
		client:  http.DefaultClient,
		tracker: network.NewTracker(),
		onClick: followLink,
		url:     "about:blank",
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.SetContent(content); err != nil {
		return nil, err
	}
	return p, nil
}

// SetContent replaces the document.
func (p *Page) SetContent(content string) error {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	p.tracker.SetLoaded(true)
	return nil
}

// Tracker exposes the network tracker, e.g. to simulate activity in tests.
func (p *Page) Tracker() *network.Tracker { return p.tracker }

func (p *Page) root(scope domain.Node) (*html.Node, error) {
	if domain.IsDocument(scope) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.doc, nil
	}
	n, ok := scope.(*Node)
	if !ok {
		return nil, domain.Fatal(domain.CodeInvalidParameter, "foreign node %s", scope.Describe())
	}
	return n.n, nil
}

func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	target, err := p.resolve(rawURL)
	if err != nil {
		return err
	}
	p.tracker.Navigated()
	p.tracker.RequestStarted(target)
	defer p.tracker.RequestFinished(target)

	content, ok := p.routes[target]
	if !ok {
		content, err = p.fetch(ctx, target)
		if err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.url = target
	p.mu.Unlock()
	return p.SetContent(content)
}

func (p *Page) resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	p.mu.RLock()
	current := p.url
	p.mu.RUnlock()
	if base, err := url.Parse(current); err == nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	return u.String(), nil
}

func (p *Page) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	p.mu.RLock()
	for _, c := range p.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	p.mu.RUnlock()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	return string(body), nil
}

func (p *Page) Send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return nil, domain.Fatal(domain.CodePageUnavailable, "static page does not speak the browser protocol (%s)", method)
}

func (p *Page) LayoutMetrics(ctx context.Context) (ports.LayoutMetrics, error) {
	return ports.LayoutMetrics{}, nil
}

func (p *Page) Document(ctx context.Context) (domain.Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Node{n: p.doc}, nil
}

func wrap(nodes []*html.Node) []domain.Node {
	out := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Node{n: n})
	}
	return out
}

func (p *Page) QueryAll(ctx context.Context, scope domain.Node, selector string) ([]domain.Node, error) {
	root, err := p.root(scope)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return wrap(goquery.NewDocumentFromNode(root).Find(selector).Nodes), nil
}

func (p *Page) QueryXPath(ctx context.Context, scope domain.Node, expr string) ([]domain.Node, error) {
	root, err := p.root(scope)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodeInvalidParameter, false, "invalid xpath %q", expr)
	}
	return wrap(nodes), nil
}

func (p *Page) Attribute(ctx context.Context, node domain.Node, name string) (string, bool, error) {
	n, err := p.root(node)
	if err != nil {
		return "", false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

func (p *Page) Text(ctx context.Context, node domain.Node) (string, error) {
	n, err := p.root(node)
	if err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return goquery.NewDocumentFromNode(n).Text(), nil
}

func (p *Page) HTML(ctx context.Context, node domain.Node) (string, error) {
	n, err := p.root(node)
	if err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
}

func (p *Page) Click(ctx context.Context, node domain.Node) error {
	n, ok := node.(*Node)
	if !ok {
		return domain.Fatal(domain.CodeInvalidParameter, "cannot click %s", node.Describe())
	}
	return p.onClick(ctx, p, n)
}

// followLink navigates to the href of clicked anchors; other clicks are no-ops.
func followLink(ctx context.Context, p *Page, n *Node) error {
	for cur := n.n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.Data == "a" {
			for _, a := range cur.Attr {
				if a.Key == "href" && a.Val != "" {
					return p.Navigate(ctx, a.Val)
				}
			}
		}
	}
	return nil
}

// Type sets the value attribute of the node.
func (p *Page) Type(ctx context.Context, node domain.Node, text string) error {
	n, ok := node.(*Node)
	if !ok {
		return domain.Fatal(domain.CodeInvalidParameter, "cannot type into %s", node.Describe())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range n.n.Attr {
		if a.Key == "value" {
			n.n.Attr[i].Val = text
			return nil
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: "value", Val: text})
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url, nil
}

func (p *Page) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Cookie(nil), p.cookies...), nil
}

// SetCookies replaces cookies with the same name, domain and path.
func (p *Page) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cookies {
		replaced := false
		for i, existing := range p.cookies {
			if existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path {
				p.cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			p.cookies = append(p.cookies, c)
		}
	}
	return nil
}

func (p *Page) Network() ports.NetworkMonitor { return p.tracker }

func (p *Page) Loaded() bool { return p.tracker.Loaded() }

var _ ports.Page = (*Page)(nil)
