package ports

import (
	"context"
	"time"

	"github.com/aretw0/marionette/pkg/domain"
)

// LayoutMetrics describes the viewport and document size of a Page.
type LayoutMetrics struct {
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
	ContentWidth   float64 `json:"contentWidth"`
	ContentHeight  float64 `json:"contentHeight"`
}

// NetworkMonitor reports network activity of a Page.
// Implementations are written from browser event goroutines and must lock internally.
type NetworkMonitor interface {
	// IsSilentFor reports whether no request has been in flight, or started, for at least d.
	IsSilentFor(d time.Duration) bool
	// IsSilent reports whether no request is currently in flight.
	IsSilent() bool
}

// Page is the capability the engine consumes to observe and act upon a rendered page.
// A nil or domain.Document scope means the whole document.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Send issues a raw browser protocol command.
	Send(ctx context.Context, method string, params map[string]any) (map[string]any, error)
	LayoutMetrics(ctx context.Context) (LayoutMetrics, error)

	Document(ctx context.Context) (domain.Node, error)
	QueryAll(ctx context.Context, scope domain.Node, selector string) ([]domain.Node, error)
	QueryXPath(ctx context.Context, scope domain.Node, expr string) ([]domain.Node, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, node domain.Node, name string) (string, bool, error)
	Text(ctx context.Context, node domain.Node) (string, error)
	HTML(ctx context.Context, node domain.Node) (string, error)

	Click(ctx context.Context, node domain.Node) error
	Type(ctx context.Context, node domain.Node, text string) error

	URL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]domain.Cookie, error)
	SetCookies(ctx context.Context, cookies []domain.Cookie) error

	Network() NetworkMonitor
	// Loaded reports whether the main frame has finished loading.
	Loaded() bool
}
