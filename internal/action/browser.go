package action

import (
	"context"

	"agentgate/internal/browser"
)

// PageVisitor loads a web page. *browser.Bridge implements it.
type PageVisitor interface {
	Visit(ctx context.Context, rawURL string) (*browser.Page, error)
}

// BrowserOpen navigates the shared automation browser. Only one run may use
// the browser at a time; the policy assigns it the "browser" resource.
type BrowserOpen struct {
	visitor PageVisitor
}

func NewBrowserOpen(v PageVisitor) *BrowserOpen {
	return &BrowserOpen{visitor: v}
}

func (b *BrowserOpen) Name() string { return "browser_open" }

func (b *BrowserOpen) Description() string {
	return "Open a URL in the automation browser and return the page title and text excerpt."
}

func (b *BrowserOpen) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"url": {Type: "string", Description: "http(s) URL to open"},
		},
		[]string{"url"},
	)
}

type browserParams struct {
	URL string `json:"url" validate:"required,url"`
}

func (b *BrowserOpen) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var p browserParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return b.visitor.Visit(ctx, p.URL)
}
