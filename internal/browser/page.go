package browser

import (
	"context"
	"fmt"
)

// PageSource supplies the markup and address of the page under test.
type PageSource interface {
	HTML(ctx context.Context) (string, error)
	URL() string
}

// StaticPage is an in-memory PageSource.
type StaticPage struct {
	Content string
	PageURL string
}

// HTML implements PageSource.
func (p StaticPage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.Content, nil
}

// URL implements PageSource.
func (p StaticPage) URL() string { return p.PageURL }

// Capture reads the current page from src and returns both its simplified
// snapshot and a Document for selector counts.
func Capture(ctx context.Context, src PageSource, maxChars int) (Snapshot, *Document, error) {
	raw, err := src.HTML(ctx)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("read page: %w", err)
	}
	if maxChars == 0 {
		maxChars = DefaultSnapshotChars
	}
	snap, err := Simplify(raw, maxChars)
	if err != nil {
		return Snapshot{}, nil, err
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, doc, nil
}
