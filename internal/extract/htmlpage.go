package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLPage is a Page over static markup, used to re-harvest saved documents.
// It has no cookie jar.
type HTMLPage struct {
	raw string
	doc *goquery.Document
}

// NewHTMLPage parses r into a Page.
func NewHTMLPage(r io.Reader) (*HTMLPage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markup: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return &HTMLPage{raw: string(raw), doc: doc}, nil
}

func (p *HTMLPage) Content(context.Context) (string, error) {
	return p.raw, nil
}

func (p *HTMLPage) Cookies(context.Context) ([]Cookie, error) {
	return []Cookie{}, nil
}

func (p *HTMLPage) HiddenInputs(context.Context) ([]HiddenInput, error) {
	var out []HiddenInput
	p.doc.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		value, _ := s.Attr("value")
		out = append(out, HiddenInput{Name: name, Value: value})
	})
	return out, nil
}

func (p *HTMLPage) TextContent(_ context.Context, selector string) (string, bool, error) {
	sel, err := p.find(selector)
	if err != nil || sel.Length() == 0 {
		return "", false, err
	}
	return sel.Text(), true, nil
}

func (p *HTMLPage) Attribute(_ context.Context, selector, attr string) (string, bool, error) {
	sel, err := p.find(selector)
	if err != nil || sel.Length() == 0 {
		return "", false, err
	}
	v, ok := sel.Attr(attr)
	return v, ok, nil
}

// find returns the first element matching selector.
func (p *HTMLPage) find(selector string) (sel *goquery.Selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid selector %q: %v", selector, r)
		}
	}()
	return p.doc.Find(selector).First(), nil
}
