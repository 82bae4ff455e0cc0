// Package client drives the tracker page without a browser: it loads the
// served index page, renders the novel table into it and runs the same
// flows the page script runs against the server.
package client

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

const (
	dataPrefix = "data-"
	popupClass = "hover-popup"
)

// Page is the loaded index document. Every read and write goes through its
// mutex, so flows running on different goroutines see consistent state.
type Page struct {
	mu  sync.Mutex
	doc *goquery.Document
}

// NewPage parses the index page and appends the hover popup element to its body.
func NewPage(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if doc.Find("#table tbody").Length() == 0 {
		return nil, fmt.Errorf("parse page: no novel table")
	}
	doc.Find("body").AppendHtml(`<div class="` + popupClass + `" style="display:none"></div>`)
	return &Page{doc: doc}, nil
}

func (p *Page) byID(id string) *goquery.Selection {
	return p.doc.Find("#" + id)
}

// Has reports whether an element with the id exists.
func (p *Page) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID(id).Length() > 0
}

// Value returns the value of the input with the id.
func (p *Page) Value(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.byID(id)
	if goquery.NodeName(sel) == "textarea" {
		return sel.Text()
	}
	return sel.AttrOr("value", "")
}

// SetValue sets the value of the input with the id.
func (p *Page) SetValue(id, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setValue(p.byID(id), v)
}

// SetNamed sets the value of the control named name inside form formID.
// Checkboxes are checked when v is non-empty.
func (p *Page) SetNamed(formID, name, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.byID(formID).Find(`[name="` + name + `"]`).First()
	if sel.Length() == 0 {
		return fmt.Errorf("form %s has no field %q", formID, name)
	}
	if sel.AttrOr("type", "") == "checkbox" {
		if v == "" {
			sel.RemoveAttr("checked")
		} else {
			sel.SetAttr("checked", "checked")
		}
		return nil
	}
	setValue(sel, v)
	return nil
}

func setValue(sel *goquery.Selection, v string) {
	if goquery.NodeName(sel) == "textarea" {
		sel.SetText(v)
		return
	}
	sel.SetAttr("value", v)
}

// Form serializes the named controls of a form the way a browser would:
// unchecked boxes, buttons and file inputs are left out.
func (p *Page) Form(id string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	values := url.Values{}
	p.byID(id).Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		switch goquery.NodeName(s) {
		case "textarea":
			values.Add(name, s.Text())
			return
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			values.Add(name, opt.AttrOr("value", opt.Text()))
			return
		}
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "checkbox", "radio":
			if _, ok := s.Attr("checked"); ok {
				values.Add(name, s.AttrOr("value", "on"))
			}
		case "submit", "button", "reset", "file", "image":
		default:
			values.Add(name, s.AttrOr("value", ""))
		}
	})
	return values
}

// Display returns the inline display style of the element, "" when unset.
func (p *Page) Display(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return styleValue(p.byID(id).AttrOr("style", ""), "display")
}

// SetDisplay sets the inline display style of the element.
func (p *Page) SetDisplay(id, display string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setStyle(p.byID(id), "display", display)
}

// Visible reports whether the element's display style is anything but none.
func (p *Page) Visible(id string) bool {
	d := p.Display(id)
	return d != "" && d != "none"
}

// HTML returns the inner HTML of the element.
func (p *Page) HTML(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, _ := p.byID(id).Html()
	return h
}

// SetHTML replaces the inner HTML of the element.
func (p *Page) SetHTML(id, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID(id).SetHtml(html)
}

// Text returns the text content of the element.
func (p *Page) Text(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID(id).Text()
}

// SetText replaces the content of the element with text.
func (p *Page) SetText(id, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID(id).SetText(text)
}

// Cursor returns the body cursor style.
func (p *Page) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return styleValue(p.doc.Find("body").AttrOr("style", ""), "cursor")
}

func (p *Page) setCursor(c string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setStyle(p.doc.Find("body"), "cursor", c)
}

// setRows replaces the rows of the novel table.
func (p *Page) setRows(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find("#table tbody").SetHtml(html)
}

// Find returns the first element matching selector. The selection must only
// be handed back to Page and UI methods.
func (p *Page) Find(selector string) *goquery.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector).First()
}

// Texts returns the text of every element matching selector, in document order.
func (p *Page) Texts(selector string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out
}

// Dataset returns the data-* attributes of the element without their prefix.
func (p *Page) Dataset(sel *goquery.Selection) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dataset(sel)
}

func dataset(sel *goquery.Selection) map[string]string {
	out := map[string]string{}
	if sel.Length() == 0 {
		return out
	}
	for _, a := range sel.Nodes[0].Attr {
		if k, ok := strings.CutPrefix(a.Key, dataPrefix); ok {
			out[k] = a.Val
		}
	}
	return out
}

// closest walks up from sel to the nearest element matching one of the
// selectors, checked in order, and returns the matched selector and its dataset.
func (p *Page) closest(sel *goquery.Selection, selectors ...string) (string, map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		if c := sel.Closest(s); c.Length() > 0 {
			return s, dataset(c)
		}
	}
	return "", nil
}

// matches reports which of the selectors sel itself matches, checked in order.
func (p *Page) matches(sel *goquery.Selection, selectors ...string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		if sel.Is(s) {
			return s
		}
	}
	return ""
}

func (p *Page) popup() *goquery.Selection {
	return p.doc.Find("." + popupClass)
}

// styleValue reads one property from an inline style attribute.
func styleValue(style, prop string) string {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(k) == prop {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// setStyle writes one property into the element's inline style, keeping the others.
func setStyle(sel *goquery.Selection, prop, value string) {
	var decls []string
	found := false
	for _, decl := range strings.Split(sel.AttrOr("style", ""), ";") {
		k, _, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == prop {
			decls = append(decls, prop+":"+value)
			found = true
			continue
		}
		decls = append(decls, strings.TrimSpace(decl))
	}
	if !found {
		decls = append(decls, prop+":"+value)
	}
	sel.SetAttr("style", strings.Join(decls, ";"))
}
