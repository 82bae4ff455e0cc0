package client

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bryan-buckman/noveltracker/internal/view"
)

// PopupOffset is the distance in pixels between the pointer and the popup corner.
const PopupOffset = 15

// Popup is the single floating element that shows a novel's cover, author
// and description while the pointer is over its name.
type Popup struct {
	page *Page
}

// Show fills the popup and places it next to the pointer.
func (p *Popup) Show(img, author, desc string, x, y int) {
	html := view.Render(view.PopupContent(img, author, desc))
	p.page.mu.Lock()
	defer p.page.mu.Unlock()
	el := p.page.popup()
	el.SetHtml(html)
	setStyle(el, "display", "block")
	place(el, x, y)
}

// Move places the popup next to the pointer.
func (p *Popup) Move(x, y int) {
	p.page.mu.Lock()
	defer p.page.mu.Unlock()
	place(p.page.popup(), x, y)
}

// Hide hides the popup whatever it shows.
func (p *Popup) Hide() {
	p.page.mu.Lock()
	defer p.page.mu.Unlock()
	setStyle(p.page.popup(), "display", "none")
}

// Visible reports whether the popup is shown.
func (p *Popup) Visible() bool {
	p.page.mu.Lock()
	defer p.page.mu.Unlock()
	return styleValue(p.page.popup().AttrOr("style", ""), "display") == "block"
}

// HTML returns the popup content.
func (p *Popup) HTML() string {
	p.page.mu.Lock()
	defer p.page.mu.Unlock()
	h, _ := p.page.popup().Html()
	return h
}

// Position returns the popup's left and top offsets in pixels.
func (p *Popup) Position() (left, top int) {
	p.page.mu.Lock()
	defer p.page.mu.Unlock()
	style := p.page.popup().AttrOr("style", "")
	return px(styleValue(style, "left")), px(styleValue(style, "top"))
}

func place(el *goquery.Selection, x, y int) {
	setStyle(el, "left", strconv.Itoa(x+PopupOffset)+"px")
	setStyle(el, "top", strconv.Itoa(y+PopupOffset)+"px")
}

func px(v string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(v, "px"))
	return n
}
