package view

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// CoverPrefix is where cover files are served from.
const CoverPrefix = "static/img/cover/"

// PopupDescriptionLimit is the number of description characters shown in the popup.
const PopupDescriptionLimit = 200

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Escape replaces & < > " and ' with entities.
func Escape(s string) string {
	if s == "" {
		return ""
	}
	return htmlEscaper.Replace(s)
}

// NameCell links the novel name and carries author, description and cover for the hover popup.
func NameCell(r Row) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		href := "#"
		if r.URL.Value != "" {
			href = string(templ.URL(r.URL.Value))
		}
		img := ""
		if r.CoverPath.Value != "" {
			img = CoverPrefix + r.CoverPath.Value
		}
		_, err := fmt.Fprintf(w, `<span class="novel-hover" data-author="%s" data-desc="%s" data-img="%s"><a href="%s" target="_blank" rel="noopener">%s</a></span>`,
			Escape(r.Author.Value), Escape(r.Description.Value), Escape(img), Escape(href), Escape(r.Name.Value))
		return err
	})
}

// ActionsCell renders the edit, update and delete buttons with every value
// their handlers need.
func ActionsCell(r Row) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		id := Escape(r.ID.Value)
		name := Escape(r.Name.Value)
		if _, err := fmt.Fprintf(w, `<button class="btn btn-act btn-edit" data-id="%s" data-name="%s" data-url="%s" data-localchap="%s" data-onlinechap="%s" data-source="%s" data-status="%s" data-notes="%s" data-filepath="%s">✏️</button>`,
			id, name, Escape(r.URL.Value), Escape(r.LocalChap.Value), Escape(r.OnlineChap.Value),
			Escape(r.Source.Value), Escape(r.Status.Value), Escape(r.Notes.Value), Escape(r.Filepath.Value)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<button class="btn btn-act btn-update" data-id="%s" data-name="%s" data-url="%s" data-source="%s" data-localchap="%s" data-onlinechap="%s" data-filepath="%s">🔄</button>`,
			id, name, Escape(r.URL.Value), Escape(r.Source.Value), Escape(r.LocalChap.Value),
			Escape(r.OnlineChap.Value), Escape(r.Filepath.Value)); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, `<button class="btn btn-act btn-del" data-id="%s" data-name="%s">🗑</button>`, id, name)
		return err
	})
}

// PopupContent is the hover popup body: the cover when known, the author
// ("Unknown" when blank) and the start of the description.
func PopupContent(img, author, desc string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if img != "" {
			if _, err := fmt.Fprintf(w, `<img src="%s">`, Escape(string(templ.URL(img)))); err != nil {
				return err
			}
		}
		if author == "" {
			author = "Unknown"
		}
		_, err := fmt.Fprintf(w, `<b>%s</b><br><div>%s</div>`, Escape(author), Escape(PopupDescription(desc)))
		return err
	})
}

// PopupDescription cuts desc to PopupDescriptionLimit characters and appends
// an ellipsis. An empty description stays empty.
func PopupDescription(desc string) string {
	if desc == "" {
		return ""
	}
	r := []rune(desc)
	if len(r) > PopupDescriptionLimit {
		r = r[:PopupDescriptionLimit]
	}
	return string(r) + "…"
}

// Render renders c to a string. The fragments here only fail on write
// errors, which a bytes.Buffer never returns.
func Render(c templ.Component) string {
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// Cell returns the HTML of column col for r.
func Cell(col Column, r Row) string {
	switch col.Key {
	case ColName:
		return Render(NameCell(r))
	case ColActions:
		return Render(ActionsCell(r))
	}
	return Escape(col.Text(r))
}
