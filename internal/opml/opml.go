// Package opml exports tracked novels as OPML outlines grouped by source and
// reads them back.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a source folder or a single novel.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Status   string    `xml:"status,attr,omitempty"`
	Notes    string    `xml:"notes,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is a novel read from an outline. Source is the enclosing folder name.
type Entry struct {
	Source string
	Title  string
	URL    string
	Status string
	Notes  string
}

// Novel converts the entry to a record ready for insertion.
func (e Entry) Novel() model.Novel {
	return model.Novel{
		Name:   e.Title,
		URL:    e.URL,
		Source: strings.ToLower(e.Source),
		Status: e.Status,
		Notes:  e.Notes,
	}
}

// Parse reads an OPML document and returns a flat list of entries. Outlines
// without a URL are folders; nested folders keep the innermost name as source.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline, folder string)
	walk = func(outlines []Outline, folder string) {
		for _, o := range outlines {
			link := o.HTMLURL
			if link == "" {
				link = o.XMLURL
			}
			if link != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Source: folder,
					Title:  strings.TrimSpace(title),
					URL:    strings.TrimSpace(link),
					Status: o.Status,
					Notes:  o.Notes,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, strings.TrimSpace(name))
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export generates an OPML document with one folder per source label.
// Novels without a source sit at the top level.
func Export(title string, novels []model.Novel, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}

	folders := make(map[string]*Outline)
	var rootOutlines []Outline
	for _, n := range novels {
		item := Outline{
			Text:    n.Name,
			Title:   n.Name,
			Type:    "link",
			HTMLURL: n.URL,
			Status:  n.Status,
			Notes:   n.Notes,
		}
		if n.Source == "feed" || n.Source == "rss" {
			item.Type = "rss"
			item.XMLURL = n.URL
		}
		if n.Source == "" {
			rootOutlines = append(rootOutlines, item)
			continue
		}
		fo, ok := folders[n.Source]
		if !ok {
			fo = &Outline{Text: n.Source, Title: n.Source}
			folders[n.Source] = fo
		}
		fo.Outlines = append(fo.Outlines, item)
	}

	names := make([]string, 0, len(folders))
	for name := range folders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rootOutlines = append(rootOutlines, *folders[name])
	}
	doc.Body.Outlines = rootOutlines

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
