// Package epubtest builds small EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Chapter is a table of contents entry. Entries with Children become sections.
type Chapter struct {
	Title    string
	Children []Chapter
}

// Book describes the archive to build.
type Book struct {
	Title       string
	Author      string
	Description string
	Source      string
	TOC         []Chapter
	Cover       []byte // stored as images/cover.jpg when set
	Nav         bool   // EPUB 3 nav document instead of an NCX
}

// Chapters returns n flat entries named "Chapter 1".."Chapter n".
func Chapters(n int) []Chapter {
	out := make([]Chapter, n)
	for i := range out {
		out[i] = Chapter{Title: fmt.Sprintf("Chapter %d", i+1)}
	}
	return out
}

// Write creates the EPUB at path, creating parent directories.
func Write(t testing.TB, path string, b Book) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, Bytes(t, b), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Bytes returns the EPUB archive for b.
func Bytes(t testing.TB, b Book) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name, content string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	add("mimetype", "application/epub+zip")
	add("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`)
	add("OEBPS/content.opf", opf(b))
	if b.Nav {
		add("OEBPS/nav.xhtml", nav(b.TOC))
	} else {
		add("OEBPS/toc.ncx", ncx(b.TOC))
	}
	if b.Cover != nil {
		w, err := zw.Create("OEBPS/images/cover.jpg")
		if err != nil {
			t.Fatal(err)
		}
		w.Write(b.Cover)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func opf(b Book) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	meta := func(tag, v string) {
		if v != "" {
			fmt.Fprintf(&sb, "<dc:%s>%s</dc:%s>\n", tag, html.EscapeString(v), tag)
		}
	}
	meta("title", b.Title)
	meta("creator", b.Author)
	meta("description", b.Description)
	meta("source", b.Source)
	if b.Cover != nil {
		sb.WriteString(`<meta name="cover" content="cover-img"/>` + "\n")
	}
	sb.WriteString("</metadata>\n<manifest>\n")
	if b.Nav {
		sb.WriteString(`<item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")
	} else {
		sb.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>` + "\n")
	}
	if b.Cover != nil {
		sb.WriteString(`<item id="cover-img" href="images/cover.jpg" media-type="image/jpeg"/>` + "\n")
	}
	sb.WriteString("</manifest>\n")
	if b.Nav {
		sb.WriteString("<spine/>\n")
	} else {
		sb.WriteString(`<spine toc="ncx"/>` + "\n")
	}
	sb.WriteString("</package>")
	return sb.String()
}

func ncx(toc []Chapter) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1"><navMap>`)
	var write func([]Chapter)
	n := 0
	write = func(items []Chapter) {
		for _, c := range items {
			n++
			fmt.Fprintf(&sb, `<navPoint id="p%d" playOrder="%d"><navLabel><text>%s</text></navLabel><content src="c%d.xhtml"/>`,
				n, n, html.EscapeString(c.Title), n)
			write(c.Children)
			sb.WriteString("</navPoint>")
		}
	}
	write(toc)
	sb.WriteString("</navMap></ncx>")
	return sb.String()
}

func nav(toc []Chapter) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops"><body>
<nav epub:type="landmarks"><ol><li><a href="cover.xhtml">Chapter Cover</a></li></ol></nav>
<nav epub:type="toc">`)
	var write func([]Chapter)
	n := 0
	write = func(items []Chapter) {
		sb.WriteString("<ol>")
		for _, c := range items {
			n++
			if len(c.Children) > 0 {
				fmt.Fprintf(&sb, "<li><span>%s</span>", html.EscapeString(c.Title))
				write(c.Children)
			} else {
				fmt.Fprintf(&sb, `<li><a href="c%d.xhtml">%s</a>`, n, html.EscapeString(c.Title))
			}
			sb.WriteString("</li>")
		}
		sb.WriteString("</ol>")
	}
	write(toc)
	sb.WriteString("</nav></body></html>")
	return sb.String()
}
