// Package epub reads the metadata, table of contents and cover of EPUB files.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNoRootfile = errors.New("epub: container has no rootfile")
	ErrNoCover    = errors.New("epub: no cover image")
)

// Book is an open EPUB archive.
type Book struct {
	zr     *zip.Reader
	closer io.Closer
	opfDir string
	pkg    packageDoc
}

// Metadata holds the Dublin Core fields the tracker uses.
type Metadata struct {
	Title       string
	Author      string
	Description string
	URL         string // dc:source
}

// NavPoint is one table of contents entry.
type NavPoint struct {
	Label    string
	Href     string
	Children []NavPoint
}

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDoc struct {
	Version  string `xml:"version,attr"`
	Metadata struct {
		Titles       []string `xml:"title"`
		Creators     []string `xml:"creator"`
		Descriptions []string `xml:"description"`
		Sources      []string `xml:"source"`
		Metas        []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest []manifestItem `xml:"manifest>item"`
	Spine    struct {
		Toc string `xml:"toc,attr"`
	} `xml:"spine"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type ncxDoc struct {
	NavMap struct {
		Points []ncxPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Points []ncxPoint `xml:"navPoint"`
}

// Open opens the EPUB at path. The caller must Close it.
func Open(path string) (*Book, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open epub %s: %w", path, err)
	}
	b, err := newBook(&rc.Reader)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("read epub %s: %w", path, err)
	}
	b.closer = rc
	return b, nil
}

// NewReader reads an EPUB from r.
func NewReader(r io.ReaderAt, size int64) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	return newBook(zr)
}

func newBook(zr *zip.Reader) (*Book, error) {
	b := &Book{zr: zr}

	var c container
	if err := b.decodeXML("META-INF/container.xml", &c); err != nil {
		return nil, err
	}
	opfPath := ""
	for _, rf := range c.Rootfiles {
		if rf.FullPath != "" {
			opfPath = rf.FullPath
			break
		}
	}
	if opfPath == "" {
		return nil, ErrNoRootfile
	}
	if err := b.decodeXML(opfPath, &b.pkg); err != nil {
		return nil, err
	}
	b.opfDir = path.Dir(opfPath)
	return b, nil
}

// Close releases the underlying file.
func (b *Book) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Metadata returns the first title, creator, description and source, trimmed.
func (b *Book) Metadata() Metadata {
	md := b.pkg.Metadata
	return Metadata{
		Title:       first(md.Titles),
		Author:      first(md.Creators),
		Description: first(md.Descriptions),
		URL:         first(md.Sources),
	}
}

// TOC returns the table of contents from the NCX, or the EPUB 3 navigation
// document when the book has no NCX.
func (b *Book) TOC() ([]NavPoint, error) {
	if item, ok := b.ncxItem(); ok {
		var doc ncxDoc
		if err := b.decodeXML(b.resolve(item.Href), &doc); err != nil {
			return nil, err
		}
		return convertNCX(doc.NavMap.Points), nil
	}
	if item, ok := b.itemWithProperty("nav"); ok {
		return b.navTOC(item)
	}
	return nil, nil
}

// Cover returns the cover image bytes and media type: the item marked
// cover-image, else the one named by the EPUB 2 cover meta, else the first image.
func (b *Book) Cover() ([]byte, string, error) {
	item, ok := b.itemWithProperty("cover-image")
	if !ok {
		for _, m := range b.pkg.Metadata.Metas {
			if m.Name == "cover" {
				item, ok = b.itemByID(m.Content)
				break
			}
		}
	}
	if ok && !strings.HasPrefix(item.MediaType, "image/") {
		ok = false
	}
	if !ok {
		for _, it := range b.pkg.Manifest {
			if strings.HasPrefix(it.MediaType, "image/") {
				item, ok = it, true
				break
			}
		}
	}
	if !ok {
		return nil, "", ErrNoCover
	}
	data, err := b.readFile(b.resolve(item.Href))
	if err != nil {
		return nil, "", err
	}
	return data, item.MediaType, nil
}

// LocalChapters counts the chapters listed in the table of contents.
func (b *Book) LocalChapters() (int, error) {
	toc, err := b.TOC()
	if err != nil {
		return 0, err
	}
	return CountChapters(toc), nil
}

// CountChapters counts leaf entries whose label mentions "chapter" but not
// "volume". Entries with children only contribute their children.
func CountChapters(toc []NavPoint) int {
	total := 0
	for _, p := range toc {
		if len(p.Children) > 0 {
			total += CountChapters(p.Children)
			continue
		}
		label := strings.ToLower(p.Label)
		if strings.Contains(label, "chapter") && !strings.Contains(label, "volume") {
			total++
		}
	}
	return total
}

func (b *Book) ncxItem() (manifestItem, bool) {
	if id := b.pkg.Spine.Toc; id != "" {
		if it, ok := b.itemByID(id); ok {
			return it, true
		}
	}
	for _, it := range b.pkg.Manifest {
		if it.MediaType == "application/x-dtbncx+xml" {
			return it, true
		}
	}
	return manifestItem{}, false
}

func (b *Book) itemByID(id string) (manifestItem, bool) {
	for _, it := range b.pkg.Manifest {
		if it.ID == id {
			return it, true
		}
	}
	return manifestItem{}, false
}

func (b *Book) itemWithProperty(prop string) (manifestItem, bool) {
	for _, it := range b.pkg.Manifest {
		for _, p := range strings.Fields(it.Properties) {
			if p == prop {
				return it, true
			}
		}
	}
	return manifestItem{}, false
}

func (b *Book) navTOC(item manifestItem) ([]NavPoint, error) {
	f, err := b.openFile(b.resolve(item.Href))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse nav document: %w", err)
	}

	nav := doc.Find("nav").FilterFunction(func(_ int, s *goquery.Selection) bool {
		t, _ := s.Attr("epub:type")
		return t == "toc"
	}).First()
	if nav.Length() == 0 {
		nav = doc.Find("nav").First()
	}
	return navList(nav.ChildrenFiltered("ol").First()), nil
}

func navList(ol *goquery.Selection) []NavPoint {
	var points []NavPoint
	ol.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		label := li.ChildrenFiltered("a, span").First()
		p := NavPoint{Label: strings.TrimSpace(label.Text())}
		p.Href, _ = label.Attr("href")
		p.Children = navList(li.ChildrenFiltered("ol").First())
		points = append(points, p)
	})
	return points
}

func convertNCX(points []ncxPoint) []NavPoint {
	var out []NavPoint
	for _, p := range points {
		out = append(out, NavPoint{
			Label:    strings.TrimSpace(p.Label),
			Href:     p.Content.Src,
			Children: convertNCX(p.Points),
		})
	}
	return out
}

// resolve turns a manifest href into an archive path.
func (b *Book) resolve(href string) string {
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if b.opfDir == "." || b.opfDir == "" {
		return path.Clean(href)
	}
	return path.Join(b.opfDir, href)
}

func (b *Book) openFile(name string) (io.ReadCloser, error) {
	for _, f := range b.zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("epub: missing %s", name)
}

func (b *Book) readFile(name string) ([]byte, error) {
	f, err := b.openFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (b *Book) decodeXML(name string, v any) error {
	f, err := b.openFile(name)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := xml.NewDecoder(f)
	dec.Strict = false
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
