package epub

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	epubPattern  = "*.[eE][pP][uU][bB]"
	coverPattern = "*.[wW][eE][bB][pP]"
)

// Library is the EPUB directory and the cover image directory next to it.
type Library struct {
	EPUBDir  string
	CoverDir string
}

// NewLibrary returns a Library rooted at the given directories.
func NewLibrary(epubDir, coverDir string) *Library {
	return &Library{EPUBDir: epubDir, CoverDir: coverDir}
}

// EPUBs lists the EPUB file names in the library directory.
func (l *Library) EPUBs() ([]string, error) {
	return glob(l.EPUBDir, epubPattern)
}

// Covers lists the cover file names in the cover directory.
func (l *Library) Covers() ([]string, error) {
	return glob(l.CoverDir, coverPattern)
}

// ErrOutsideLibrary is returned for names that resolve outside the EPUB directory.
var ErrOutsideLibrary = errors.New("epub: path outside the library")

// Path resolves a stored EPUB path against the library directory. Absolute
// names and names climbing out with ".." are rejected.
func (l *Library) Path(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideLibrary, name)
	}
	return filepath.Join(l.EPUBDir, rel), nil
}

// CoverPath resolves a cover file name against the cover directory.
func (l *Library) CoverPath(name string) string {
	return filepath.Join(l.CoverDir, filepath.Base(name))
}

// Exists reports whether the named EPUB is a regular file in the library.
func (l *Library) Exists(name string) bool {
	if name == "" {
		return false
	}
	path, err := l.Path(name)
	if err != nil {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Open opens the named EPUB from the library.
func (l *Library) Open(name string) (*Book, error) {
	if name == "" {
		return nil, fmt.Errorf("epub: empty file name")
	}
	path, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	return Open(path)
}

func glob(dir, pattern string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}
