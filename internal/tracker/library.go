package tracker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/source"
)

// OngoingDays is the age of the latest chapter up to which a novel counts as ongoing.
const OngoingDays = 30

// ImportEPUB adds the library file filename as a new novel.
func (s *Service) ImportEPUB(ctx context.Context, filename string) model.Result {
	res := s.importEPUB(ctx, filename)
	s.metrics.RecordImport(res.OK())
	return res
}

func (s *Service) importEPUB(ctx context.Context, filename string) model.Result {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return model.Result{Status: model.CategoryError, Message: "Missing filename"}
	}
	e, err := s.env(ctx)
	if err != nil {
		return errorResult(err)
	}
	book, err := e.library.Open(filename)
	if err != nil {
		return errorResult(err)
	}
	meta := book.Metadata()
	local, tocErr := book.LocalChapters()
	book.Close()
	if tocErr != nil || local == 0 {
		return model.Result{Status: model.CategoryError, Message: fmt.Sprintf("Could not determine chapter count for %s", filename)}
	}

	n := model.Novel{
		Name:        meta.Title,
		URL:         meta.URL,
		Author:      meta.Author,
		Description: s.sanitizer.Text(meta.Description),
		LocalChap:   float64(local),
		Filepath:    filename,
		EpubExists:  "1",
	}
	if n.Name == "" {
		n.Name = "Unknown Title"
	}
	n.Source = source.Label(n.URL)
	if n.Source == "" {
		n.Source = "local"
	}

	coverURL := ""
	info, err := s.lookup(ctx, e, n.Source, n.URL)
	switch {
	case err == nil:
		n.OnlineChap = info.Chapters
		n.LatestChapTime = info.LatestAt
		if info.Author != "" {
			n.Author = info.Author
		}
		if d := s.sanitizer.Text(info.Description); d != "" {
			n.Description = d
		}
		coverURL = info.CoverURL
	case !errors.Is(err, model.ErrUnsupportedSource):
		s.log.Warn("import: online lookup failed", "file", filename, "error", err)
	}
	if n.LatestChapTime != nil {
		n.Status = "Hiatus"
		if model.DaysSince(*n.LatestChapTime, s.now()) <= OngoingDays {
			n.Status = "Ongoing"
		}
	}
	n.CoverPath = s.storeCover(ctx, e, CoverID(n.Source, n.URL, n.Name), coverURL, filename)

	id, err := s.store.CreateNovel(ctx, &n)
	if err != nil {
		return errorResult(fmt.Errorf("import %s: %w", filename, err))
	}
	s.log.Info("epub imported", "id", id, "file", filename, "chapters", local)
	return model.Result{Status: model.CategorySuccess, Message: fmt.Sprintf("%s imported successfully", n.Name)}
}

// EPUB metadata selectors accepted by EPUBFields.
const (
	GetTitle  = "title"
	GetSource = "source"
	GetURL    = "url"
	GetAuthor = "author"
	GetDesc   = "desc"
	GetLChap  = "lchap"
	GetOChap  = "ochap"
	GetAll    = "all"
)

// EPUBFields reads the fields selected by get from a library EPUB. Unselected
// fields stay nil.
func (s *Service) EPUBFields(ctx context.Context, get, filename string) (model.EPUBFields, error) {
	var f model.EPUBFields
	e, err := s.env(ctx)
	if err != nil {
		return f, err
	}
	book, err := e.library.Open(filename)
	if err != nil {
		return f, err
	}
	defer book.Close()
	meta := book.Metadata()
	label := source.Label(meta.URL)

	all := get == GetAll
	if all || get == GetTitle {
		f.Title = &meta.Title
	}
	if all || get == GetSource {
		f.Source = &label
	}
	if all || get == GetURL {
		f.URL = &meta.URL
	}
	if all || get == GetAuthor {
		f.Author = &meta.Author
	}
	if all || get == GetDesc {
		d := s.sanitizer.Text(meta.Description)
		f.Description = &d
	}
	if all || get == GetLChap {
		if n, err := book.LocalChapters(); err == nil {
			local := float64(n)
			f.LocalChap = &local
		}
	}
	if all || get == GetOChap {
		if info, err := s.lookup(ctx, e, label, meta.URL); err == nil {
			f.OnlineChap = &info.Chapters
		} else if !errors.Is(err, model.ErrUnsupportedSource) {
			s.log.Warn("epub info: online lookup failed", "file", filename, "error", err)
		}
	}
	return f, nil
}

// ScanUnrecorded lists library EPUBs and cover files that no novel references.
func (s *Service) ScanUnrecorded(ctx context.Context) (model.ScanResult, error) {
	res := model.ScanResult{Files: []string{}, Covers: []string{}}
	e, err := s.env(ctx)
	if err != nil {
		return res, err
	}
	trackedEPUBs, trackedCovers, err := s.store.TrackedFiles(ctx)
	if err != nil {
		return res, fmt.Errorf("tracked files: %w", err)
	}
	files, err := e.library.EPUBs()
	if err != nil {
		return res, err
	}
	covers, err := e.library.Covers()
	if err != nil {
		return res, err
	}
	for _, f := range files {
		if _, ok := trackedEPUBs[filepath.Base(f)]; !ok {
			res.Files = append(res.Files, f)
		}
	}
	for _, c := range covers {
		if _, ok := trackedCovers[filepath.Base(c)]; !ok {
			res.Covers = append(res.Covers, c)
		}
	}
	return res, nil
}

// ImportNovels inserts novels whose URL is not tracked yet and returns how many were added.
func (s *Service) ImportNovels(ctx context.Context, novels []model.Novel) (int, error) {
	existing, err := s.store.ListNovels(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, n := range existing {
		seen[n.URL] = true
	}
	added := 0
	for _, n := range novels {
		if n.Name == "" || n.URL == "" || seen[n.URL] {
			continue
		}
		if n.Source == "" {
			n.Source = source.Label(n.URL)
		}
		n.Description = s.sanitizer.Text(n.Description)
		if _, err := s.store.CreateNovel(ctx, &n); err != nil {
			return added, fmt.Errorf("import %s: %w", n.Name, err)
		}
		seen[n.URL] = true
		added++
	}
	return added, nil
}
