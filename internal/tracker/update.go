package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/source"
)

// UpdateParams are the values the update button carries for one novel.
type UpdateParams struct {
	Name       string
	URL        string
	Source     string
	LocalChap  float64
	OnlineChap float64
	Filepath   string
}

// timeLayout formats timestamps in change logs and LAST_BULK_TIME.
const timeLayout = "2006-01-02 15:04:05.000000"

// UpdateOne refreshes one novel from its chapter source and its EPUB, writing
// only the fields that changed. It returns model.ErrMissingFields when the
// source or URL is blank.
func (s *Service) UpdateOne(ctx context.Context, id int64, p UpdateParams) (model.Result, error) {
	if strings.TrimSpace(p.Source) == "" || strings.TrimSpace(p.URL) == "" {
		return model.Result{Status: model.CategoryError, Message: "Missing parameters"}, model.ErrMissingFields
	}
	current, err := s.store.GetNovel(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	e, err := s.env(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	var messages []string
	online := p.OnlineChap
	var latest *time.Time
	var author, desc, cover *string

	info, err := s.lookup(ctx, e, p.Source, p.URL)
	switch {
	case errors.Is(err, model.ErrUnsupportedSource):
		messages = append(messages, "Unsupported source (offline mode)")
	case errors.Is(err, source.ErrNoBookID):
		messages = append(messages, "Invalid book ID")
	case err != nil:
		messages = append(messages, fetchMessage(err))
	default:
		online = info.Chapters
		latest = info.LatestAt
		if info.Author != "" {
			author = &info.Author
		}
		if d := s.sanitizer.Text(info.Description); d != "" {
			desc = &d
		}
		if c := s.storeCover(ctx, e, CoverID(strings.ToLower(p.Source), p.URL, p.Name), info.CoverURL, p.Filepath); c != "" {
			cover = &c
		}
	}

	local := p.LocalChap
	if p.Filepath != "" {
		if n := s.countLocal(e, p.Filepath); n > 0 {
			local = float64(n)
		}
	}

	var patch model.NovelPatch
	var changes []string
	if online != p.OnlineChap {
		patch.OnlineChap = &online
		changes = append(changes, changeLine("onlinechap", formatNumber(p.OnlineChap), formatNumber(online)))
	}
	if local != p.LocalChap {
		patch.LocalChap = &local
		changes = append(changes, changeLine("localchap", formatNumber(p.LocalChap), formatNumber(local)))
	}
	if latest != nil && (current.LatestChapTime == nil || !current.LatestChapTime.Equal(*latest)) {
		patch.LatestChapTime = latest
		changes = append(changes, changeLine("latestchaptime", formatTime(current.LatestChapTime), formatTime(latest)))
	}
	if author != nil && *author != current.Author {
		patch.Author = author
		changes = append(changes, changeLine("author", orNone(current.Author), *author))
	}
	if desc != nil && *desc != current.Description {
		patch.Description = desc
		changes = append(changes, changeLine("description", orNone(truncate(current.Description, 40)), truncate(*desc, 40)))
	}
	if cover != nil && *cover != current.CoverPath {
		patch.CoverPath = cover
		changes = append(changes, changeLine("cover_path", orNone(current.CoverPath), *cover))
	}

	if patch.Empty() {
		messages = append(messages, fmt.Sprintf("No changes detected for '%s'. Up to date.", p.Name))
		return model.Result{Status: model.CategorySuccess, Message: strings.Join(messages, "\n")}, nil
	}
	if err := s.store.UpdateNovel(ctx, id, patch); err != nil {
		messages = append(messages, err.Error())
		return model.Result{Status: model.CategoryError, Message: strings.Join(messages, "\n")}, nil
	}
	s.log.Info("novel updated", "id", id, "changes", len(changes))
	messages = append(messages, fmt.Sprintf("'%s' updated:", p.Name))
	messages = append(messages, changes...)
	return model.Result{Status: model.CategorySuccess, Message: strings.Join(messages, "\n")}, nil
}

// countLocal returns the chapter count of an EPUB in the library, 0 when it cannot be read.
func (s *Service) countLocal(e *env, name string) int {
	book, err := e.library.Open(name)
	if err != nil {
		s.log.Warn("open epub", "file", name, "error", err)
		return 0
	}
	defer book.Close()
	n, err := book.LocalChapters()
	if err != nil {
		s.log.Warn("read epub table of contents", "file", name, "error", err)
		return 0
	}
	return n
}

func changeLine(field, from, to string) string {
	return fmt.Sprintf("Updated %s: %s → %s", field, from, to)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "None"
	}
	return t.Format(timeLayout)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
