// Package tracker implements the novel tracking operations behind the HTTP API.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/database"
	"github.com/bryan-buckman/noveltracker/internal/epub"
	"github.com/bryan-buckman/noveltracker/internal/metrics"
	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/security"
	"github.com/bryan-buckman/noveltracker/internal/source"
)

// Service owns the store and the chapter sources.
type Service struct {
	store     database.Store
	sources   *source.Registry
	sanitizer *security.Sanitizer
	metrics   metrics.Recorder
	log       *slog.Logger
	now       func() time.Time

	bulkMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records source lookups, bulk runs and imports.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service.
func New(store database.Store, sources *source.Registry, opts ...Option) *Service {
	s := &Service{
		store:     store,
		sources:   sources,
		sanitizer: security.NewSanitizer(),
		metrics:   metrics.Nop{},
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() database.Store { return s.store }

// EnsureSettings seeds missing settings. libraryDir and coverDir replace the
// built-in relative defaults when set.
func (s *Service) EnsureSettings(ctx context.Context, libraryDir, coverDir string) error {
	defaults := make(map[string]string, len(model.DefaultSettings))
	for k, v := range model.DefaultSettings {
		defaults[k] = v
	}
	if libraryDir != "" {
		defaults[model.SettingLocalEPUBDir] = libraryDir
	}
	if coverDir != "" {
		defaults[model.SettingCoverPath] = coverDir
	}
	return s.store.EnsureSettings(ctx, defaults)
}

// Settings returns every stored setting.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	return s.store.Settings(ctx)
}

// SaveSettings stores the known keys of values and ignores the rest.
func (s *Service) SaveSettings(ctx context.Context, values map[string]string) error {
	for k, v := range values {
		if _, known := model.DefaultSettings[k]; !known {
			continue
		}
		if err := s.store.SetSetting(ctx, k, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	return nil
}

// List returns every novel ordered by name.
func (s *Service) List(ctx context.Context) ([]model.Novel, error) {
	return s.store.ListNovels(ctx)
}

// AddInput is the add form.
type AddInput struct {
	Name       string
	URL        string
	Source     string
	Status     string
	Notes      string
	Filepath   string
	LocalChap  float64
	OnlineChap float64
}

// Add inserts a novel. When a chapter source serves the novel's source label,
// the online chapter count and metadata are fetched first.
func (s *Service) Add(ctx context.Context, in AddInput) model.Result {
	n := model.Novel{
		Name:       strings.TrimSpace(in.Name),
		URL:        strings.TrimSpace(in.URL),
		Source:     strings.ToLower(strings.TrimSpace(in.Source)),
		Status:     strings.TrimSpace(in.Status),
		Notes:      strings.TrimSpace(in.Notes),
		Filepath:   strings.TrimSpace(in.Filepath),
		LocalChap:  in.LocalChap,
		OnlineChap: in.OnlineChap,
	}
	if n.Name == "" || n.URL == "" || n.Source == "" {
		return model.Result{Status: model.CategoryError, Message: "Missing required fields"}
	}

	env, err := s.env(ctx)
	if err != nil {
		return errorResult(err)
	}

	var messages []string
	category := model.CategorySuccess
	if info, err := s.lookup(ctx, env, n.Source, n.URL); err != nil {
		if !errors.Is(err, model.ErrUnsupportedSource) {
			messages = append(messages, fetchMessage(err))
			category = model.CategoryWarning
		}
	} else if info != nil {
		n.OnlineChap = info.Chapters
		n.LatestChapTime = info.LatestAt
		n.Author = info.Author
		n.Description = s.sanitizer.Text(info.Description)
		n.CoverPath = s.storeCover(ctx, env, CoverID(n.Source, n.URL, n.Name), info.CoverURL, n.Filepath)
	}

	id, err := s.store.CreateNovel(ctx, &n)
	if err != nil {
		return errorResult(fmt.Errorf("add novel: %w", err))
	}
	s.log.Info("novel added", "id", id, "name", n.Name, "source", n.Source)
	messages = append(messages, fmt.Sprintf("Novel '%s' added successfully", n.Name))
	return model.Result{Status: category, Message: strings.Join(messages, "\n")}
}

// Edit writes the fields present in p.
func (s *Service) Edit(ctx context.Context, id int64, p model.NovelPatch) model.Result {
	if p.Empty() {
		return model.Result{Status: model.CategoryInfo, Message: "No updates provided."}
	}
	if p.Source != nil {
		lower := strings.ToLower(strings.TrimSpace(*p.Source))
		p.Source = &lower
	}
	if err := s.store.UpdateNovel(ctx, id, p); err != nil {
		return errorResult(err)
	}
	name := "the novel"
	if p.Name != nil {
		name = *p.Name
	}
	s.log.Info("novel edited", "id", id)
	return model.Result{Status: model.CategorySuccess, Message: fmt.Sprintf("Updated '%s'.", name)}
}

// Delete removes a novel. name is only used in the message.
func (s *Service) Delete(ctx context.Context, id int64, name string) model.Result {
	if err := s.store.DeleteNovel(ctx, id); err != nil {
		return errorResult(err)
	}
	s.log.Info("novel deleted", "id", id, "name", name)
	return model.Result{Status: model.CategorySuccess, Message: fmt.Sprintf("'%s' deleted.", name)}
}

// env is the settings snapshot one operation works with.
type env struct {
	settings map[string]string
	source   source.Settings
	library  *epub.Library
}

func (s *Service) env(ctx context.Context) (*env, error) {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &env{
		settings: settings,
		source:   source.ParseSettings(settings),
		library:  epub.NewLibrary(settings[model.SettingLocalEPUBDir], settings[model.SettingCoverPath]),
	}, nil
}

// lookup asks the source registered for label. A nil Info and
// ErrUnsupportedSource mean no source serves the label.
func (s *Service) lookup(ctx context.Context, e *env, label, novelURL string) (*source.Info, error) {
	src, ok := s.sources.Lookup(label, e.source)
	if !ok || novelURL == "" {
		return nil, model.ErrUnsupportedSource
	}
	start := s.now()
	info, err := src.Latest(ctx, novelURL)
	s.metrics.RecordSourceFetch(src.Name(), err, s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	return info, nil
}

func fetchMessage(err error) string {
	if errors.Is(err, source.ErrNoBookID) {
		return source.ErrNoBookID.Error()
	}
	return fmt.Sprintf("Online lookup failed: %v", err)
}

func errorResult(err error) model.Result {
	msg := err.Error()
	if errors.Is(err, model.ErrNotFound) {
		msg = "Novel not found"
	}
	return model.Result{Status: model.CategoryError, Message: msg}
}
