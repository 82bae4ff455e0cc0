package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bryan-buckman/noveltracker/internal/epub"
	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/source"
)

// MaxBulkWorkers is the number of novels refreshed in parallel on stores that
// support concurrent writes. SQLite stores are refreshed one novel at a time.
const MaxBulkWorkers = 10

type bulkOutcome struct {
	messages    []string
	err         error
	missingEPUB bool
}

// UpdateAll refreshes the selected fields of every novel from opts.StartID on.
// Runs are serialized; a second call waits for the first to finish.
func (s *Service) UpdateAll(ctx context.Context, opts model.BulkOptions) model.Result {
	if !opts.Any() {
		return model.Result{Status: model.CategoryError, Message: "Chapters are not selected"}
	}
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()
	return s.runBulk(ctx, opts)
}

// TryUpdateAll is UpdateAll that gives up with model.ErrBulkRunning instead of waiting.
func (s *Service) TryUpdateAll(ctx context.Context, opts model.BulkOptions) (model.Result, error) {
	if !opts.Any() {
		return model.Result{Status: model.CategoryError, Message: "Chapters are not selected"}, nil
	}
	if !s.bulkMu.TryLock() {
		return model.Result{}, model.ErrBulkRunning
	}
	defer s.bulkMu.Unlock()
	return s.runBulk(ctx, opts), nil
}

func (s *Service) runBulk(ctx context.Context, opts model.BulkOptions) model.Result {
	runID := uuid.NewString()
	start := s.now()
	log := s.log.With("run_id", runID)

	e, err := s.env(ctx)
	if err != nil {
		return errorResult(err)
	}
	novels, err := s.store.ListNovelsFrom(ctx, opts.StartID, opts.Limit)
	if err != nil {
		return errorResult(fmt.Errorf("list novels: %w", err))
	}
	log.Info("bulk update started", "novels", len(novels), "start_id", opts.StartID, "limit", opts.Limit)

	var outcomes []bulkOutcome
	if s.store.SupportsHighConcurrency() {
		outcomes = s.bulkParallel(ctx, e, novels, opts)
	} else {
		outcomes = s.bulkSequential(ctx, e, novels, opts)
	}

	var messages []string
	errCount, missing, done := 0, 0, 0
	for i, o := range outcomes {
		messages = append(messages, o.messages...)
		if o.err != nil {
			if errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded) {
				continue
			}
			messages = append(messages, fmt.Sprintf("Error processing %s: %v", novels[i].Name, o.err))
			errCount++
		}
		if o.missingEPUB {
			missing++
		}
		done++
	}

	status := model.CategorySuccess
	if ctx.Err() != nil {
		messages = append(messages, fmt.Sprintf("Cancelled after %d/%d novels", done, len(novels)))
		status = model.CategoryError
	}
	if opts.OnlineChap {
		if err := s.store.SetSetting(context.WithoutCancel(ctx), model.SettingLastBulkTime, s.now().Local().Format(timeLayout)); err != nil {
			log.Error("store last bulk time", "error", err)
		}
	}
	if errCount > 0 {
		messages = append(messages, fmt.Sprintf("%d update errors", errCount))
		status = model.CategoryError
	}
	if missing > 0 {
		messages = append(messages, fmt.Sprintf("%d epub files missing", missing))
		status = model.CategoryError
	}

	elapsed := s.now().Sub(start)
	s.metrics.RecordBulkRun(status, elapsed)
	log.Info("bulk update finished", "novels", len(novels), "errors", errCount, "missing_epubs", missing, "duration", elapsed)

	if len(messages) == 0 {
		return model.Result{Status: model.CategorySuccess, Message: "Done Bulk updating Novels"}
	}
	return model.Result{Status: status, Message: strings.Join(messages, "\n")}
}

func (s *Service) bulkSequential(ctx context.Context, e *env, novels []model.Novel, opts model.BulkOptions) []bulkOutcome {
	outcomes := make([]bulkOutcome, len(novels))
	for i, n := range novels {
		if err := ctx.Err(); err != nil {
			outcomes[i] = bulkOutcome{err: err}
			continue
		}
		outcomes[i] = s.refreshNovel(ctx, e, n, opts)
	}
	return outcomes
}

func (s *Service) bulkParallel(ctx context.Context, e *env, novels []model.Novel, opts model.BulkOptions) []bulkOutcome {
	outcomes := make([]bulkOutcome, len(novels))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := min(MaxBulkWorkers, len(novels))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					outcomes[i] = bulkOutcome{err: err}
					continue
				}
				outcomes[i] = s.refreshNovel(ctx, e, novels[i], opts)
			}
		}()
	}
	for i := range novels {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// refreshNovel applies the selected refreshes to one novel and writes the result.
func (s *Service) refreshNovel(ctx context.Context, e *env, n model.Novel, opts model.BulkOptions) bulkOutcome {
	var out bulkOutcome
	var patch model.NovelPatch

	var meta *epub.Metadata
	needMeta := opts.OnlineChap || opts.Title || opts.URL || opts.AuthorDesc || opts.Cover
	if needMeta && n.Filepath != "" {
		m, err := s.readMetadata(e, n.Filepath)
		if err != nil {
			out.err = err
			return out
		}
		meta = &m
	}
	coverID := CoverID(n.Source, n.URL, n.Name)
	if meta != nil {
		coverID = CoverID(source.Label(meta.URL), meta.URL, meta.Title)
	}

	if opts.OnlineChap {
		info, err := s.lookup(ctx, e, n.Source, n.URL)
		switch {
		case errors.Is(err, model.ErrUnsupportedSource):
			if meta != nil {
				cover := s.storeCover(ctx, e, coverID, "", n.Filepath)
				setString(&patch.Author, meta.Author, n.Author)
				setString(&patch.Description, s.sanitizer.Text(meta.Description), n.Description)
				setString(&patch.CoverPath, cover, n.CoverPath)
			}
		case errors.Is(err, source.ErrNoBookID):
			out.messages = append(out.messages, fmt.Sprintf("Could not extract bookId for %s", n.Name))
			return out
		case err != nil:
			out.err = err
			return out
		default:
			if info.Chapters > n.OnlineChap {
				patch.OnlineChap = &info.Chapters
			}
			patch.LatestChapTime = info.LatestAt
			setString(&patch.Author, info.Author, n.Author)
			setString(&patch.Description, s.sanitizer.Text(info.Description), n.Description)
			setString(&patch.CoverPath, s.storeCover(ctx, e, coverID, info.CoverURL, n.Filepath), n.CoverPath)
		}
	}

	if opts.LocalChap && n.Filepath != "" {
		if local := float64(s.countLocal(e, n.Filepath)); local > 0 && local > n.LocalChap {
			patch.LocalChap = &local
		}
	}
	if opts.Title && meta != nil {
		setString(&patch.Name, meta.Title, n.Name)
	}
	if opts.URL && meta != nil {
		setString(&patch.URL, meta.URL, n.URL)
	}
	if opts.Cover && !opts.OnlineChap && n.Filepath != "" {
		setString(&patch.CoverPath, s.storeCover(ctx, e, coverID, "", n.Filepath), n.CoverPath)
	}
	if opts.AuthorDesc && meta != nil {
		setString(&patch.Author, meta.Author, n.Author)
		setString(&patch.Description, s.sanitizer.Text(meta.Description), n.Description)
		setString(&patch.CoverPath, s.storeCover(ctx, e, coverID, "", n.Filepath), n.CoverPath)
	}
	if opts.CheckEPUB && n.Filepath != "" {
		exists := "1"
		if !e.library.Exists(n.Filepath) {
			exists = "0"
			out.missingEPUB = true
		}
		patch.EpubExists = &exists
	}

	if patch.Empty() {
		return out
	}
	if err := s.store.UpdateNovel(ctx, n.ID, patch); err != nil {
		out.err = err
	}
	return out
}

func (s *Service) readMetadata(e *env, name string) (epub.Metadata, error) {
	book, err := e.library.Open(name)
	if err != nil {
		return epub.Metadata{}, err
	}
	defer book.Close()
	return book.Metadata(), nil
}

// setString points *dst at v when v is set and differs from current.
func setString(dst **string, v, current string) {
	if v == "" || v == current {
		return
	}
	*dst = &v
}
