package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/noveltracker/internal/epub"
	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/opml"
	"github.com/bryan-buckman/noveltracker/internal/tracker"
)

const maxFormMemory = 32 << 20

// apiTimeLayout formats latestchaptime in /api/novels.
const apiTimeLayout = "2006-01-02 15:04:05"

type novelJSON struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	LocalChap      float64 `json:"localchap"`
	OnlineChap     float64 `json:"onlinechap"`
	LatestChapTime *string `json:"latestchaptime"`
	TimeAgo        string  `json:"timeago"`
	Status         string  `json:"status"`
	Source         string  `json:"source"`
	Notes          string  `json:"notes"`
	Filepath       string  `json:"filepath"`
	EpubExists     string  `json:"epubexists"`
	Author         string  `json:"author"`
	Description    string  `json:"description"`
	CoverPath      string  `json:"cover_path"`
}

// --- Page Handlers ---

type settingField struct {
	Key   string
	Value string
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Settings(r.Context())
	if err != nil {
		s.log.Error("load settings", "error", err)
	}
	var fields []settingField
	for k := range model.DefaultSettings {
		if k == model.SettingLastBulkTime {
			continue
		}
		fields = append(fields, settingField{Key: k, Value: settings[k]})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

	s.render(w, "index.html", map[string]any{
		"Settings":     fields,
		"LastBulkTime": settings[model.SettingLastBulkTime],
	})
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "file"))
	settings, err := s.svc.Settings(r.Context())
	if err != nil || name == "." || name == "/" {
		http.NotFound(w, r)
		return
	}
	lib := epub.NewLibrary(settings[model.SettingLocalEPUBDir], settings[model.SettingCoverPath])
	path := lib.CoverPath(name)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	store := s.svc.Store()
	if err := store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": store.DatabaseType()})
}

// --- API Handlers ---

func (s *Server) handleNovels(w http.ResponseWriter, r *http.Request) {
	novels, err := s.svc.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	now := s.now()
	data := make([]novelJSON, 0, len(novels))
	for _, n := range novels {
		row := novelJSON{
			ID:          n.ID,
			Name:        n.Name,
			URL:         n.URL,
			LocalChap:   n.LocalChap,
			OnlineChap:  n.OnlineChap,
			TimeAgo:     n.TimeAgo(now),
			Status:      n.Status,
			Source:      n.Source,
			Notes:       n.Notes,
			Filepath:    n.Filepath,
			EpubExists:  n.EpubExists,
			Author:      n.Author,
			Description: n.Description,
			CoverPath:   n.CoverPath,
		}
		if n.LatestChapTime != nil {
			t := n.LatestChapTime.Local().Format(apiTimeLayout)
			row.LatestChapTime = &t
		}
		data = append(data, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeResult(w, http.StatusBadRequest, model.Result{Status: model.CategoryError, Message: "Invalid form"})
		return
	}
	in := tracker.AddInput{
		Name:     r.PostFormValue("name"),
		URL:      r.PostFormValue("url"),
		Source:   r.PostFormValue("source"),
		Status:   r.PostFormValue("status"),
		Notes:    r.PostFormValue("notes"),
		Filepath: r.PostFormValue("filepath"),
	}
	in.LocalChap, _ = parseNumber(r.PostFormValue("localchap"))
	in.OnlineChap, _ = parseNumber(r.PostFormValue("onlinechap"))
	writeResult(w, http.StatusOK, s.svc.Add(r.Context(), in))
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := parseForm(r); err != nil {
		writeResult(w, http.StatusBadRequest, model.Result{Status: model.CategoryError, Message: "Invalid form"})
		return
	}
	writeResult(w, http.StatusOK, s.svc.Edit(r.Context(), id, patchFromForm(r)))
}

// patchFromForm sets every text field present in the form. Chapter counts
// are only set when they parse as numbers.
func patchFromForm(r *http.Request) model.NovelPatch {
	var p model.NovelPatch
	text := func(key string) *string {
		if _, ok := r.PostForm[key]; !ok {
			return nil
		}
		v := strings.TrimSpace(r.PostFormValue(key))
		return &v
	}
	number := func(key string) *float64 {
		f, ok := parseNumber(r.PostFormValue(key))
		if !ok {
			return nil
		}
		return &f
	}
	p.Name = text("name")
	p.URL = text("url")
	p.Source = text("source")
	p.Status = text("status")
	p.Notes = text("notes")
	p.Filepath = text("filepath")
	p.LocalChap = number("localchap")
	p.OnlineChap = number("onlinechap")
	return p
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	p := tracker.UpdateParams{
		Name:     q.Get("name"),
		URL:      q.Get("url"),
		Source:   q.Get("source"),
		Filepath: q.Get("filepath"),
	}
	p.LocalChap, _ = parseNumber(q.Get("local_chap"))
	p.OnlineChap, _ = parseNumber(q.Get("online_chap"))

	res, err := s.svc.UpdateOne(r.Context(), id, p)
	if errors.Is(err, model.ErrMissingFields) {
		writeJSON(w, http.StatusOK, map[string]string{"status": model.CategoryError, "msg": res.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": res.Status, "message": res.Message})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := parseForm(r); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": model.CategoryError, "msg": "Invalid form"})
		return
	}
	res := s.svc.Delete(r.Context(), id, r.PostFormValue("name"))
	writeJSON(w, http.StatusOK, map[string]string{"status": res.Status, "msg": res.Message})
}

func (s *Server) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"category": model.CategoryError, "message": "Invalid form"})
		return
	}
	opts := model.BulkOptions{
		OnlineChap: checked(r, "onlinechap"),
		LocalChap:  checked(r, "localchap"),
		Title:      checked(r, "title"),
		URL:        checked(r, "url"),
		AuthorDesc: checked(r, "audeco"),
		Cover:      checked(r, "cover"),
		CheckEPUB:  checked(r, "checkepub"),
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("startId")), 10, 64); err == nil && v > 0 {
		opts.StartID = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("limit"))); err == nil && v > 0 {
		opts.Limit = v
	}
	res := s.svc.UpdateAll(r.Context(), opts)
	writeJSON(w, http.StatusOK, map[string]string{"message": res.Message, "category": res.Status})
}

func (s *Server) handleImportEPUB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": model.CategoryError, "message": "Invalid request"})
		return
	}
	res := s.svc.ImportEPUB(r.Context(), req.Filename)
	code := http.StatusOK
	if !res.OK() {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]string{"status": res.Status, "message": res.Message})
}

func (s *Server) handleGetFromEPUB(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	get := q.Get("get")
	if get == "" {
		get = tracker.GetAll
	}
	name := strings.TrimSpace(q.Get("epub"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": model.CategoryError, "message": "Missing epub"})
		return
	}
	f, err := s.svc.EPUBFields(r.Context(), get, name)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, os.ErrNotExist):
			code = http.StatusNotFound
		case errors.Is(err, epub.ErrOutsideLibrary):
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"status": model.CategoryError, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":  f.Title,
		"source": f.Source,
		"url":    f.URL,
		"author": f.Author,
		"desc":   f.Description,
		"lchap":  f.LocalChap,
		"ochap":  f.OnlineChap,
	})
}

func (s *Server) handleScanUnrecorded(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.ScanUnrecorded(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": model.CategoryError, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_unrecorded":        len(res.Files),
		"total_unrecorded_covers": len(res.Covers),
		"files":                   res.Files,
		"covers":                  res.Covers,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Settings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": model.CategoryError, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	values := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		values[k] = r.PostFormValue(k)
	}
	if err := s.svc.SaveSettings(r.Context(), values); err != nil {
		s.log.Error("save settings", "error", err)
		http.Error(w, "Failed to save", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": model.CategoryError, "message": "No file provided"})
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": model.CategoryError, "message": fmt.Sprintf("Failed to parse OPML: %v", err)})
		return
	}
	novels := make([]model.Novel, 0, len(entries))
	for _, e := range entries {
		novels = append(novels, e.Novel())
	}
	imported, err := s.svc.ImportNovels(r.Context(), novels)
	if err != nil {
		s.log.Error("import opml", "error", err, "imported", imported)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": model.CategoryError, "message": err.Error(), "imported": imported})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   model.CategorySuccess,
		"imported": imported,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	novels, err := s.svc.List(r.Context())
	if err != nil {
		http.Error(w, "Failed to get novels", http.StatusInternalServerError)
		return
	}
	data, err := opml.Export("Novel Tracker", novels, s.now())
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=novels.opml")
	w.Write(data)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeResult writes the result of add and edit, which the page reads as
// message plus status or category.
func writeResult(w http.ResponseWriter, code int, res model.Result) {
	writeJSON(w, code, map[string]string{
		"message":  res.Message,
		"status":   res.Status,
		"category": res.Status,
	})
}

func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(maxFormMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status":   model.CategoryError,
			"category": model.CategoryError,
			"message":  "Invalid id",
			"msg":      "Invalid id",
		})
		return 0, false
	}
	return id, true
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func checked(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.PostFormValue(key))) {
	case "", "0", "false", "off":
		return false
	}
	return true
}
