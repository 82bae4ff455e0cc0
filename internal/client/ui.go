package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/view"
)

// LivenessInterval is the period of the server status check.
const LivenessInterval = 5 * time.Second

// Status tile contents.
const (
	OnlineHTML  = `<span style="color:green; font-size: small;">✅ Server is ONLINE</span>`
	OfflineHTML = `<span style="color:red; font-size: small;">❌ Server is OFFLINE</span>`
)

// Element ids and classes of the index page.
const (
	StatusTile    = "tile_server_stat"
	AddModal      = "addModal"
	EditModal     = "editModal"
	UpdateModal   = "updateModal"
	SettingsModal = "settingsModal"
	NewFilesModal = "newFilesModal"

	AddForm    = "addForm"
	EditForm   = "editForm"
	UpdateForm = "updateForm"

	newFilesList = "newFilesList"
	newFilesInfo = "span-newfiles-info"
	fileInput    = "input-filepath"
	editIDInput  = "edit-id"

	EditButton   = ".btn-edit"
	UpdateButton = ".btn-update"
	DeleteButton = ".btn-del"
)

// Notifier shows a transient message with a category from model (success,
// info, warning, error).
type Notifier interface {
	Notify(message, category string)
}

// Confirmer asks the user a yes/no question and blocks for the answer.
type Confirmer interface {
	Confirm(prompt string) bool
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message, category string)

func (f NotifierFunc) Notify(message, category string) { f(message, category) }

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(prompt string) bool

func (f ConfirmerFunc) Confirm(prompt string) bool { return f(prompt) }

// editInputs maps the edit button's data attributes to the edit form inputs.
var editInputs = []struct{ key, id string }{
	{"id", editIDInput},
	{"name", "input-name"},
	{"url", "input-url"},
	{"localchap", "input-lchap"},
	{"onlinechap", "input-ochap"},
	{"source", "input-source"},
	{"status", "input-status"},
	{"notes", "input-notes"},
	{"filepath", fileInput},
}

// epubInputs maps /get-from-epub keys to the edit form inputs they fill.
var epubInputs = []struct{ key, id string }{
	{"title", "input-name"},
	{"source", "input-source"},
	{"url", "input-url"},
	{"lchap", "input-lchap"},
	{"ochap", "input-ochap"},
}

// modalButtons maps the page's open and close buttons to their modal and display.
var modalButtons = []struct{ selector, modal, display string }{
	{"#btn-add", AddModal, "flex"},
	{"#btn-updall", UpdateModal, "flex"},
	{"#btn-sett", SettingsModal, "flex"},
	{".btn-close-add", AddModal, "none"},
	{".btn-close-edit", EditModal, "none"},
	{".btn-close-update", UpdateModal, "none"},
	{".btn-close-settings", SettingsModal, "none"},
	{".btn-close-newfile", NewFilesModal, "none"},
}

// UI is the page controller. It is created once per loaded page and shared
// by every flow; flows may run concurrently and each ends in its own reload.
type UI struct {
	page    *Page
	api     *API
	notify  Notifier
	confirm Confirmer
	table   *view.Table
	popup   *Popup
	log     *slog.Logger
}

// Option configures a UI.
type Option func(*UI)

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(u *UI) { u.log = l }
}

// WithTable uses t instead of a table in its default state.
func WithTable(t *view.Table) Option {
	return func(u *UI) { u.table = t }
}

// New returns the controller for page.
func New(page *Page, api *API, n Notifier, c Confirmer, opts ...Option) *UI {
	u := &UI{
		page:    page,
		api:     api,
		notify:  n,
		confirm: c,
		table:   view.NewTable(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.popup = &Popup{page: page}
	return u
}

// Open fetches the index page from api and returns its controller.
func Open(ctx context.Context, api *API, n Notifier, c Confirmer, opts ...Option) (*UI, error) {
	body, err := api.Index(ctx)
	if err != nil {
		return nil, err
	}
	page, err := NewPage(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return New(page, api, n, c, opts...), nil
}

// Page returns the controlled page.
func (u *UI) Page() *Page { return u.page }

// Table returns the novel table.
func (u *UI) Table() *view.Table { return u.table }

// Popup returns the hover popup.
func (u *UI) Popup() *Popup { return u.popup }

// Reload fetches every novel and re-renders the table, keeping its state.
func (u *UI) Reload(ctx context.Context) bool {
	rows, err := u.api.Novels(ctx)
	if err != nil {
		u.log.Warn("reload failed", "error", err)
		u.notify.Notify("Failed to load novels: "+err.Error(), model.CategoryError)
		return false
	}
	u.table.Load(rows)
	u.Render()
	return true
}

// Render writes the current table page into the page's table body.
func (u *UI) Render() {
	u.page.setRows(u.table.HTML())
}

// OpenModal shows the modal with the id.
func (u *UI) OpenModal(id string) { u.page.SetDisplay(id, "flex") }

// CloseModal hides the modal with the id.
func (u *UI) CloseModal(id string) { u.page.SetDisplay(id, "none") }

// Button returns the action button of kind (EditButton, UpdateButton or
// DeleteButton) rendered for the novel id, or an empty selection.
func (u *UI) Button(kind, id string) *goquery.Selection {
	return u.page.Find(fmt.Sprintf(`#table tbody %s[data-id="%s"]`, kind, id))
}

// Click dispatches a click on target the way the page's delegated listener
// does: the nearest edit, update or delete button wins in that order, then
// the modal open and close buttons.
func (u *UI) Click(ctx context.Context, target *goquery.Selection) {
	if target == nil || target.Length() == 0 {
		return
	}
	switch kind, data := u.page.closest(target, EditButton, UpdateButton, DeleteButton); kind {
	case EditButton:
		u.openEdit(data)
		return
	case UpdateButton:
		u.updateRecord(ctx, data)
		return
	case DeleteButton:
		u.deleteRecord(ctx, data)
		return
	}
	selectors := make([]string, len(modalButtons))
	for i, b := range modalButtons {
		selectors[i] = b.selector
	}
	matched := u.page.matches(target, selectors...)
	for _, b := range modalButtons {
		if b.selector == matched {
			u.page.SetDisplay(b.modal, b.display)
			return
		}
	}
}

func (u *UI) openEdit(data map[string]string) {
	for _, in := range editInputs {
		u.page.SetValue(in.id, data[in.key])
	}
	u.OpenModal(EditModal)
}

func (u *UI) updateRecord(ctx context.Context, data map[string]string) {
	q := url.Values{
		"name":        {data["name"]},
		"url":         {data["url"]},
		"source":      {data["source"]},
		"local_chap":  {orZero(data["localchap"])},
		"online_chap": {orZero(data["onlinechap"])},
		"filepath":    {data["filepath"]},
	}
	u.notify.Notify("Updating...", model.CategoryInfo)
	u.page.setCursor("wait")
	defer u.page.setCursor("default")

	r, err := u.api.Update(ctx, data["id"], q)
	if err != nil {
		u.notify.Notify("Update error: "+err.Error(), model.CategoryError)
		return
	}
	u.notify.Notify(first(r.Msg, r.Message, "Update result"), first(r.Status, r.Category, model.CategoryInfo))
	u.Reload(ctx)
}

func (u *UI) deleteRecord(ctx context.Context, data map[string]string) {
	id, name := data["id"], data["name"]
	if !u.confirm.Confirm(fmt.Sprintf("Delete '%s' (id %s)?", name, id)) {
		return
	}
	r, err := u.api.Delete(ctx, id, name)
	if err != nil {
		u.notify.Notify("Delete error: "+err.Error(), model.CategoryError)
		return
	}
	if r.Status != model.CategorySuccess {
		u.notify.Notify(first(r.Msg, "Delete failed"), model.CategoryError)
		return
	}
	u.notify.Notify(first(r.Msg, "Deleted"), model.CategorySuccess)
	u.Reload(ctx)
}

// SubmitEdit posts the edit form, closes its modal and reloads.
func (u *UI) SubmitEdit(ctx context.Context) {
	id := u.page.Value(editIDInput)
	u.submit(ctx, EditForm, EditModal, "Edit", false, func(form url.Values) (Reply, error) {
		return u.api.Edit(ctx, id, form)
	})
}

// SubmitAdd posts the add form, closes its modal and reloads.
func (u *UI) SubmitAdd(ctx context.Context) {
	u.submit(ctx, AddForm, AddModal, "Add", false, func(form url.Values) (Reply, error) {
		return u.api.Add(ctx, form)
	})
}

// SubmitUpdateAll posts the update-all form with the busy cursor set for
// the duration of the request.
func (u *UI) SubmitUpdateAll(ctx context.Context) {
	u.submit(ctx, UpdateForm, UpdateModal, "Update all", true, func(form url.Values) (Reply, error) {
		return u.api.UpdateAll(ctx, form)
	})
}

func (u *UI) submit(ctx context.Context, formID, modalID, label string, busy bool, send func(url.Values) (Reply, error)) {
	if busy {
		u.page.setCursor("wait")
		defer u.page.setCursor("default")
	}
	r, err := send(u.page.Form(formID))
	if err != nil {
		u.notify.Notify(label+" error: "+err.Error(), model.CategoryError)
		return
	}
	u.notify.Notify(first(r.Message, label), first(r.Category, model.CategoryInfo))
	u.CloseModal(modalID)
	u.Reload(ctx)
}

// FetchEPUBInfo fills the edit form from the EPUB named in its file input.
// get selects the fields (title, source, url, lchap, ochap or all). Fields
// missing from the reply or null are left as they are.
func (u *UI) FetchEPUBInfo(ctx context.Context, get string) {
	file := strings.TrimSpace(u.page.Value(fileInput))
	if file == "" {
		u.notify.Notify("Please enter EPUB filename", model.CategoryWarning)
		return
	}
	info, err := u.api.EPUBInfo(ctx, get, file)
	if err != nil {
		u.notify.Notify("Failed to fetch info: "+err.Error(), model.CategoryError)
		return
	}
	for _, in := range epubInputs {
		v, ok := info[in.key]
		if !ok || v == nil {
			continue
		}
		u.page.SetValue(in.id, formatValue(v))
	}
	u.notify.Notify("Info fetched successfully", model.CategorySuccess)
}

// ScanNewFiles lists untracked EPUBs in the new files modal and opens it.
func (u *UI) ScanNewFiles(ctx context.Context) {
	s, err := u.api.Scan(ctx)
	if err != nil {
		u.notify.Notify("Scan error: "+err.Error(), model.CategoryError)
		return
	}
	if len(s.Files) == 0 {
		u.notify.Notify("No new files found.", model.CategoryInfo)
		return
	}
	var list string
	for _, f := range s.Files {
		list += `<div class="new-file">` + view.Escape(f) + `</div>`
	}
	u.page.SetHTML(newFilesList, list)
	u.page.SetText(newFilesInfo, fmt.Sprintf("(%d) Cover files found: (%d)", len(s.Files), s.TotalUnrecordedCovers))
	u.OpenModal(NewFilesModal)
}

// NewFiles returns the file names listed in the new files modal.
func (u *UI) NewFiles() []string {
	return u.page.Texts("#" + newFilesList + " .new-file")
}

// ImportAll imports every listed file, one at a time in list order, then
// reloads once and closes the modal. A failed file does not stop the rest.
func (u *UI) ImportAll(ctx context.Context) {
	files := u.NewFiles()
	if len(files) == 0 {
		u.notify.Notify("No files to import.", model.CategoryInfo)
		return
	}
	for _, f := range files {
		r, err := u.api.ImportEPUB(ctx, f)
		switch {
		case err != nil:
			u.notify.Notify("Import error: "+err.Error(), model.CategoryError)
		case r.Status == model.CategorySuccess:
			u.notify.Notify(first(r.Message, f+" imported"), model.CategorySuccess)
		default:
			u.notify.Notify(first(r.Message, f+" import failed"), model.CategoryError)
		}
	}
	u.Reload(ctx)
	u.CloseModal(NewFilesModal)
}

// CheckServer sets the status tile from one liveness request and reports
// whether the server answered 2xx.
func (u *UI) CheckServer(ctx context.Context) bool {
	if err := u.api.Status(ctx); err != nil {
		u.page.SetHTML(StatusTile, OfflineHTML)
		return false
	}
	u.page.SetHTML(StatusTile, OnlineHTML)
	return true
}

// RunLiveness checks the server now and then every interval until ctx is done.
func (u *UI) RunLiveness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = LivenessInterval
	}
	u.CheckServer(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.CheckServer(ctx)
		}
	}
}

// HoverEnter shows the popup for a name cell trigger at pointer x, y.
func (u *UI) HoverEnter(trigger *goquery.Selection, x, y int) {
	data := u.page.Dataset(trigger)
	u.popup.Show(data["img"], data["author"], data["desc"], x, y)
}

// HoverMove follows the pointer.
func (u *UI) HoverMove(x, y int) { u.popup.Move(x, y) }

// HoverLeave hides the popup.
func (u *UI) HoverLeave() { u.popup.Hide() }

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// formatValue renders a decoded JSON value the way it reads in an input.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return view.FormatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
