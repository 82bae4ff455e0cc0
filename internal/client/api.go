package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/bryan-buckman/noveltracker/internal/view"
)

// DefaultServer is the server the client talks to when none is configured.
const DefaultServer = "http://localhost:5000"

// Reply is the in-band result of a mutating request. Endpoints differ in
// which of the message and severity keys they fill.
type Reply struct {
	Message  string `json:"message"`
	Msg      string `json:"msg"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// ScanReply lists library files the server does not track yet.
type ScanReply struct {
	Files                 []string `json:"files"`
	Covers                []string `json:"covers"`
	TotalUnrecorded       int      `json:"total_unrecorded"`
	TotalUnrecordedCovers int      `json:"total_unrecorded_covers"`
}

// API calls the tracker server. Responses are decoded whatever their status
// code; only transport and decode failures are errors, except for the
// endpoints documented otherwise.
type API struct {
	rc *resty.Client
}

// NewAPI returns an API for the server at baseURL. hc may be nil.
func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{}
	}
	rc := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetLogger(quietLogger{})
	return &API{rc: rc}
}

func (a *API) get(ctx context.Context, path string, query url.Values) (*resty.Response, error) {
	req := a.rc.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func (a *API) postForm(ctx context.Context, path string, form url.Values) (*resty.Response, error) {
	resp, err := a.rc.R().SetContext(ctx).SetFormDataFromValues(form).Post(path)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return resp, nil
}

func decodeBody(resp *resty.Response, v any) error {
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("%s %s: decode %s response: %w", resp.Request.Method, resp.Request.URL, resp.Status(), err)
	}
	return nil
}

func reply(resp *resty.Response, err error) (Reply, error) {
	var r Reply
	if err != nil {
		return r, err
	}
	return r, decodeBody(resp, &r)
}

// Index returns the served page.
func (a *API) Index(ctx context.Context) ([]byte, error) {
	resp, err := a.rc.R().SetContext(ctx).SetHeader("Accept", "text/html").Get("/")
	if err != nil {
		return nil, fmt.Errorf("GET /: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /: %s", resp.Status())
	}
	return resp.Body(), nil
}

// Novels returns the rows of /api/novels.
func (a *API) Novels(ctx context.Context) ([]view.Row, error) {
	resp, err := a.get(ctx, "/api/novels", nil)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /api/novels: %s", resp.Status())
	}
	var body struct {
		Data []view.Row `json:"data"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Edit posts the edit form for id.
func (a *API) Edit(ctx context.Context, id string, form url.Values) (Reply, error) {
	return reply(a.postForm(ctx, "/edit/"+url.PathEscape(id), form))
}

// Add posts the add form.
func (a *API) Add(ctx context.Context, form url.Values) (Reply, error) {
	return reply(a.postForm(ctx, "/add", form))
}

// UpdateAll posts the update-all form.
func (a *API) UpdateAll(ctx context.Context, form url.Values) (Reply, error) {
	return reply(a.postForm(ctx, "/updateall", form))
}

// Update asks the server to refresh one novel. query carries name, url,
// source, local_chap, online_chap and filepath.
func (a *API) Update(ctx context.Context, id string, query url.Values) (Reply, error) {
	return reply(a.get(ctx, "/update/"+url.PathEscape(id), query))
}

// Delete removes the novel id; name is only echoed in the reply.
func (a *API) Delete(ctx context.Context, id, name string) (Reply, error) {
	return reply(a.postForm(ctx, "/delete/"+url.PathEscape(id), url.Values{"name": {name}}))
}

// EPUBInfo reads the fields selected by get from a library EPUB. Null
// values are kept as nil. Non-2xx responses are errors.
func (a *API) EPUBInfo(ctx context.Context, get, file string) (map[string]any, error) {
	resp, err := a.get(ctx, "/get-from-epub", url.Values{"get": {get}, "epub": {file}})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		var r Reply
		if json.Unmarshal(resp.Body(), &r) == nil && r.Message != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status(), r.Message)
		}
		return nil, fmt.Errorf("GET /get-from-epub: %s", resp.Status())
	}
	var body map[string]any
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// Scan lists untracked library files.
func (a *API) Scan(ctx context.Context) (ScanReply, error) {
	var s ScanReply
	resp, err := a.get(ctx, "/scan-unrecorded", nil)
	if err != nil {
		return s, err
	}
	return s, decodeBody(resp, &s)
}

// ImportEPUB imports one library file.
func (a *API) ImportEPUB(ctx context.Context, filename string) (Reply, error) {
	resp, err := a.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"filename": filename}).
		Post("/import-epub")
	if err != nil {
		return Reply{}, fmt.Errorf("POST /import-epub: %w", err)
	}
	return reply(resp, nil)
}

// Status checks the server's liveness endpoint, bypassing caches. Any non-2xx is an error.
func (a *API) Status(ctx context.Context) error {
	resp, err := a.rc.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		SetHeader("Pragma", "no-cache").
		Get("/status")
	if err != nil {
		return fmt.Errorf("GET /status: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("GET /status: %s", resp.Status())
	}
	return nil
}

type quietLogger struct{}

func (quietLogger) Errorf(string, ...any) {}
func (quietLogger) Warnf(string, ...any)  {}
func (quietLogger) Debugf(string, ...any) {}
