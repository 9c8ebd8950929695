// Package httpapi exposes the block service as a small JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/domain"
	"github.com/haukened/sg-block/internal/block/services/blocker"
)

const (
	maxBodyBytes = 64 << 10
	maxHistory   = 500
)

// Blocker is the service surface the API needs.
type Blocker interface {
	AppendDirect(ctx context.Context, raw string) (blocker.Result, error)
	ListCategories(ctx context.Context, raw string) (blocker.Listing, error)
	AppendToCategory(ctx context.Context, token, raw string) (blocker.Result, error)
	History(ctx context.Context, limit int) ([]domain.JournalEntry, error)
}

type handler struct {
	svc    Blocker
	logger log.Logger
}

type outcome struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type blockRequest struct {
	URL      string `json:"url"`
	Category string `json:"category"`
	File     string `json:"file"`
}

type blockResponse struct {
	outcome
	URL      string `json:"url"`
	Apex     string `json:"apex,omitempty"`
	Target   string `json:"target"`
	Category string `json:"category,omitempty"`
	Bytes    int    `json:"bytes"`
	Seq      uint64 `json:"seq,omitempty"`
}

type categoriesResponse struct {
	outcome
	Root       string                 `json:"root"`
	URL        string                 `json:"url,omitempty"`
	Apex       string                 `json:"apex,omitempty"`
	Groups     []domain.CategoryGroup `json:"groups"`
	Categories []string               `json:"categories"`
}

type historyResponse struct {
	outcome
	Entries []domain.JournalEntry `json:"entries"`
}

func (h *handler) categories(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	l, err := h.svc.ListCategories(r.Context(), raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := categoriesResponse{
		outcome:    outcome{OK: true, Code: domain.KindNone.String(), Message: "categories listed"},
		Root:       l.Root,
		Groups:     l.Groups,
		Categories: make([]string, 0, len(l.Categories)),
	}
	if resp.Groups == nil {
		resp.Groups = []domain.CategoryGroup{}
	}
	for _, c := range l.Categories {
		resp.Categories = append(resp.Categories, c.Token())
	}
	if l.Empty() {
		resp.Message = "no rule found"
	}
	if l.URL != nil {
		resp.URL = l.URL.String()
		resp.Apex = l.URL.Apex
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) block(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBlockRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.URL == "" {
		h.fail(w, r, fmt.Errorf("%w: url is required", domain.ErrInvalidInput))
		return
	}

	ctx := blocker.WithRemote(r.Context(), clientIP(r))
	var res blocker.Result
	if req.Category != "" {
		res, err = h.svc.AppendToCategory(ctx, req.Category, req.URL)
	} else {
		res, err = h.svc.AppendDirect(ctx, req.URL)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{
		outcome:  outcome{OK: true, Code: domain.KindNone.String(), Message: "URL added to blacklist"},
		URL:      res.URL.String(),
		Apex:     res.URL.Apex,
		Target:   res.Target,
		Category: res.Category,
		Bytes:    res.Bytes,
		Seq:      res.Seq,
	})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.fail(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = min(n, maxHistory)
	}
	entries, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		outcome: outcome{OK: true, Code: domain.KindNone.String(), Message: "history"},
		Entries: entries,
	})
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, outcome{OK: true, Code: domain.KindNone.String(), Message: "ok"})
}

// decodeBlockRequest reads url and category from a JSON body, a form body or
// the query string. "file" is accepted in place of "category".
func decodeBlockRequest(w http.ResponseWriter, r *http.Request) (blockRequest, error) {
	var req blockRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		req.URL = r.Form.Get("url")
		req.Category = r.Form.Get("category")
		req.File = r.Form.Get("file")
	}
	if req.Category == "" {
		req.Category = req.File
	}
	req.Category = strings.TrimSpace(req.Category)
	return req, nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindPathEscape:
		return http.StatusForbidden
	case domain.KindConfig, domain.KindNotADirectory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	fields := map[string]any{"path": r.URL.Path, "code": kind.String(), "error": err}
	if status >= http.StatusInternalServerError {
		h.logger.Error(fields, "http_request_failed")
	} else {
		h.logger.Debug(fields, "http_request_rejected")
	}
	writeError(w, status, kind.String(), message(kind, err))
}

// message is the operator-facing text for a failure. Internal errors are not
// echoed back.
func message(kind domain.ErrorKind, err error) string {
	switch kind {
	case domain.KindInvalidInput:
		return err.Error()
	case domain.KindConfig:
		return "cannot determine the squidGuard rule-set root"
	case domain.KindNotADirectory:
		return "cannot read squidGuard DB home directory"
	case domain.KindPathEscape:
		return "category is outside the squidGuard DB home directory"
	case domain.KindOpenFailed:
		return "cannot open blacklist file for writing"
	case domain.KindShortWrite:
		return "blacklist file write was incomplete"
	case domain.KindSyncFailed:
		return "URL was written but could not be flushed to disk"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, outcome{OK: false, Code: code, Message: msg})
}
