package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/haukened/sg-block/internal/block/domain"
	"github.com/haukened/sg-block/internal/block/services/blocker"
)

const testToken = "s3cret-token"

type MockBlocker struct {
	mock.Mock
}

func (m *MockBlocker) AppendDirect(ctx context.Context, raw string) (blocker.Result, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(blocker.Result), args.Error(1)
}

func (m *MockBlocker) ListCategories(ctx context.Context, raw string) (blocker.Listing, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(blocker.Listing), args.Error(1)
}

func (m *MockBlocker) AppendToCategory(ctx context.Context, token, raw string) (blocker.Result, error) {
	args := m.Called(ctx, token, raw)
	return args.Get(0).(blocker.Result), args.Error(1)
}

func (m *MockBlocker) History(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]domain.JournalEntry)
	return entries, args.Error(1)
}

var testHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

func newTestRouter(t *testing.T, svc Blocker) http.Handler {
	t.Helper()
	h, err := NewRouter(svc, RouterOptions{AdminTokenHash: testHash})
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func blockJSON(t *testing.T, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/block", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AdminTokenHeader, testToken)
	return req
}

func blockForm(t *testing.T, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/block", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(AdminTokenHeader, testToken)
	return req
}

func adsResult(category string) blocker.Result {
	u := domain.CanonicalURL{Host: "ads.example.com", Path: "/x", Apex: "example.com"}
	target := "/var/lib/squidguard/db/direct"
	if category != "" {
		target = "/var/lib/squidguard/db/" + category + "/urls"
	}
	return blocker.Result{URL: u, Target: target, Category: category, Bytes: len(u.String()) + 1, Seq: 7}
}

func TestCategories(t *testing.T) {
	svc := new(MockBlocker)
	cats := []domain.Category{{Group: "adv", Name: "domains"}, {Group: "adv", Name: "urls"}}
	svc.On("ListCategories", mock.Anything, "").Return(blocker.Listing{
		Root:       "/var/lib/squidguard/db",
		Categories: cats,
		Groups:     domain.GroupCategories(cats),
	}, nil)

	rec, body := do(t, newTestRouter(t, svc), httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "ok", body["code"])
	assert.Equal(t, "/var/lib/squidguard/db", body["root"])
	assert.Equal(t, []any{"adv/domains", "adv/urls"}, body["categories"])
	assert.Len(t, body["groups"], 1)
	svc.AssertExpectations(t)
}

func TestCategories_WithURL(t *testing.T) {
	svc := new(MockBlocker)
	u := domain.CanonicalURL{Host: "ads.example.com", Apex: "example.com"}
	svc.On("ListCategories", mock.Anything, "http://ads.example.com").Return(blocker.Listing{
		Root: "/db",
		URL:  &u,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/categories?url="+url.QueryEscape("http://ads.example.com"), nil)
	rec, body := do(t, newTestRouter(t, svc), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ads.example.com", body["url"])
	assert.Equal(t, "example.com", body["apex"])
	assert.Equal(t, "no rule found", body["message"])
	assert.Equal(t, []any{}, body["categories"])
	assert.Equal(t, []any{}, body["groups"])
}

func TestCategories_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"config", fmt.Errorf("%w: no dbhome", domain.ErrConfig), http.StatusServiceUnavailable, "config_error", "cannot determine the squidGuard rule-set root"},
		{"not a directory", fmt.Errorf("%w: /db", domain.ErrNotADirectory), http.StatusServiceUnavailable, "not_a_directory", "cannot read squidGuard DB home directory"},
		{"invalid url", fmt.Errorf("%w: bad host", domain.ErrInvalidInput), http.StatusBadRequest, "invalid_input", "invalid input: bad host"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal", "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBlocker)
			svc.On("ListCategories", mock.Anything, "").Return(blocker.Listing{}, tt.err)

			rec, body := do(t, newTestRouter(t, svc), httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.msg, body["message"])
		})
	}
}

func TestBlock_DirectJSON(t *testing.T) {
	svc := new(MockBlocker)
	svc.On("AppendDirect", mock.Anything, "http://ads.example.com/x").Return(adsResult(""), nil)

	rec, body := do(t, newTestRouter(t, svc), blockJSON(t, `{"url":"http://ads.example.com/x"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "URL added to blacklist", body["message"])
	assert.Equal(t, "ads.example.com/x", body["url"])
	assert.Equal(t, "/var/lib/squidguard/db/direct", body["target"])
	assert.Equal(t, float64(len("ads.example.com/x")+1), body["bytes"])
	assert.NotContains(t, body, "category")
	svc.AssertExpectations(t)
}

func TestBlock_CategoryForm(t *testing.T) {
	svc := new(MockBlocker)
	svc.On("AppendToCategory", mock.Anything, "adv/urls", "ads.example.com/x").Return(adsResult("adv/urls"), nil)

	rec, body := do(t, newTestRouter(t, svc), blockForm(t, url.Values{
		"url":      {"ads.example.com/x"},
		"category": {" adv/urls "},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "adv/urls", body["category"])
	assert.Equal(t, float64(7), body["seq"])
	svc.AssertExpectations(t)
}

func TestBlock_FileAlias(t *testing.T) {
	svc := new(MockBlocker)
	svc.On("AppendToCategory", mock.Anything, "adv/domains", "ads.example.com").Return(adsResult("adv/domains"), nil)

	rec, _ := do(t, newTestRouter(t, svc), blockForm(t, url.Values{
		"url":  {"ads.example.com"},
		"file": {"adv/domains"},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestBlock_PassesRemote(t *testing.T) {
	svc := new(MockBlocker)
	svc.On("AppendDirect", mock.MatchedBy(func(ctx context.Context) bool {
		return blocker.RemoteFrom(ctx) == "192.0.2.10"
	}), "ads.example.com").Return(adsResult(""), nil)

	req := blockJSON(t, `{"url":"ads.example.com"}`)
	req.RemoteAddr = "192.0.2.10:54321"
	rec, _ := do(t, newTestRouter(t, svc), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestBlock_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"missing url", func(t *testing.T) *http.Request { return blockJSON(t, `{"category":"adv/urls"}`) }},
		{"malformed json", func(t *testing.T) *http.Request { return blockJSON(t, `{"url":`) }},
		{"unknown field", func(t *testing.T) *http.Request { return blockJSON(t, `{"url":"a.com","extra":1}`) }},
		{"empty form", func(t *testing.T) *http.Request { return blockForm(t, url.Values{}) }},
		{"oversized body", func(t *testing.T) *http.Request {
			return blockJSON(t, `{"url":"`+strings.Repeat("a", maxBodyBytes)+`"}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBlocker)

			rec, body := do(t, newTestRouter(t, svc), tt.req(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_input", body["code"])
			svc.AssertNotCalled(t, "AppendDirect", mock.Anything, mock.Anything)
			svc.AssertNotCalled(t, "AppendToCategory", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestBlock_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"path escape", fmt.Errorf("%w: ../etc", domain.ErrPathEscape), http.StatusForbidden, "path_escape"},
		{"open failed", fmt.Errorf("%w: /db/adv/urls", domain.ErrOpenFailed), http.StatusInternalServerError, "open_failed"},
		{"short write", &domain.ShortWriteError{Path: "/db/adv/urls", Written: 3, Want: 10}, http.StatusInternalServerError, "short_write"},
		{"sync failed", fmt.Errorf("%w: /db/adv/urls: input/output error", domain.ErrSyncFailed), http.StatusInternalServerError, "sync_failed"},
		{"invalid url", fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBlocker)
			svc.On("AppendToCategory", mock.Anything, "adv/urls", "a.com").Return(blocker.Result{}, tt.err)

			rec, body := do(t, newTestRouter(t, svc), blockJSON(t, `{"url":"a.com","category":"adv/urls"}`))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.NotContains(t, body["message"], "/db/adv/urls")
		})
	}
}

func TestHistory(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []domain.JournalEntry{{Seq: 2, URL: "b.com", Target: "/db/direct", Bytes: 6, AddedAt: at}}

	tests := []struct {
		name  string
		query string
		limit int
	}{
		{"default", "", 50},
		{"explicit", "?limit=5", 5},
		{"capped", "?limit=100000", maxHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBlocker)
			svc.On("History", mock.Anything, tt.limit).Return(entries, nil)

			rec, body := do(t, newTestRouter(t, svc), httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, body["entries"], 1)
			assert.Equal(t, "b.com", body["entries"].([]any)[0].(map[string]any)["url"])
			svc.AssertExpectations(t)
		})
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	for _, q := range []string{"0", "-1", "ten"} {
		t.Run(q, func(t *testing.T) {
			svc := new(MockBlocker)

			rec, body := do(t, newTestRouter(t, svc), httptest.NewRequest(http.MethodGet, "/api/v1/history?limit="+q, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_input", body["code"])
			svc.AssertNotCalled(t, "History", mock.Anything, mock.Anything)
		})
	}
}

func TestHistory_NoJournal(t *testing.T) {
	svc := new(MockBlocker)
	svc.On("History", mock.Anything, 50).Return(nil, nil)

	rec, body := do(t, newTestRouter(t, svc), httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["entries"])
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.ErrorKind]int{
		domain.KindInvalidInput:  http.StatusBadRequest,
		domain.KindPathEscape:    http.StatusForbidden,
		domain.KindConfig:        http.StatusServiceUnavailable,
		domain.KindNotADirectory: http.StatusServiceUnavailable,
		domain.KindOpenFailed:    http.StatusInternalServerError,
		domain.KindShortWrite:    http.StatusInternalServerError,
		domain.KindSyncFailed:    http.StatusInternalServerError,
		domain.KindInternal:      http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind.String())
	}
}
