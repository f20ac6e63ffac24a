package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracewipe/internal/buffer"
	"tracewipe/internal/cleaner"
	"tracewipe/internal/config"
	"tracewipe/internal/host"
	"tracewipe/internal/metrics"
	"tracewipe/internal/pipeline"
	"tracewipe/internal/policy"
	"tracewipe/internal/store"
)

type fakeHistory struct {
	deleted []string
}

func (f *fakeHistory) Search(ctx context.Context, text string, since time.Time, maxResults int) ([]host.HistoryItem, error) {
	return nil, nil
}

func (f *fakeHistory) DeleteURL(ctx context.Context, url string) error {
	f.deleted = append(f.deleted, url)
	return nil
}

type fakeSiteData struct{}

func (fakeSiteData) Remove(ctx context.Context, hostnames []string, set host.DataSet) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeHistory) {
	t.Helper()

	cfg := config.Default()
	cfg.HostBridge.URL = "http://localhost:0"

	kv := store.NewMemStore()
	history := &fakeHistory{}
	rules := policy.NewStore(kv)
	ruleset := policy.NewRuleSet()
	cl := cleaner.New(history, fakeSiteData{}, cfg.Engine.HistorySearchMax, cfg.Engine.CacheClearInterval)
	buf := buffer.New(kv, cfg.Engine.BufferCapacity, cfg.Engine.BufferMaxAttempts,
		cfg.Engine.BufferRetrySpacing, cfg.Engine.BufferMaxAge)
	actionLog := pipeline.NewActionLog(kv, cfg.Engine.ActionLogCapacity)

	engine := pipeline.NewEngine(cfg.Engine, rules, ruleset, cl, buf, actionLog,
		store.NewMemStore(), metrics.NewCollector())
	require.NoError(t, engine.ReloadRules())

	return NewServer(cfg, engine, rules, metrics.NewCollector()), history
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func dataField(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "healthy")
}

func TestRuleCRUD(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rules", map[string]interface{}{
		"name":  "facebook",
		"match": map[string]interface{}{"url_regex": []string{`facebook\.com`}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := dataField(t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	// Omitted fields come from the defaults overlay.
	require.Equal(t, true, created["enabled"])

	w = doJSON(t, s, http.MethodGet, "/api/rules/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPut, "/api/rules/"+id, map[string]interface{}{
		"name":    "renamed",
		"enabled": true,
		"match":   map[string]interface{}{"url_regex": []string{`facebook\.com`}},
		"actions": map[string]string{"history": "delete", "cookies": "keep", "cache": "keep", "site_data": "keep"},
		"timing":  map[string]interface{}{"asap": true},
		"safety":  map[string]int{"max_deletes_per_minute": 10},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "renamed", dataField(t, w)["name"])

	w = doJSON(t, s, http.MethodDelete, "/api/rules/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/rules/"+id, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRuleValidation(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rules", map[string]interface{}{
		"name":  "bad",
		"match": map[string]interface{}{"url_regex": []string{`[unclosed`}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "details")
}

func TestVisitEventTriggersDeletion(t *testing.T) {
	s, history := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rules", map[string]interface{}{
		"name":  "facebook",
		"match": map[string]interface{}{"url_regex": []string{`facebook\.com`}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/events/visit", map[string]string{
		"url": "https://facebook.com/feed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"https://facebook.com/feed"}, history.deleted)

	w = doJSON(t, s, http.MethodGet, "/api/log", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "facebook.com/feed")
}

func TestNavigationEventIgnoresSubFrames(t *testing.T) {
	s, history := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rules", map[string]interface{}{
		"name":   "facebook",
		"match":  map[string]interface{}{"url_regex": []string{`facebook\.com`}},
		"timing": map[string]interface{}{"on_tab_close": true},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/events/navigation", map[string]interface{}{
		"tab_id": 5, "url": "https://facebook.com/feed", "top_frame": false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ignored")

	w = doJSON(t, s, http.MethodPost, "/api/events/navigation", map[string]interface{}{
		"tab_id": 5, "url": "https://facebook.com/feed", "top_frame": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/events/tab-close", map[string]int{"tab_id": 5})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"https://facebook.com/feed"}, history.deleted)
}

func TestPauseEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/paused", map[string]bool{"value": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, dataField(t, w)["paused"])

	w = doJSON(t, s, http.MethodPut, "/api/paused", map[string]bool{"value": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/status", nil)
	require.Equal(t, false, dataField(t, w)["paused"])
}

func TestForgetEndpoint(t *testing.T) {
	s, history := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/forget", map[string]string{
		"url": "https://example.com/secret",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"https://example.com/secret"}, history.deleted)

	w = doJSON(t, s, http.MethodPost, "/api/forget", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestEndpoint(t *testing.T) {
	s, history := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rules", map[string]interface{}{
		"name":  "facebook",
		"match": map[string]interface{}{"url_regex": []string{`facebook\.com`}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/test", map[string]string{
		"url": "https://facebook.com/feed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"matches"`)
	require.Empty(t, history.deleted)
}

func TestActionLogEndpointLimit(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rules", map[string]interface{}{
		"name":  "all",
		"match": map[string]interface{}{"url_regex": []string{`example\.com`}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	for i := 0; i < 3; i++ {
		w = doJSON(t, s, http.MethodPost, "/api/events/visit", map[string]string{
			"url": fmt.Sprintf("https://example.com/%d", i),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/log?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	w = doJSON(t, s, http.MethodDelete, "/api/log", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
