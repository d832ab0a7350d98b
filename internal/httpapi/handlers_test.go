package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
	apimw "github.com/hamed0406/opsmonitor/internal/httpapi/middleware"
	"github.com/hamed0406/opsmonitor/internal/live"
	"github.com/hamed0406/opsmonitor/internal/probe"
	"github.com/hamed0406/opsmonitor/internal/repo"
	"github.com/hamed0406/opsmonitor/internal/repo/memory"
)

// ---- test helpers ----

type fakeChecker struct {
	out   domain.ProbeOutcome
	calls atomic.Int32
}

func (f *fakeChecker) Check(_ context.Context, _ domain.Target) domain.ProbeOutcome {
	f.calls.Add(1)
	return f.out
}

var _ probe.Checker = (*fakeChecker)(nil)

type fixture struct {
	srv   *httptest.Server
	store *memory.Store
	hub   *live.Hub
	chk   *fakeChecker
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	hub := live.New(zap.NewNop(), nil)
	chk := &fakeChecker{out: domain.ProbeOutcome{Status: domain.StatusOnline, ResponseTimeMS: domain.Float64(12.5)}}

	s := NewServer(zap.NewNop(), store, chk, hub)
	s.Version = "1.2.3"
	// very high rate limits to avoid flakiness in tests
	h := s.Router(RouterConfig{
		Keys: apimw.Keys{
			Public: []string{"pub_test"},
			Admin:  []string{"adm_test"},
		},
		PublicRPM:   10_000,
		PublicBurst: 10_000,
		AdminRPM:    10_000,
		AdminBurst:  10_000,
	})
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &fixture{srv: ts, store: store, hub: hub, chk: chk}
}

func (f *fixture) do(t *testing.T, method, path, key, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (f *fixture) create(t *testing.T, body string) domain.Target {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/services", "adm_test", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: want 201, got %d", resp.StatusCode)
	}
	return decode[domain.Target](t, resp)
}

// ---- tests ----

func TestHealthEndpoints(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/healthz", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	h := decode[map[string]string](t, f.do(t, http.MethodGet, "/health", "", ""))
	if h["status"] != "ok" || h["version"] != "1.2.3" || h["environment"] == "" {
		t.Fatalf("health = %v", h)
	}
}

func TestCreateService_OK_Duplicate_Invalid(t *testing.T) {
	f := setup(t)

	got := f.create(t, `{"name":"Example","url":"https://EXAMPLE.com/"}`)
	if got.ID == "" || got.URL != "https://example.com" {
		t.Fatalf("expected normalized URL and ID, got %+v", got)
	}
	if got.Status != domain.StatusUnknown || got.Kind != domain.KindHTTP || got.ExpectedStatus != 200 || !got.Active {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if f.chk.calls.Load() != 0 {
		t.Fatalf("create must not probe")
	}

	// Duplicate should be 409
	resp := f.do(t, http.MethodPost, "/api/services", "adm_test", `{"name":"Again","url":"https://example.com"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("want 409 on duplicate, got %d", resp.StatusCode)
	}

	for _, body := range []string{
		`{"name":"x","url":"ftp://bad"}`,
		`{"name":"","url":"https://a.example.com"}`,
		`{"name":"x","url":"10.0.0.1","check_type":"dns"}`,
		`not json`,
	} {
		resp := f.do(t, http.MethodPost, "/api/services", "adm_test", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", body, resp.StatusCode)
		}
	}

	// ping targets take bare hosts
	p := f.create(t, `{"name":"Router","url":"192.168.1.1","check_type":"ping","is_active":false}`)
	if p.Kind != domain.KindPing || p.Active {
		t.Fatalf("ping target = %+v", p)
	}
}

func TestAuth_PublicCannotWrite(t *testing.T) {
	f := setup(t)

	if resp := f.do(t, http.MethodGet, "/api/services", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key: want 401, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/services", "pub_test", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("public read: want 200, got %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodPost, "/api/services", "pub_test", `{"name":"x","url":"https://x.example.com"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("public write: want 403, got %d", resp.StatusCode)
	}
}

func TestListGetUpdateDelete(t *testing.T) {
	f := setup(t)
	b := f.create(t, `{"name":"b","url":"https://b.example.com"}`)
	f.create(t, `{"name":"a","url":"https://a.example.com"}`)

	list := decode[[]domain.Target](t, f.do(t, http.MethodGet, "/api/services", "pub_test", ""))
	if len(list) != 2 || list[0].Name != "a" {
		t.Fatalf("list not sorted by name: %+v", list)
	}

	got := decode[domain.Target](t, f.do(t, http.MethodGet, "/api/services/"+string(b.ID), "pub_test", ""))
	if got.Name != "b" {
		t.Fatalf("get = %+v", got)
	}

	resp := f.do(t, http.MethodPut, "/api/services/"+string(b.ID), "adm_test", `{"name":"b2","is_active":false}`)
	if resp.StatusCode != 200 {
		t.Fatalf("update: %d", resp.StatusCode)
	}
	upd := decode[domain.Target](t, resp)
	if upd.Name != "b2" || upd.Active || upd.URL != "https://b.example.com" {
		t.Fatalf("partial update wrong: %+v", upd)
	}

	if resp := f.do(t, http.MethodPut, "/api/services/"+string(b.ID), "adm_test", `{"check_type":"smtp"}`); resp.StatusCode != 400 {
		t.Fatalf("bad update: want 400, got %d", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodDelete, "/api/services/"+string(b.ID), "adm_test", ""); resp.StatusCode != 200 {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/api/services/"+string(b.ID), "pub_test", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: want 404, got %d", resp.StatusCode)
	}
	if e := decode[map[string]string](t, resp); e["error"] != "service not found" {
		t.Fatalf("error body = %v", e)
	}
	if resp := f.do(t, http.MethodDelete, "/api/services/"+string(b.ID), "adm_test", ""); resp.StatusCode != 404 {
		t.Fatalf("second delete: want 404, got %d", resp.StatusCode)
	}
}

func TestManualCheck_StoresOutcomeWithoutTransitionLog(t *testing.T) {
	f := setup(t)
	svc := f.create(t, `{"name":"api","url":"https://api.example.com"}`)

	resp := f.do(t, http.MethodPost, "/api/services/"+string(svc.ID)+"/check", "adm_test", "")
	if resp.StatusCode != 200 {
		t.Fatalf("check: %d", resp.StatusCode)
	}
	got := decode[domain.Target](t, resp)
	if got.Status != domain.StatusOnline || got.ResponseTimeMS == nil || *got.ResponseTimeMS != 12.5 || got.LastChecked == nil {
		t.Fatalf("manual check result = %+v", got)
	}

	stored, _ := f.store.Get(context.Background(), svc.ID)
	if stored.Status != domain.StatusOnline {
		t.Fatalf("outcome not persisted: %+v", stored)
	}
	logs, _ := f.store.ListLogs(context.Background(), repo.LogFilter{})
	if len(logs) != 0 {
		t.Fatalf("manual check wrote logs: %+v", logs)
	}

	if resp := f.do(t, http.MethodPost, "/api/services/missing/check", "adm_test", ""); resp.StatusCode != 404 {
		t.Fatalf("missing: want 404, got %d", resp.StatusCode)
	}
}

func TestServiceStats(t *testing.T) {
	f := setup(t)
	a := f.create(t, `{"name":"a","url":"https://a.example.com"}`)
	f.create(t, `{"name":"b","url":"https://b.example.com"}`)
	_ = f.store.SetStatus(context.Background(), domain.TargetUpdate{
		ID: a.ID, Status: domain.StatusOnline, ResponseTimeMS: domain.Float64(100), CheckedAt: time.Now(),
	})

	st := decode[domain.Stats](t, f.do(t, http.MethodGet, "/api/services/stats", "pub_test", ""))
	if st.Total != 2 || st.Online != 1 || st.Unknown != 1 || st.AvgResponseTimeMS != 100 || st.OnlinePercentage != 50 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestLogs_FilterLimitAndSources(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range []domain.LogEntry{
		{Level: domain.LevelInfo, Source: "api", Message: "one"},
		{Level: domain.LevelCritical, Source: domain.SourceHealthChecker, Message: "two"},
		{Level: domain.LevelWarning, Source: domain.SourceHealthChecker, Message: "three"},
	} {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_ = f.store.AppendLog(ctx, &e)
	}

	all := decode[[]domain.LogEntry](t, f.do(t, http.MethodGet, "/api/logs", "pub_test", ""))
	if len(all) != 3 || all[0].Message != "three" {
		t.Fatalf("logs not newest first: %+v", all)
	}
	crit := decode[[]domain.LogEntry](t, f.do(t, http.MethodGet, "/api/logs?level=critical&source=health-checker", "pub_test", ""))
	if len(crit) != 1 || crit[0].Message != "two" {
		t.Fatalf("filtered logs = %+v", crit)
	}
	one := decode[[]domain.LogEntry](t, f.do(t, http.MethodGet, "/api/logs?limit=1", "pub_test", ""))
	if len(one) != 1 {
		t.Fatalf("limit ignored: %d", len(one))
	}
	if resp := f.do(t, http.MethodGet, "/api/logs?limit=abc", "pub_test", ""); resp.StatusCode != 400 {
		t.Fatalf("bad limit: want 400, got %d", resp.StatusCode)
	}

	sources := decode[[]string](t, f.do(t, http.MethodGet, "/api/logs/sources", "pub_test", ""))
	if len(sources) != 2 {
		t.Fatalf("sources = %v", sources)
	}
}

func TestLiveFeed_RequiresKeyAndStreams(t *testing.T) {
	f := setup(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/live-feed"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("dial without key must fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?api_key=pub_test", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.hub.Broadcast(domain.TransitionEvent{
		TargetName: "api",
		OldStatus:  domain.StatusOnline,
		NewStatus:  domain.StatusDegraded,
		Timestamp:  time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev domain.WireEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != domain.EventServiceStatusChange || ev.Data.NewStatus != domain.StatusDegraded {
		t.Fatalf("event = %+v", ev)
	}
}
