package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/db"
	"github.com/energizer-project/ragol/internal/network"
)

type fakeSessions []network.SessionInfo

func (f fakeSessions) List() []network.SessionInfo { return f }

type fakeCaptures struct {
	captures []db.Capture
	counts   []db.CodeCount
	err      error
	filter   db.Filter
	limit    int
}

func (f *fakeCaptures) Recent(_ context.Context, limit int, filter db.Filter) ([]db.Capture, error) {
	f.limit = limit
	f.filter = filter
	return f.captures, f.err
}

func (f *fakeCaptures) CountByCode(context.Context) ([]db.CodeCount, error) {
	return f.counts, f.err
}

func newTestServer(cfg config.APIConfig, deps Deps) *Server {
	return NewServer(cfg, deps, false)
}

func do(t *testing.T, s *Server, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %s", rec.Body.String())
		}
	}
	return rec, out
}

func TestPing(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})
	rec, out := do(t, s, http.MethodGet, "/api/public/ping", nil)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("%d %v", rec.Code, out)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestInfo(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{
		Relay:    network.RelayConfig{Listen: ":9100", Upstream: "10.0.0.1:9100", Variant: config.VariantB},
		Sessions: fakeSessions{{ID: "a"}, {ID: "b"}},
	})
	rec, out := do(t, s, http.MethodGet, "/api/public/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if out["sessions"].(float64) != 2 || out["capture_enabled"] != false {
		t.Fatalf("got %v", out)
	}
	if relay := out["relay"].(map[string]any); relay["upstream"] != "10.0.0.1:9100" {
		t.Fatalf("relay %v", relay)
	}
}

func TestDecodeEndpoint(t *testing.T) {
	s := newTestServer(config.APIConfig{MaxDecodeBytes: 1024}, Deps{})

	// A redirect followed by a disconnect, with whitespace between them.
	req := obj{"hex": "19000c00 7f000001 1027 0000\n05000400"}
	rec, out := do(t, s, http.MethodPost, "/api/frames/decode", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %v", rec.Code, out)
	}
	frames := out["frames"].([]any)
	if len(frames) != 2 {
		t.Fatalf("frames %v", frames)
	}
	first := frames[0].(map[string]any)
	summary := first["summary"].(map[string]any)
	if summary["name"] != "redirect4" || summary["fields"].(map[string]any)["target"] != "127.0.0.1:10000" {
		t.Fatalf("first %v", first)
	}
	if second := frames[1].(map[string]any); second["offset"].(float64) != 12 {
		t.Fatalf("second %v", second)
	}
}

func TestDecodeEndpointErrors(t *testing.T) {
	s := newTestServer(config.APIConfig{MaxDecodeBytes: 8}, Deps{})

	rec, _ := do(t, s, http.MethodPost, "/api/frames/decode", obj{"hex": "zz"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad hex: %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodPost, "/api/frames/decode", obj{"hex": "00000000000000000000"})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized: %d", rec.Code)
	}

	rec, out := do(t, s, http.MethodPost, "/api/frames/decode", obj{"hex": "050004000100"})
	if rec.Code != http.StatusUnprocessableEntity || out["count"].(float64) != 1 || out["error"] == nil {
		t.Fatalf("partial: %d %v", rec.Code, out)
	}

	rec, _ = do(t, s, http.MethodPost, "/api/frames/decode", obj{"hex": "05000400", "variant": "q"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown variant: %d", rec.Code)
	}
}

func TestEncodeEndpoint(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})

	rec, out := do(t, s, http.MethodPost, "/api/frames/encode", obj{"code": 0x60, "flags": 1, "body_hex": "aabbcc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %v", rec.Code, out)
	}
	if out["hex"] != "60010800aabbcc00" || out["size"].(float64) != 8 {
		t.Fatalf("got %v", out)
	}

	rec, out = do(t, s, http.MethodPost, "/api/frames/encode", obj{"variant": "a", "code": 0x60, "body_hex": "aabbcc"})
	if rec.Code != http.StatusOK || out["hex"] != "60000004aabbcc00" {
		t.Fatalf("legacy: %d %v", rec.Code, out)
	}

	rec, out = do(t, s, http.MethodPost, "/api/frames/encode", obj{"code": 0x19, "body_hex": "01"})
	if rec.Code != http.StatusOK || out["warning"] == nil {
		t.Fatalf("short redirect: %d %v", rec.Code, out)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(config.APIConfig{Token: "secret"}, Deps{Sessions: fakeSessions{}})

	rec, _ := do(t, s, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	rec, _ = do(t, s, http.MethodGet, "/api/sessions", nil, "Authorization", "Bearer wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	rec, _ = do(t, s, http.MethodGet, "/api/sessions", nil, "Authorization", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: %d", rec.Code)
	}
}

func TestIPWhitelist(t *testing.T) {
	s := newTestServer(config.APIConfig{AllowedIPs: []string{"10.0.0.0/8"}}, Deps{Sessions: fakeSessions{}})
	rec, _ := do(t, s, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestCapturesEndpoint(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})
	rec, _ := do(t, s, http.MethodGet, "/api/captures", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without store: %d", rec.Code)
	}

	store := &fakeCaptures{captures: []db.Capture{{ID: 1, Code: 0x19, Name: "redirect4", CapturedAt: time.Now()}}}
	s = newTestServer(config.APIConfig{}, Deps{Captures: store})

	rec, out := do(t, s, http.MethodGet, "/api/captures?limit=5000&session=abc&code=0x19", nil)
	if rec.Code != http.StatusOK || out["count"].(float64) != 1 {
		t.Fatalf("%d %v", rec.Code, out)
	}
	if store.limit != maxCaptureLimit || store.filter.Session != "abc" || store.filter.Code == nil || *store.filter.Code != 0x19 {
		t.Fatalf("limit %d filter %+v", store.limit, store.filter)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/captures?code=300", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad code: %d", rec.Code)
	}
	rec, _ = do(t, s, http.MethodGet, "/api/captures?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}

	store.err = errors.New("disk gone")
	rec, _ = do(t, s, http.MethodGet, "/api/captures", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("store error: %d", rec.Code)
	}
}

func TestCaptureStatsEndpoint(t *testing.T) {
	store := &fakeCaptures{counts: []db.CodeCount{
		{Code: 0x19, Name: "redirect4", Count: 3},
		{Code: 0x05, Name: "disconnect", Count: 2},
	}}
	s := newTestServer(config.APIConfig{}, Deps{Captures: store})
	rec, out := do(t, s, http.MethodGet, "/api/captures/stats", nil)
	if rec.Code != http.StatusOK || out["total"].(float64) != 5 {
		t.Fatalf("%d %v", rec.Code, out)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})
	rec, _ := do(t, s, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without relay: %d", rec.Code)
	}

	s = newTestServer(config.APIConfig{}, Deps{Sessions: fakeSessions{{ID: "x", Variant: "b"}}})
	rec, out := do(t, s, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK || out["count"].(float64) != 1 {
		t.Fatalf("%d %v", rec.Code, out)
	}
}

func TestRateLimiterTake(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.take("ip", now) || !rl.take("ip", now) {
		t.Fatal("burst refused")
	}
	if rl.take("ip", now) {
		t.Fatal("over burst allowed")
	}
	if !rl.take("ip", now.Add(time.Second)) {
		t.Fatal("refill not applied")
	}
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(config.APIConfig{}, Deps{})
	rec, _ := do(t, s, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
}

type obj = map[string]any
