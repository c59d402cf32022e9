package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/noospace-net/noospace/internal/app"
	"github.com/noospace-net/noospace/internal/app/clock"
)

func newTestHandler(t *testing.T, clk clock.Clock) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{Clock: clk}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return NewHandler(application, Options{}, nil), application
}

func marshal(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func decode(t *testing.T, body []byte, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("unmarshal %s: %v", body, err)
	}
}

func TestPostAndFeed(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts",
		marshal(t, map[string]any{"wallet": "wallet-1", "text": "hello space", "intent": true})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body)
	}

	var post map[string]any
	decode(t, resp.Body.Bytes(), &post)
	if post["reward"] != float64(7) {
		t.Fatalf("expected reward 7, got %v", post["reward"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/feed", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var feedBody struct {
		Posts []map[string]any `json:"posts"`
	}
	decode(t, resp.Body.Bytes(), &feedBody)
	if len(feedBody.Posts) != 1 {
		t.Fatalf("expected 1 post in feed, got %d", len(feedBody.Posts))
	}
}

func TestPostQuotaExceeded(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts",
			marshal(t, map[string]any{"wallet": "wallet-1", "text": "post"})))
		if resp.Code != http.StatusCreated {
			t.Fatalf("post %d: expected 201, got %d", i+1, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts",
		marshal(t, map[string]any{"wallet": "wallet-1", "text": "blocked"})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPostEmptyText(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts",
		marshal(t, map[string]any{"wallet": "wallet-1", "text": "   "})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHarvestEndpoint(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	handler, _ := newTestHandler(t, clk)

	// Earn a pool.
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts",
		marshal(t, map[string]any{"wallet": "wallet-1", "text": "seed", "intent": true})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("seed post: expected 201, got %d", resp.Code)
	}

	t.Run("method not allowed", func(t *testing.T) {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/harvest", nil))
		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", resp.Code)
		}
	})

	t.Run("locked pool", func(t *testing.T) {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/harvest",
			marshal(t, map[string]any{"wallet": "wallet-1"})))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body)
		}
		var body map[string]any
		decode(t, resp.Body.Bytes(), &body)
		if body["ok"] != false {
			t.Fatalf("expected ok=false, got %v", body)
		}
		if body["error"] == "" {
			t.Fatal("expected error message")
		}
	})

	t.Run("ready pool", func(t *testing.T) {
		clk.Advance(10 * 24 * time.Hour)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/harvest",
			marshal(t, map[string]any{"wallet": "wallet-1"})))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body)
		}
		var body map[string]any
		decode(t, resp.Body.Bytes(), &body)
		if body["ok"] != true {
			t.Fatalf("expected ok=true, got %v", body)
		}
		if body["harvested"] != float64(7) {
			t.Fatalf("expected harvested 7, got %v", body["harvested"])
		}
	})

	t.Run("empty pool after harvest", func(t *testing.T) {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/harvest",
			marshal(t, map[string]any{"wallet": "wallet-1"})))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
		var body map[string]any
		decode(t, resp.Body.Bytes(), &body)
		if body["ok"] != true || body["harvested"] != float64(0) {
			t.Fatalf("expected ok with zero harvested, got %v", body)
		}
	})
}

func TestResonateAndSacrifice(t *testing.T) {
	handler, application := newTestHandler(t, nil)
	ctx := context.Background()

	post, err := application.Rewards.SubmitPost(ctx, "author", "shine on", true)
	if err != nil {
		t.Fatalf("seed post: %v", err)
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts/"+post.ID+"/resonate", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("resonate: expected 200, got %d", resp.Code)
	}
	var res map[string]int64
	decode(t, resp.Body.Bytes(), &res)
	if res["resonates"] != 1 {
		t.Fatalf("expected 1 resonate, got %d", res["resonates"])
	}

	// Sacrificing with a poor wallet is rejected.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts/"+post.ID+"/sacrifice",
		marshal(t, map[string]any{"wallet": "pauper"})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	// Unknown post is a 404.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/posts/missing/resonate", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestWalletEndpoints(t *testing.T) {
	handler, application := newTestHandler(t, nil)

	if _, err := application.Rewards.SubmitPost(context.Background(), "wallet-1", "first", false); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/wallets/wallet-1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var snap map[string]any
	decode(t, resp.Body.Bytes(), &snap)
	if snap["spendable"] != float64(5) || snap["unclaimed"] != float64(5) {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	if snap["farmed"] != float64(5) {
		t.Fatalf("expected farmed 5, got %v", snap["farmed"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/wallets/wallet-1/quota", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var quota map[string]int
	decode(t, resp.Body.Bytes(), &quota)
	if quota["used"] != 1 || quota["limit"] != 3 || quota["remaining"] != 2 {
		t.Fatalf("unexpected quota %v", quota)
	}
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var report map[string]any
	decode(t, resp.Body.Bytes(), &report)
	if report["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", report["status"])
	}
}

func TestMetricsExposed(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatal("expected metrics output")
	}
}

func TestRateLimiting(t *testing.T) {
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application, Options{RatePerSecond: 1, RateBurst: 2}, nil)

	var limited bool
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(resp, req)
		if resp.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("expected at least one rate-limited response")
	}
}
