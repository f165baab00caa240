package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docsage/docsage/internal/answer"
	"github.com/docsage/docsage/internal/backend"
	"github.com/docsage/docsage/internal/cache"
	"github.com/docsage/docsage/internal/retrieval"
	"github.com/docsage/docsage/internal/store"
	"github.com/docsage/docsage/internal/testutil"
)

// stubRetriever returns a fixed candidate set.
type stubRetriever struct {
	candidates []retrieval.Candidate
	err        error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ retrieval.Strategy, _ int) ([]retrieval.Candidate, error) {
	return s.candidates, s.err
}

// stubGenerator returns a fixed answer.
type stubGenerator struct {
	answer string
	err    error
}

func (s *stubGenerator) Generate(_ context.Context, _ string, _ backend.GenerateParams) (string, error) {
	return s.answer, s.err
}

// stubStatsStore implements StatsStore.
type stubStatsStore struct {
	count   int64
	version int64
	err     error
}

func (s *stubStatsStore) Count(_ context.Context) (int64, error) { return s.count, s.err }
func (s *stubStatsStore) MutationVersion() int64                 { return s.version }

func testService(candidates []retrieval.Candidate) *answer.Service {
	return answer.New(
		&stubRetriever{candidates: candidates},
		&stubGenerator{answer: "The answer [Source 1]."},
		nil,
		answer.Config{},
		testutil.DiscardLogger(),
	)
}

func testServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutil.DiscardLogger()
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func oneCandidate() []retrieval.Candidate {
	return []retrieval.Candidate{{
		Chunk: store.Chunk{
			ID:         uuid.New(),
			Content:    "Backups run nightly.",
			SourcePath: "ops/backup.md",
		},
		Score: 0.9,
		Match: retrieval.MatchSemantic,
	}}
}

func TestNewServerRequiresService(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Fatal("NewServer without a service should fail")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, ServerConfig{Service: testService(nil)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestReadyWithoutStore(t *testing.T) {
	srv := testServer(t, ServerConfig{Service: testService(nil)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for liveness-only readiness", rec.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv := testServer(t, ServerConfig{Service: testService(oneCandidate())})

	body := strings.NewReader(`{"query": "when do backups run"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/query", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp answer.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer == "" {
		t.Error("response missing answer text")
	}
	if len(resp.Sources) != 1 || resp.Sources[0].SourcePath != "ops/backup.md" {
		t.Errorf("sources = %+v", resp.Sources)
	}
}

func TestQueryEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid json",
			body:       `{"query":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_json",
		},
		{
			name:       "trailing garbage",
			body:       `{"query": "q"} extra`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_json",
		},
		{
			name:       "empty query",
			body:       `{"query": "   "}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "empty_query",
		},
		{
			name:       "unknown strategy",
			body:       `{"query": "q", "strategy": "fulltext"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_strategy",
		},
	}

	srv := testServer(t, ServerConfig{Service: testService(nil)})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error, tt.wantCode)
			}
		})
	}
}

func TestQueryBackendFailureMapsToBadGateway(t *testing.T) {
	svc := answer.New(
		&stubRetriever{},
		&stubGenerator{err: backend.ErrUnavailable},
		nil,
		answer.Config{},
		testutil.DiscardLogger(),
	)
	srv := testServer(t, ServerConfig{Service: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query": "q u e r y"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	embedCache, err := cache.New[[]float32](4, 0)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	embedCache.Put("k", []float32{1})
	embedCache.Get("k")
	embedCache.Get("missing")

	srv := testServer(t, ServerConfig{
		Service: testService(nil),
		Store:   &stubStatsStore{count: 42, version: 7},
		Caches:  map[string]CacheStats{"embedding": embedCache},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if resp.Chunks != 42 || resp.MutationVersion != 7 {
		t.Errorf("stats = %+v", resp)
	}
	embedStats, ok := resp.Caches["embedding"]
	if !ok {
		t.Fatal("stats missing embedding cache")
	}
	if embedStats.Hits != 1 || embedStats.Misses != 1 {
		t.Errorf("cache stats = %+v", embedStats)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := testServer(t, ServerConfig{Service: testService(nil), RateBurst: 2})

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("burst exhausted status = %d, want 429", lastCode)
	}

	// Health probes bypass the limiter.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health during rate limiting = %d, want 200", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "proxy headers ignored when untrusted",
			remoteAddr: "192.0.2.1:1234",
			realIP:     "203.0.113.9",
			want:       "192.0.2.1",
		},
		{
			name:       "x-real-ip when trusted",
			remoteAddr: "192.0.2.1:1234",
			realIP:     "203.0.113.9",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for first hop",
			remoteAddr: "192.0.2.1:1234",
			forwarded:  "203.0.113.9, 198.51.100.2",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "invalid header falls back",
			remoteAddr: "192.0.2.1:1234",
			realIP:     "not-an-ip",
			trustProxy: true,
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
