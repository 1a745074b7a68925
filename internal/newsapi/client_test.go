package newsapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hazz-dev/newsdesk/internal/newsapi"
)

func newClient(t *testing.T, baseURL string) *newsapi.Client {
	t.Helper()
	c, err := newsapi.New(newsapi.Options{
		BaseURL: baseURL,
		Headers: map[string]string{"X-Client": "newsdesk"},
	}, nil)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	if _, err := newsapi.New(newsapi.Options{BaseURL: "/api"}, nil); err == nil {
		t.Fatal("expected error for relative base url, got nil")
	}
}

func TestNew_HTTP2Transport(t *testing.T) {
	c, err := newsapi.New(newsapi.Options{BaseURL: "https://news.example.com", HTTP2: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()
	tr, ok := c.HTTPClient().Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.HTTPClient().Transport)
	}
	if tr.TLSClientConfig == nil || len(tr.TLSClientConfig.NextProtos) == 0 || tr.TLSClientConfig.NextProtos[0] != "h2" {
		t.Errorf("expected h2 in ALPN protocols, got %+v", tr.TLSClientConfig)
	}
}

func TestGet_Success(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Client")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","data":[{"id":"1","title":"Hello"}]}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	resp, err := c.Get("/api/articles", url.Values{"page": {"2"}})(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !resp.OK() {
		t.Errorf("expected OK response, got %d", resp.StatusCode())
	}
	var env newsapi.Envelope
	if err := resp.Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 || env.Data[0].Title != "Hello" {
		t.Errorf("unexpected payload %+v", env)
	}
	if gotPath != "/api/articles" {
		t.Errorf("expected path /api/articles, got %q", gotPath)
	}
	if gotQuery != "page=2" {
		t.Errorf("expected query page=2, got %q", gotQuery)
	}
	if gotHeader != "newsdesk" {
		t.Errorf("expected X-Client header, got %q", gotHeader)
	}
}

func TestGet_ErrorStatusIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"article not found"}`))
	}))
	defer srv.Close()

	resp, err := newClient(t, srv.URL).Get("/api/articles/9", nil)(context.Background())
	if err != nil {
		t.Fatalf("non-2xx must not be a transport error: %v", err)
	}
	if resp.OK() || resp.StatusCode() != http.StatusNotFound {
		t.Errorf("expected 404 response, got %d", resp.StatusCode())
	}
}

func TestGet_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	if _, err := newClient(t, base).Get("/api/articles", nil)(context.Background()); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		kind      string
		params    map[string]string
		wantPath  string
		wantQuery string
		wantErr   bool
	}{
		{kind: "articles", params: map[string]string{"page": "1", "category": "world"}, wantPath: "/api/articles", wantQuery: "category=world&page=1"},
		{kind: "article", params: map[string]string{"id": "42"}, wantPath: "/api/articles/42"},
		{kind: "article", params: nil, wantErr: true},
		{kind: "related", params: map[string]string{"id": "42", "limit": "3"}, wantPath: "/api/articles/42/related", wantQuery: "limit=3"},
		{kind: "related", params: map[string]string{"limit": "3"}, wantErr: true},
		{kind: "categories", wantPath: "/api/categories"},
		{kind: "breaking", wantPath: "/api/articles/breaking"},
		{kind: "feed", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.wantPath, func(t *testing.T) {
			path, query, err := newsapi.Endpoint(tt.kind, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if path != tt.wantPath {
				t.Errorf("expected path %q, got %q", tt.wantPath, path)
			}
			if got := query.Encode(); got != tt.wantQuery {
				t.Errorf("expected query %q, got %q", tt.wantQuery, got)
			}
		})
	}
}

func TestSubscribe_Success(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/newsletter" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := newClient(t, srv.URL).Subscribe(context.Background(), " Reader <reader@example.com> "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["email"] != "reader@example.com" {
		t.Errorf("expected normalized email, got %v", got)
	}
}

func TestSubscribe_ServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"already subscribed"}`))
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).Subscribe(context.Background(), "reader@example.com")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "already subscribed") {
		t.Errorf("error should carry the server message: %v", err)
	}
}

func TestSubscribe_InvalidEmail(t *testing.T) {
	c := newClient(t, "https://news.example.com")
	if err := c.Subscribe(context.Background(), "not-an-email"); err == nil {
		t.Fatal("expected error for invalid email, got nil")
	}
}
