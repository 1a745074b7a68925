package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/newsdesk/internal/config"
)

type fakeNewsAPI struct {
	database     string
	articleCalls int32
}

func (f *fakeNewsAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health/db", func(w http.ResponseWriter, r *http.Request) {
		if f.database != "connected" {
			w.Write([]byte(`{"status":"error","database":"` + f.database + `","message":"Database is unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","database":"connected"}`))
	})
	mux.HandleFunc("/api/articles", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.articleCalls, 1)
		w.Write([]byte(`{"status":"ok","data":[{"id":"1","title":"Hello"}]}`))
	})
	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"empty","message":"No categories yet"}`))
	})
	mux.HandleFunc("/api/articles/breaking", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"breaking desk offline"}`))
	})
	return mux
}

func checkConfig(baseURL string, widgets ...config.Widget) *config.Config {
	return &config.Config{
		API:     config.APIConfig{BaseURL: baseURL, Timeout: config.Duration{Duration: 5 * time.Second}},
		Probe:   config.ProbeConfig{Path: "/api/health/db", Timeout: config.Duration{Duration: 5 * time.Second}},
		Widgets: widgets,
	}
}

func TestRunChecks_AllReady_OutputFormat(t *testing.T) {
	api := &fakeNewsAPI{database: "connected"}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	cfg := checkConfig(srv.URL,
		config.Widget{Name: "latest", Kind: config.KindArticles},
		config.Widget{Name: "sections", Kind: config.KindCategories},
	)

	var buf bytes.Buffer
	if err := runChecks(context.Background(), &buf, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"Connected", "WIDGET", "latest", "articles", "ready", "sections", "empty", "No categories yet"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
	if n := atomic.LoadInt32(&api.articleCalls); n != 1 {
		t.Errorf("expected exactly one articles request, got %d", n)
	}
}

func TestRunChecks_UnreachableSkipsFetches(t *testing.T) {
	api := &fakeNewsAPI{database: "disconnected"}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	cfg := checkConfig(srv.URL, config.Widget{Name: "latest", Kind: config.KindArticles})

	var buf bytes.Buffer
	err := runChecks(context.Background(), &buf, cfg)
	if err == nil {
		t.Fatal("expected error when the API is unreachable")
	}

	output := buf.String()
	if !strings.Contains(output, "Database is unavailable") {
		t.Errorf("expected prober message in output, got:\n%s", output)
	}
	if !strings.Contains(output, "error") {
		t.Errorf("expected widget in error phase, got:\n%s", output)
	}
	if n := atomic.LoadInt32(&api.articleCalls); n != 0 {
		t.Errorf("expected no article requests while unreachable, got %d", n)
	}
}

func TestRunChecks_WidgetFailure(t *testing.T) {
	srv := httptest.NewServer((&fakeNewsAPI{database: "connected"}).handler())
	defer srv.Close()

	cfg := checkConfig(srv.URL,
		config.Widget{Name: "latest", Kind: config.KindArticles},
		config.Widget{Name: "breaking", Kind: config.KindBreaking},
	)

	var buf bytes.Buffer
	err := runChecks(context.Background(), &buf, cfg)
	if err == nil || !strings.Contains(err.Error(), "1 widget(s) failed") {
		t.Fatalf("expected one widget failure, got %v", err)
	}
	if !strings.Contains(buf.String(), "breaking desk offline") {
		t.Errorf("expected server message in output, got:\n%s", buf.String())
	}
}
