package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/link"
	"github.com/kstaniek/go-can-sniffer/internal/remote"
)

type downLink struct{ connects int }

func (d *downLink) ConnectionUp() bool { return false }
func (d *downLink) Connect(string, string) error {
	d.connects++
	return link.ErrNoLink
}

func TestFetchSettingsUsesEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("User") != "bob" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/filters":
			_, _ = w.Write([]byte("7E0;7E8\n"))
		case "/rate":
			_, _ = w.Write([]byte("250KBPS"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := &appConfig{
		filters: "XXX", bitrate: "500KBPS",
		urlFilters: srv.URL + "/filters", urlRate: srv.URL + "/rate",
		remoteUser: "bob", remotePassword: "pw", remoteTimeout: time.Second,
	}
	filters, rate := fetchSettings(context.Background(), cfg, link.Always{}, testLogger())
	if filters != "7E0;7E8" || rate != "250KBPS" {
		t.Fatalf("got filters=%q rate=%q", filters, rate)
	}
}

func TestFetchSettingsFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &appConfig{filters: "XXX", bitrate: "500KBPS", urlFilters: srv.URL, remoteTimeout: time.Second}
	filters, rate := fetchSettings(context.Background(), cfg, link.Always{}, testLogger())
	if filters != "XXX" || rate != "500KBPS" {
		t.Fatalf("expected configured values, got %q %q", filters, rate)
	}

	dl := &downLink{}
	filters, _ = fetchSettings(context.Background(), cfg, dl, testLogger())
	if filters != "XXX" || dl.connects != 1 {
		t.Fatalf("link down must fall back after one connect attempt, connects=%d", dl.connects)
	}
}

func TestBuildSink(t *testing.T) {
	s, err := buildSink(context.Background(), &appConfig{remote: "none"}, link.Always{})
	if err != nil || s != nil {
		t.Fatalf("none: sink=%v err=%v", s, err)
	}

	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- string(b)
	}))
	defer srv.Close()
	s, err = buildSink(context.Background(), &appConfig{remote: "http", urlRecords: srv.URL, remoteTimeout: time.Second}, link.Always{})
	if err != nil {
		t.Fatalf("http: %v", err)
	}
	defer s.Close()
	if err := s.Deliver(context.Background(), remote.Batch{Text: []byte("1.5;123;01;AB;")}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if body := <-got; body != "1.5;123;01;AB;" {
		t.Fatalf("posted %q", body)
	}

	s, err = buildSink(context.Background(), &appConfig{remote: "http", urlRecords: srv.URL, remoteTimeout: time.Second}, &downLink{})
	if err != nil {
		t.Fatalf("http: %v", err)
	}
	if err := s.Deliver(context.Background(), remote.Batch{Text: []byte("x")}); !errors.Is(err, remote.ErrLinkDown) {
		t.Fatalf("expected ErrLinkDown, got %v", err)
	}
}

func TestMetricsPort(t *testing.T) {
	if p, err := metricsPort(":9100"); err != nil || p != 9100 {
		t.Fatalf("metricsPort: %d %v", p, err)
	}
	if _, err := metricsPort("bad"); err == nil {
		t.Fatalf("expected error")
	}
}
