package trackers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTrackersFetchesOncePerDay(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte("udp://a\n\nudp://b\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "tracker_cache")
	day := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	cache := New(path, srv.URL, srv.Client(), nil, WithClock(fixedClock(day)))

	want := []string{"udp://a", "udp://b"}
	for i := 0; i < 2; i++ {
		got, err := cache.Trackers(context.Background())
		if err != nil {
			t.Fatalf("Trackers call %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Trackers call %d = %v, want %v", i, got, want)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("network fetches = %d, want exactly 1 for the same calendar date", n)
	}
}

func TestTrackersServesStaleListOnFetchFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_cache")
	if err := os.WriteFile(path, []byte("2026-08-28\nudp://cached\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// A fresh date forces a refresh attempt, which fails.
	day := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	cache := New(path, srv.URL, srv.Client(), nil, WithClock(fixedClock(day)))

	got, err := cache.Trackers(context.Background())
	if err != nil {
		t.Fatalf("Trackers: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"udp://cached"}) {
		t.Fatalf("Trackers = %v, want the previous date's cached list", got)
	}

	// The cache file must be left untouched so the next run still has it.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "2026-08-28\nudp://cached\n" {
		t.Fatalf("cache file rewritten on failed refresh: %q", data)
	}
}

func TestTrackersColdStartWithFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "tracker_cache")
	cache := New(path, srv.URL, srv.Client(), nil)

	got, err := cache.Trackers(context.Background())
	if err != nil {
		t.Fatalf("cold start must fail soft, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cold start list = %v, want empty", got)
	}
}

func TestTrackersRefreshOverwritesCacheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_cache")
	if err := os.WriteFile(path, []byte("2026-08-28\nudp://old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("udp://new\n"))
	}))
	defer srv.Close()

	day := time.Date(2026, 8, 29, 0, 0, 1, 0, time.UTC)
	cache := New(path, srv.URL, srv.Client(), nil, WithClock(fixedClock(day)))

	got, err := cache.Trackers(context.Background())
	if err != nil {
		t.Fatalf("Trackers: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"udp://new"}) {
		t.Fatalf("Trackers = %v, want freshly fetched list", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "2026-08-29\nudp://new\n" {
		t.Fatalf("cache file = %q, want date line plus fresh list", data)
	}
}

func TestTrackersSurfacesLocalReadErrors(t *testing.T) {
	// Point the cache at a directory: reading it fails with something other
	// than fs.ErrNotExist, which must not be masked.
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("udp://a\n"))
	}))
	defer srv.Close()

	cache := New(dir, srv.URL, srv.Client(), nil)
	got, err := cache.Trackers(context.Background())
	if err == nil {
		t.Fatal("expected surfaced read error for unreadable cache path")
	}
	// The fetched list is still served best-effort alongside the error.
	if len(got) == 0 {
		t.Fatalf("expected best-effort fetched list, got %v", got)
	}
}
