package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func TestHFDownloader_DownloadWritesCacheLayout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte("gguf-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := &HFDownloader{cacheDir: dir, token: "tok", http: srv.Client()}

	// Point Download's fixed hub URL at our test server by overriding
	// the underlying request via a custom RoundTripper.
	d.http.Transport = rewriteHostTransport{target: srv.URL}

	path, err := d.Download(context.Background(), "org/repo", "model.gguf", "abc123")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := filepath.Join(dir, "models--org--repo", "snapshots", "abc123", "model.gguf")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "gguf-bytes" {
		t.Errorf("content = %q", data)
	}

	refData, err := os.ReadFile(filepath.Join(dir, "models--org--repo", "refs", "main"))
	if err != nil {
		t.Fatalf("read ref pointer: %v", err)
	}
	if string(refData) != "abc123" {
		t.Errorf("ref = %q, want abc123", refData)
	}
}

func TestHFDownloader_NonOKStatusIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := &HFDownloader{cacheDir: dir, http: srv.Client()}
	d.http.Transport = rewriteHostTransport{target: srv.URL}

	_, err := d.Download(context.Background(), "org/repo", "model.gguf", "main")
	var se *statusError
	if err == nil {
		t.Fatal("expected error")
	}
	if as, ok := err.(*statusError); !ok {
		t.Fatalf("error type = %T, want *statusError", err)
	} else {
		se = as
	}
	if se.StatusCode() != http.StatusForbidden {
		t.Errorf("status = %d, want 403", se.StatusCode())
	}
}

// rewriteHostTransport redirects every request to target's host, letting
// tests exercise Download's huggingface.co-shaped URL construction
// against an httptest.Server.
type rewriteHostTransport struct {
	target string
}

func (t rewriteHostTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	targetURL, err := url.Parse(t.target)
	if err != nil {
		return nil, err
	}
	r.URL.Scheme = targetURL.Scheme
	r.URL.Host = targetURL.Host
	return http.DefaultTransport.RoundTrip(r)
}
