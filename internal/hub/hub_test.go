package hub

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	gateway "github.com/bodhi-run/bodhi/internal"
)

func writeSnapshotFile(t *testing.T, cacheDir, repo, snapshot, filename string, content string) {
	t.Helper()
	dir := filepath.Join(cacheDir, repoDirName(repo), "snapshots", snapshot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeRef(t *testing.T, cacheDir, repo, ref, snapshot string) {
	t.Helper()
	dir := filepath.Join(cacheDir, repoDirName(repo), "refs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ref), []byte(snapshot), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindLocalFile_ViaRefsMain(t *testing.T) {
	cacheDir := t.TempDir()
	writeSnapshotFile(t, cacheDir, "acme/model", "abc123", "model-Q4_K_M.gguf", "data")
	writeRef(t, cacheDir, "acme/model", "main", "abc123")

	svc := New(cacheDir, nil, false)
	f, err := svc.FindLocalFile(context.Background(), "acme/model", "model-Q4_K_M.gguf", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Snapshot != "abc123" {
		t.Errorf("snapshot = %q, want abc123", f.Snapshot)
	}
	if f.Size == nil || *f.Size != 4 {
		t.Errorf("size = %v, want 4", f.Size)
	}
}

func TestFindLocalFile_ViaLiteralSnapshot(t *testing.T) {
	cacheDir := t.TempDir()
	writeSnapshotFile(t, cacheDir, "acme/model", "def456", "model.gguf", "xx")

	svc := New(cacheDir, nil, false)
	f, err := svc.FindLocalFile(context.Background(), "acme/model", "model.gguf", "def456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Snapshot != "def456" {
		t.Errorf("snapshot = %q, want def456", f.Snapshot)
	}
}

func TestFindLocalFile_NotFound(t *testing.T) {
	cacheDir := t.TempDir()
	svc := New(cacheDir, nil, false)

	_, err := svc.FindLocalFile(context.Background(), "acme/missing", "model.gguf", "")
	if !isFileNotFound(err) {
		t.Errorf("err = %v, want file-not-found", err)
	}
}

func TestLocalFileExists(t *testing.T) {
	cacheDir := t.TempDir()
	writeSnapshotFile(t, cacheDir, "acme/model", "abc123", "model.gguf", "data")
	writeRef(t, cacheDir, "acme/model", "main", "abc123")
	svc := New(cacheDir, nil, false)

	ok, err := svc.LocalFileExists(context.Background(), "acme/model", "model.gguf", "")
	if err != nil || !ok {
		t.Fatalf("exists = %v, err = %v, want true, nil", ok, err)
	}

	ok, err = svc.LocalFileExists(context.Background(), "acme/model", "missing.gguf", "")
	if err != nil || ok {
		t.Fatalf("exists = %v, err = %v, want false, nil", ok, err)
	}
}

func TestListLocalModels(t *testing.T) {
	cacheDir := t.TempDir()
	writeSnapshotFile(t, cacheDir, "acme/model", "abc123", "model-Q4_K_M.gguf", "aaaa")
	writeSnapshotFile(t, cacheDir, "acme/other", "zzz999", "other-Q8_0.gguf", "bb")

	svc := New(cacheDir, nil, false)
	files, err := svc.ListLocalModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %+v", len(files), files)
	}
}

func TestListModelAliases_DedupKeepsLatestSnapshot(t *testing.T) {
	cacheDir := t.TempDir()
	writeSnapshotFile(t, cacheDir, "acme/model", "aaa000", "model-Q4_K_M.gguf", "old")
	writeSnapshotFile(t, cacheDir, "acme/model", "zzz999", "model-Q4_K_M.gguf", "new")

	svc := New(cacheDir, nil, false)
	aliases, err := svc.ListModelAliases(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 1 {
		t.Fatalf("got %d aliases, want 1 deduped: %+v", len(aliases), aliases)
	}
	if aliases[0].Snapshot != "zzz999" {
		t.Errorf("snapshot = %q, want the lexicographically larger zzz999", aliases[0].Snapshot)
	}
	if aliases[0].Alias != "acme/model:Q4_K_M" {
		t.Errorf("alias = %q, want acme/model:Q4_K_M", aliases[0].Alias)
	}
}

func TestDownload_ShortCircuitsWhenCached(t *testing.T) {
	cacheDir := t.TempDir()
	writeSnapshotFile(t, cacheDir, "acme/model", "abc123", "model.gguf", "data")
	writeRef(t, cacheDir, "acme/model", "main", "abc123")

	svc := New(cacheDir, failDownloader{}, false)
	f, err := svc.Download(context.Background(), "acme/model", "model.gguf", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Snapshot != "abc123" {
		t.Errorf("snapshot = %q, want abc123", f.Snapshot)
	}
}

type failDownloader struct{}

func (failDownloader) Download(context.Context, string, string, string) (string, error) {
	return "", errors.New("should not be called")
}

type statusErr struct{ status int }

func (e statusErr) Error() string  { return "http error" }
func (e statusErr) StatusCode() int { return e.status }

func TestDownload_MapsGatedAccess(t *testing.T) {
	cacheDir := t.TempDir()
	svc := New(cacheDir, stubDownloader{err: statusErr{403}}, true)

	_, err := svc.Download(context.Background(), "acme/model", "model.gguf", "")
	if gateway.CodeOf(err) != "hub_error-gated_access" {
		t.Errorf("code = %q, want hub_error-gated_access", gateway.CodeOf(err))
	}
	if gateway.HTTPStatusOf(err) != 403 {
		t.Errorf("status = %d, want 403", gateway.HTTPStatusOf(err))
	}
}

type stubDownloader struct {
	path string
	err  error
}

func (d stubDownloader) Download(context.Context, string, string, string) (string, error) {
	return d.path, d.err
}
