// Package hub implements the HubService: resolution of locally cached
// GGUF model files against a HuggingFace-cache-shaped directory tree,
// and delegated download of files that aren't cached yet.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/dnscache"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/provider"
)

// SnapshotMain is the default revision name used when no snapshot is
// given, per the HF-cache convention.
const SnapshotMain = "main"

// File is a resolved local model file.
type File struct {
	Repo     string
	Filename string
	Snapshot string
	Size     *int64
	// Path is the resolved absolute path of the GGUF file on disk, used
	// by the ForwardProxy to launch the local inference backend
	// and by the metadata worker to parse the GGUF header.
	Path string
}

// Downloader fetches a file from the remote model hub into the local
// cache and returns its resolved path. HFDownloader (download.go) is the
// default implementation; Service itself only owns the
// short-circuit-if-cached check and the error-taxonomy mapping around
// whatever Downloader is wired in.
type Downloader interface {
	Download(ctx context.Context, repo, filename, snapshot string) (path string, err error)
}

// Service is the HubService.
type Service struct {
	cacheDir   string
	downloader Downloader
	hasToken   bool
}

// New returns a Service rooted at cacheDir (the HuggingFace-cache-shaped
// directory: models--<owner>--<repo>/snapshots/<hash>/<file>, plus
// refs/<branch> pointer files). hasToken controls the 401-vs-404 branch
// of the download error mapping.
func New(cacheDir string, downloader Downloader, hasToken bool) *Service {
	return &Service{cacheDir: cacheDir, downloader: downloader, hasToken: hasToken}
}

// HTTPTransport builds the tuned transport used by the default
// Downloader implementation, reusing the dnscache + HTTP/2
// pooled-transport pattern (internal/provider.NewTransport) so hub
// downloads share the same connection-reuse characteristics as remote
// API forwarding.
func HTTPTransport(resolver *dnscache.Resolver) *http.Transport {
	return provider.NewTransport(resolver, true)
}

func repoDirName(repo string) string {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return "models--" + repo
	}
	return "models--" + owner + "--" + name
}

// resolveSnapshot follows refs/<snapshot> when present, otherwise treats
// snapshot as a literal commit hash already matching a snapshots/ dir.
func (s *Service) resolveSnapshot(repo, snapshot string) (string, bool) {
	repoDir := filepath.Join(s.cacheDir, repoDirName(repo))
	refsFile := filepath.Join(repoDir, "refs", snapshot)
	if data, err := os.ReadFile(refsFile); err == nil {
		return strings.TrimSpace(string(data)), true
	}
	snapshotDir := filepath.Join(repoDir, "snapshots", snapshot)
	if _, err := os.Stat(snapshotDir); err == nil {
		return snapshot, true
	}
	return "", false
}

// FindLocalFile resolves (repo, filename, snapshot) to a File, following
// refs/main-style pointer resolution before looking under snapshots/.
func (s *Service) FindLocalFile(_ context.Context, repo, filename, snapshot string) (*File, error) {
	if snapshot == "" {
		snapshot = SnapshotMain
	}
	resolved, ok := s.resolveSnapshot(repo, snapshot)
	if !ok {
		return nil, fileNotFound(repo, filename, snapshot)
	}
	path := filepath.Join(s.cacheDir, repoDirName(repo), "snapshots", resolved, filename)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileNotFound(repo, filename, snapshot)
	}
	size := info.Size()
	return &File{Repo: repo, Filename: filename, Snapshot: resolved, Size: &size, Path: path}, nil
}

// LocalFileExists is the boolean-result twin of FindLocalFile.
func (s *Service) LocalFileExists(ctx context.Context, repo, filename, snapshot string) (bool, error) {
	_, err := s.FindLocalFile(ctx, repo, filename, snapshot)
	if err != nil {
		if isFileNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListLocalModels walks the cache and returns every *.gguf file
// reachable via a snapshots/ directory.
func (s *Service) ListLocalModels(_ context.Context) ([]File, error) {
	var files []File
	err := filepath.WalkDir(s.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort walk, skip unreadable entries
		}
		if d.IsDir() || !strings.HasSuffix(path, ".gguf") {
			return nil
		}
		repo, filename, snapshot, ok := parseSnapshotPath(s.cacheDir, path)
		if !ok {
			return nil
		}
		var size *int64
		if info, err := d.Info(); err == nil {
			sz := info.Size()
			size = &sz
		}
		files = append(files, File{Repo: repo, Filename: filename, Snapshot: snapshot, Size: size, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hub: walk cache dir: %w", err)
	}
	return files, nil
}

// ListModelAliases returns one gateway.ModelAlias per unique (repo,
// filename), keeping the lexicographically-largest snapshot when more
// than one is cached -- the same dedup rule as
// list_model_aliases.
func (s *Service) ListModelAliases(ctx context.Context) ([]*gateway.ModelAlias, error) {
	files, err := s.ListLocalModels(ctx)
	if err != nil {
		return nil, err
	}

	type key struct{ repo, filename string }
	best := make(map[key]File, len(files))
	for _, f := range files {
		k := key{f.Repo, f.Filename}
		if cur, ok := best[k]; !ok || f.Snapshot > cur.Snapshot {
			best[k] = f
		}
	}

	aliases := make([]*gateway.ModelAlias, 0, len(best))
	for k, f := range best {
		aliases = append(aliases, &gateway.ModelAlias{
			Alias:    k.repo + ":" + qualifier(k.filename),
			Repo:     f.Repo,
			Filename: f.Filename,
			Snapshot: f.Snapshot,
		})
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Alias < aliases[j].Alias })
	return aliases, nil
}

// qualifier extracts the last hyphen-segment before the .gguf extension,
// e.g. "model-Q4_K_M.gguf" -> "Q4_K_M", matching the alias naming rule
// in gateway.ModelAlias's doc comment.
func qualifier(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	if i := strings.LastIndex(stem, "-"); i >= 0 {
		return stem[i+1:]
	}
	return stem
}

// parseSnapshotPath extracts (repo, filename, snapshot) from an absolute
// path under cacheDir, requiring the models--<owner>--<repo>/snapshots/<hash>/<file>
// shape; returns ok=false for anything else (refs pointer files, loose
// top-level files, etc).
func parseSnapshotPath(cacheDir, path string) (repo, filename, snapshot string, ok bool) {
	rel, err := filepath.Rel(cacheDir, path)
	if err != nil {
		return "", "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 4 || parts[1] != "snapshots" {
		return "", "", "", false
	}
	repoDir := strings.TrimPrefix(parts[0], "models--")
	owner, name, ok2 := strings.Cut(repoDir, "--")
	if !ok2 {
		return "", "", "", false
	}
	return owner + "/" + name, parts[len(parts)-1], parts[2], true
}

func fileNotFound(repo, filename, snapshot string) error {
	return gateway.NewNotFound(
		"hub_error-file_not_found",
		fmt.Sprintf("file %q not found in repository %q at snapshot %q", filename, repo, snapshot),
	)
}

func isFileNotFound(err error) bool {
	return gateway.CodeOf(err) == "hub_error-file_not_found"
}

// Download short-circuits when the file is already cached, otherwise
// delegates to Downloader and maps its outcome onto the
// GatedAccess/MayNotExist/RepoDisabled/Transport/Unknown error taxonomy.
func (s *Service) Download(ctx context.Context, repo, filename, snapshot string) (*File, error) {
	if snapshot == "" {
		snapshot = SnapshotMain
	}
	if existing, err := s.FindLocalFile(ctx, repo, filename, snapshot); err == nil {
		return existing, nil
	}

	path, err := s.downloader.Download(ctx, repo, filename, snapshot)
	if err != nil {
		return nil, s.mapDownloadError(repo, err)
	}
	info, statErr := os.Stat(path)
	var size *int64
	if statErr == nil {
		sz := info.Size()
		size = &sz
	}
	return &File{Repo: repo, Filename: filename, Snapshot: snapshot, Size: size, Path: path}, nil
}

// httpStatusError is implemented by download errors that carry the
// upstream HTTP status (statusError in download.go).
type httpStatusError interface {
	StatusCode() int
}

// timeoutError is implemented by net errors that know they're a timeout.
type timeoutError interface {
	Timeout() bool
}

func (s *Service) mapDownloadError(repo string, err error) error {
	var statusErr httpStatusError
	if as, ok := err.(httpStatusError); ok {
		statusErr = as
	}
	if statusErr != nil {
		switch status := statusErr.StatusCode(); {
		case status == http.StatusForbidden:
			return gateway.NewForbidden("hub_error-gated_access",
				fmt.Sprintf("access to %q requires approval", repo)).Wrap(err)
		case status == http.StatusUnauthorized && !s.hasToken:
			return gateway.NewNotFound("hub_error-may_not_exist",
				fmt.Sprintf("repository %q not found or requires authentication", repo)).Wrap(err)
		case status == http.StatusNotFound && s.hasToken:
			return gateway.NewNotFound("hub_error-repo_disabled",
				fmt.Sprintf("repository %q is disabled or has been removed", repo)).Wrap(err)
		}
	}
	var netErr net.Error
	var tErr timeoutError
	if errors.As(err, &netErr) || (errors.As(err, &tErr) && tErr.Timeout()) {
		return gateway.NewServiceUnavailable("hub_error-transport",
			"network error accessing the model hub").Wrap(err)
	}
	return gateway.NewInternalServer("hub_error-unknown", "model hub error").Wrap(err)
}
