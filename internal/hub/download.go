package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/dnscache"
)

// HFDownloader is the default Downloader: it streams a file straight
// from the HuggingFace Hub's resolve endpoint into the HF-cache-shaped
// directory layout FindLocalFile expects.
type HFDownloader struct {
	cacheDir string
	token    string
	http     *http.Client
}

// NewHFDownloader builds an HFDownloader rooted at the same cacheDir
// passed to hub.New, sharing resolver with the rest of the gateway's
// outbound traffic (provider.NewTransport's dnscache + HTTP/2 pattern).
func NewHFDownloader(cacheDir, token string, resolver *dnscache.Resolver) *HFDownloader {
	return &HFDownloader{
		cacheDir: cacheDir,
		token:    token,
		http:     &http.Client{Transport: HTTPTransport(resolver)},
	}
}

// statusError carries an upstream HTTP status so Service.mapDownloadError
// can classify it (gated/may-not-exist/disabled) without string matching.
type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("hub download: %s: http %d", e.url, e.status)
}

func (e *statusError) StatusCode() int { return e.status }

// Download fetches filename out of repo at snapshot via the Hub's
// resolve URL (https://huggingface.co/<repo>/resolve/<snapshot>/<filename>)
// into <cacheDir>/models--<owner>--<repo>/snapshots/<snapshot>/<filename>,
// matching the directory shape resolveSnapshot/FindLocalFile expect.
func (d *HFDownloader) Download(ctx context.Context, repo, filename, snapshot string) (string, error) {
	if snapshot == "" {
		snapshot = SnapshotMain
	}

	resolveURL := fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s",
		repo, snapshot, url.PathEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveURL, nil)
	if err != nil {
		return "", fmt.Errorf("hub download: build request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("hub download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, url: resolveURL}
	}

	// huggingface.co resolves refs/<snapshot> server-side and redirects
	// through a CDN, so resp.Request.URL may differ -- the real commit
	// hash the redirect chain landed on isn't surfaced here, so the
	// caller-supplied snapshot is what we persist under.
	repoDir := filepath.Join(d.cacheDir, repoDirName(repo))
	snapshotDir := filepath.Join(repoDir, "snapshots", snapshot)
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("hub download: mkdir: %w", err)
	}

	destPath := filepath.Join(snapshotDir, filename)
	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("hub download: create temp file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("hub download: write: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("hub download: close: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("hub download: finalize: %w", err)
	}

	refsDir := filepath.Join(repoDir, "refs")
	if err := os.MkdirAll(refsDir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(refsDir, SnapshotMain), []byte(snapshot), 0o644)
	}

	return destPath, nil
}
