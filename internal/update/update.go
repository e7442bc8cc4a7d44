// Package update syncs the CAN Logger application files from its
// upstream GitHub repository when the published version changes. The
// published version lives in version.txt at the repository root; file
// listings come from the GitHub contents API.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const userAgent = "canboot-updater/1.0"

// Options configures the update client.
type Options struct {
	RepoOwner string
	RepoName  string
	Branch    string
	// VersionFile is the local file holding the installed version.
	VersionFile string
	// Extensions filters which repository files are synced (".py", ...).
	Extensions []string
	// TargetDir is where synced files land, preserving repo-relative paths.
	TargetDir string
	// Parallelism bounds concurrent downloads.
	Parallelism int
	HTTPTimeout time.Duration

	// RawBaseURL and APIBaseURL exist for tests; empty means github.com.
	RawBaseURL string
	APIBaseURL string
}

// Check is the result of a version comparison.
type Check struct {
	Local     string
	Remote    string
	Available bool
}

// SyncResult summarizes an applied update.
type SyncResult struct {
	Version string
	Files   []string
}

// Client talks to the upstream repository.
type Client struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

// New creates an update client.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.VersionFile == "" {
		opts.VersionFile = "version.txt"
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.RawBaseURL == "" {
		opts.RawBaseURL = "https://raw.githubusercontent.com"
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = "https://api.github.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.HTTPTimeout},
		logger: logger,
	}
}

// LocalVersion reads the installed version. A missing file reads as ""
// (never installed), which always compares as outdated.
func (c *Client) LocalVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(c.opts.TargetDir, c.opts.VersionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("update: read local version: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoteVersion fetches the published version from the repository.
func (c *Client) RemoteVersion(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s",
		c.opts.RawBaseURL, c.opts.RepoOwner, c.opts.RepoName, c.opts.Branch, c.opts.VersionFile)
	body, err := c.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("update: fetch remote version: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// CheckForUpdate compares local and remote versions.
func (c *Client) CheckForUpdate(ctx context.Context) (*Check, error) {
	local, err := c.LocalVersion()
	if err != nil {
		return nil, err
	}
	remote, err := c.RemoteVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &Check{
		Local:     local,
		Remote:    remote,
		Available: remote != "" && remote != local,
	}, nil
}

// repoFile is one entry from the GitHub contents API.
type repoFile struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	DownloadURL string `json:"download_url"`
}

// listFiles walks the repository recursively via the contents API.
func (c *Client) listFiles(ctx context.Context, path string) ([]repoFile, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.opts.APIBaseURL, c.opts.RepoOwner, c.opts.RepoName, path)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("update: list %q: %w", path, err)
	}

	// A file path returns a single object, a directory returns an array.
	var single repoFile
	if err := json.Unmarshal(body, &single); err == nil && single.Type == "file" {
		return []repoFile{single}, nil
	}

	var items []repoFile
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("update: parse listing for %q: %w", path, err)
	}

	var all []repoFile
	for _, item := range items {
		switch item.Type {
		case "file":
			all = append(all, item)
		case "dir":
			sub, err := c.listFiles(ctx, item.Path)
			if err != nil {
				return nil, err
			}
			all = append(all, sub...)
		}
	}
	return all, nil
}

// wanted reports whether a repository file should be synced.
func (c *Client) wanted(f repoFile) bool {
	if f.Type != "file" || f.DownloadURL == "" {
		return false
	}
	for _, ext := range c.opts.Extensions {
		if strings.HasSuffix(f.Name, ext) {
			return true
		}
	}
	return false
}

// Apply downloads all matching repository files into TargetDir,
// preserving folder structure, and writes the new version file last so a
// partial sync never claims to be the new version.
func (c *Client) Apply(ctx context.Context, version string) (*SyncResult, error) {
	files, err := c.listFiles(ctx, "")
	if err != nil {
		return nil, err
	}

	var toSync []repoFile
	for _, f := range files {
		if c.wanted(f) {
			toSync = append(toSync, f)
		}
	}
	if len(toSync) == 0 {
		return nil, fmt.Errorf("update: no syncable files found in %s/%s",
			c.opts.RepoOwner, c.opts.RepoName)
	}
	c.logger.Info("syncing files",
		zap.Int("count", len(toSync)),
		zap.String("version", version))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for _, f := range toSync {
		g.Go(func() error {
			return c.download(gctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	versionPath := filepath.Join(c.opts.TargetDir, c.opts.VersionFile)
	if err := os.WriteFile(versionPath, []byte(version+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("update: write version file: %w", err)
	}

	result := &SyncResult{Version: version}
	for _, f := range toSync {
		result.Files = append(result.Files, f.Path)
	}
	return result, nil
}

func (c *Client) download(ctx context.Context, f repoFile) error {
	local, err := c.localPath(f.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("update: create directory for %s: %w", f.Path, err)
	}

	body, err := c.get(ctx, f.DownloadURL)
	if err != nil {
		return fmt.Errorf("update: download %s: %w", f.Path, err)
	}
	if err := os.WriteFile(local, body, 0644); err != nil {
		return fmt.Errorf("update: write %s: %w", f.Path, err)
	}
	c.logger.Debug("synced file", zap.String("path", f.Path))
	return nil
}

// localPath maps a repo-relative path under TargetDir, rejecting
// anything that would escape it.
func (c *Client) localPath(repoPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(repoPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("update: refusing path outside target dir: %q", repoPath)
	}
	return filepath.Join(c.opts.TargetDir, clean), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
