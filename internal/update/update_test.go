package update

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUpstream fakes the raw host and the contents API for a small repo
// layout with a nested DBC folder.
func newUpstream(t *testing.T, version string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var server *httptest.Server

	// Raw host: version file and file contents.
	mux.HandleFunc("/owner/repo/main/version.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, version)
	})
	mux.HandleFunc("/raw/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "content of %s", r.URL.Path[len("/raw/"):])
	})

	// Contents API: root listing and nested dir listing.
	mux.HandleFunc("/repos/owner/repo/contents/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path[len("/repos/owner/repo/contents/"):]
		w.Header().Set("Content-Type", "application/json")
		switch path {
		case "":
			fmt.Fprintf(w, `[
				{"type":"file","name":"pcan_logger.py","path":"pcan_logger.py","download_url":"%s/raw/pcan_logger.py"},
				{"type":"file","name":"requirements.txt","path":"requirements.txt","download_url":"%s/raw/requirements.txt"},
				{"type":"file","name":"README.md","path":"README.md","download_url":"%s/raw/README.md"},
				{"type":"dir","name":"MCU_DBC","path":"MCU_DBC"}
			]`, server.URL, server.URL, server.URL)
		case "MCU_DBC":
			fmt.Fprintf(w, `[
				{"type":"file","name":"mcu.dbc","path":"MCU_DBC/mcu.dbc","download_url":"%s/raw/MCU_DBC/mcu.dbc"}
			]`, server.URL)
		default:
			http.NotFound(w, r)
		}
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server, targetDir string) *Client {
	t.Helper()
	return New(Options{
		RepoOwner:  "owner",
		RepoName:   "repo",
		Branch:     "main",
		Extensions: []string{".py", ".txt", ".dbc"},
		TargetDir:  targetDir,
		RawBaseURL: server.URL,
		APIBaseURL: server.URL,
	}, nil)
}

func TestCheckForUpdateNoLocalVersion(t *testing.T) {
	server := newUpstream(t, "1.0.27")
	c := newTestClient(t, server, t.TempDir())

	check, err := c.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", check.Local)
	assert.Equal(t, "1.0.27", check.Remote)
	assert.True(t, check.Available)
}

func TestCheckForUpdateUpToDate(t *testing.T) {
	server := newUpstream(t, "1.0.27")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version.txt"), []byte("1.0.27\n"), 0644))

	c := newTestClient(t, server, dir)
	check, err := c.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0.27", check.Local)
	assert.False(t, check.Available)
}

func TestApplySyncsMatchingFiles(t *testing.T) {
	server := newUpstream(t, "1.0.27")
	dir := t.TempDir()
	c := newTestClient(t, server, dir)

	result, err := c.Apply(context.Background(), "1.0.27")
	require.NoError(t, err)

	sort.Strings(result.Files)
	assert.Equal(t, []string{"MCU_DBC/mcu.dbc", "pcan_logger.py", "requirements.txt"}, result.Files)

	// Folder structure preserved.
	data, err := os.ReadFile(filepath.Join(dir, "MCU_DBC", "mcu.dbc"))
	require.NoError(t, err)
	assert.Equal(t, "content of MCU_DBC/mcu.dbc", string(data))

	// README.md filtered out.
	_, err = os.Stat(filepath.Join(dir, "README.md"))
	assert.True(t, os.IsNotExist(err))

	// Version file written last.
	version, err := c.LocalVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.0.27", version)
}

func TestApplyFailedDownloadLeavesVersionUntouched(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/repos/owner/repo/contents/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[
			{"type":"file","name":"a.py","path":"a.py","download_url":"%s/raw/a.py"}
		]`, server.URL)
	})
	mux.HandleFunc("/raw/a.py", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	c := newTestClient(t, server, dir)

	_, err := c.Apply(context.Background(), "2.0.0")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "version.txt"))
	assert.True(t, os.IsNotExist(statErr), "version file must not be written on failure")
}

func TestLocalPathRejectsTraversal(t *testing.T) {
	c := newTestClient(t, httptest.NewServer(http.NewServeMux()), t.TempDir())

	_, err := c.localPath("../evil.py")
	assert.Error(t, err)

	_, err = c.localPath("ok/nested.py")
	assert.NoError(t, err)
}

func TestWantedFiltering(t *testing.T) {
	c := newTestClient(t, httptest.NewServer(http.NewServeMux()), t.TempDir())

	assert.True(t, c.wanted(repoFile{Type: "file", Name: "x.py", DownloadURL: "u"}))
	assert.True(t, c.wanted(repoFile{Type: "file", Name: "m.dbc", DownloadURL: "u"}))
	assert.False(t, c.wanted(repoFile{Type: "file", Name: "x.md", DownloadURL: "u"}))
	assert.False(t, c.wanted(repoFile{Type: "dir", Name: "x.py"}))
	assert.False(t, c.wanted(repoFile{Type: "file", Name: "x.py"})) // no download URL
}
