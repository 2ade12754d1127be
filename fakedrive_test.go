package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drive-in/drive-in-go/internal/config"
)

const testToken = "test-token"

// fakeFile is a file stored by fakeDrive.
type fakeFile struct {
	Name    string
	Data    []byte
	Parents []string
	Trashed bool
}

// fakeUpload is an open resumable session.
type fakeUpload struct {
	Name    string
	Parents []string
	Data    bytes.Buffer
}

// fakeDrive is an in-process Drive v3 stand-in covering about, files.get
// (metadata and ranged media), files.list, files.update (trash),
// files.delete and resumable uploads.
type fakeDrive struct {
	srv *httptest.Server

	mu        sync.Mutex
	tokens    map[string]bool
	files     map[string]*fakeFile
	uploads   map[string]*fakeUpload
	nextID    int
	mediaGets int
	chunkPuts int
	lastQuery string
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	fd := &fakeDrive{
		tokens:  map[string]bool{testToken: true},
		files:   map[string]*fakeFile{},
		uploads: map[string]*fakeUpload{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v3/about", fd.handleAbout)
	mux.HandleFunc("/drive/v3/files", fd.handleList)
	mux.HandleFunc("/drive/v3/files/", fd.handleFile)
	mux.HandleFunc("/upload/drive/v3/files", fd.handleCreateSession)
	mux.HandleFunc("/upload/session/", fd.handleSessionPut)

	fd.srv = httptest.NewServer(fd.authorize(mux))
	t.Cleanup(fd.srv.Close)

	return fd
}

// addFile stores data under a generated 33-character ID and returns it.
func (fd *fakeDrive) addFile(name string, data []byte) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.addFileLocked(name, data, nil)
}

func (fd *fakeDrive) addFileLocked(name string, data []byte, parents []string) string {
	fd.nextID++
	id := fmt.Sprintf("1FakeDriveFileIdentifier%09d", fd.nextID)
	fd.files[id] = &fakeFile{Name: name, Data: data, Parents: parents}

	return id
}

// allowToken makes the fake accept token as a bearer credential.
func (fd *fakeDrive) allowToken(token string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.tokens[token] = true
}

func (fd *fakeDrive) file(id string) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.files[id]
}

func (fd *fakeDrive) fileByName(name string) (string, *fakeFile) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	for id, f := range fd.files {
		if f.Name == name {
			return id, f
		}
	}

	return "", nil
}

func (fd *fakeDrive) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		fd.mu.Lock()
		ok := fd.tokens[token]
		fd.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 401}})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (fd *fakeDrive) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kind": "drive#about",
		"user": map[string]any{"displayName": "Ada Lovelace", "emailAddress": "ada@example.com"},
		"storageQuota": map[string]any{
			"limit": "16106127360",
			"usage": "1073741824",
		},
	})
}

func (fd *fakeDrive) handleList(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.lastQuery = r.URL.Query().Get("q")

	files := make([]map[string]any, 0, len(fd.files))

	for id, f := range fd.files {
		if f.Trashed {
			continue
		}

		files = append(files, map[string]any{
			"id":           id,
			"name":         f.Name,
			"size":         strconv.Itoa(len(f.Data)),
			"mimeType":     "application/octet-stream",
			"modifiedTime": "2026-03-04T05:06:07Z",
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (fd *fakeDrive) handleFile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/drive/v3/files/")

	fd.mu.Lock()
	defer fd.mu.Unlock()

	f, ok := fd.files[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "File not found: " + id}})
		return
	}

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("alt") == "media" {
			fd.mediaGets++
			serveRange(w, r, f.Data)

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id": id, "name": f.Name, "size": strconv.Itoa(len(f.Data)), "mimeType": "application/octet-stream",
		})
	case http.MethodPatch:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // fake server

		f.Trashed, _ = body["trashed"].(bool)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": f.Name})
	case http.MethodDelete:
		delete(fd.files, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// serveRange answers a "bytes=s-e" request with 206 and a Content-Range.
func serveRange(w http.ResponseWriter, r *http.Request, data []byte) {
	total := int64(len(data))

	var start, end int64
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if start >= total {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

		return
	}

	end = min(end, total-1)

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[start : end+1]) //nolint:errcheck // fake server
}

func (fd *fakeDrive) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Query().Get("uploadType") != "resumable" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}

	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	fd.nextID++
	sid := "s" + strconv.Itoa(fd.nextID)
	fd.uploads[sid] = &fakeUpload{Name: meta.Name, Parents: meta.Parents}
	fd.mu.Unlock()

	w.Header().Set("Location", fd.srv.URL+"/upload/session/"+sid)
	w.WriteHeader(http.StatusOK)
}

func (fd *fakeDrive) handleSessionPut(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimPrefix(r.URL.Path, "/upload/session/")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	up, ok := fd.uploads[sid]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(body) > 0 {
		fd.chunkPuts++
		up.Data.Write(body)
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", up.Data.Len()-1))
		w.WriteHeader(http.StatusPermanentRedirect)

		return
	}

	delete(fd.uploads, sid)
	id := fd.addFileLocked(up.Name, up.Data.Bytes(), up.Parents)

	writeJSON(w, http.StatusOK, map[string]any{
		"id": id, "name": up.Name, "size": strconv.Itoa(up.Data.Len()), "mimeType": "application/octet-stream",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // fake server
}

// testEnv is a temp config pointing at a fakeDrive.
type testEnv struct {
	drive       *fakeDrive
	dir         string
	configPath  string
	tokenPath   string
	historyPath string
}

// newTestEnv writes a config that sends all traffic to a fake Drive and
// keeps the token and history under a temp dir. extra is appended to the
// config file verbatim. DRIVE_IN_TOKEN is set to the fake's token.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()

	fd := newFakeDrive(t)
	dir := t.TempDir()

	env := &testEnv{
		drive:       fd,
		dir:         dir,
		configPath:  filepath.Join(dir, "config.toml"),
		tokenPath:   filepath.Join(dir, "token.json"),
		historyPath: filepath.Join(dir, "history.db"),
	}

	cfg := fmt.Sprintf(`[auth]
client_id = "test-client"
token_path = %q

[transfers]
chunk_size = "256KiB"
progress = "never"

[network]
base_url = %q
upload_url = %q

[logging]
log_level = "error"

[history]
path = %q
%s`, env.tokenPath, fd.srv.URL+"/drive/v3", fd.srv.URL+"/upload/drive/v3", env.historyPath, extra)

	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))

	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvChunkSize, "")
	t.Setenv(config.EnvToken, testToken)

	return env
}

// cliResult captures one command run.
type cliResult struct {
	Stdout string
	Stderr string
	Err    error
}

// run executes the root command with --config pointing at the test config.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())

	return cliResult{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// patterned returns n bytes of a repeating non-trivial pattern.
func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}

	return b
}
