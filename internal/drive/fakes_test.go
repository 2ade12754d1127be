package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeFile is an object stored by fakeDrive.
type fakeFile struct {
	name  string
	data  []byte
	sized bool
}

// fakeSession is an open resumable upload on fakeDrive.
type fakeSession struct {
	name    string
	parents []string
	data    []byte
	ranges  []string
}

// fakeDrive is an in-memory Drive v3 server covering metadata, ranged media
// GETs, and resumable uploads.
type fakeDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	files         map[string]*fakeFile
	sessions      map[string]*fakeSession
	mediaRequests int
	chunkPuts     int
	nextID        int
	lastSession   *fakeSession
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	fd := &fakeDrive{
		t:        t,
		files:    map[string]*fakeFile{},
		sessions: map[string]*fakeSession{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/{id}", fd.handleGet)
	mux.HandleFunc("POST /upload/files", fd.handleCreateSession)
	mux.HandleFunc("PUT /upload/session/{sid}", fd.handlePut)

	fd.srv = httptest.NewServer(mux)
	t.Cleanup(fd.srv.Close)

	return fd
}

// add stores a file and returns its ID.
func (fd *fakeDrive) add(name string, data []byte) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.addLocked(name, data)
}

func (fd *fakeDrive) addLocked(name string, data []byte) string {
	fd.nextID++
	id := fmt.Sprintf("fakeFileId_%020d", fd.nextID)
	fd.files[id] = &fakeFile{name: name, data: data, sized: true}

	return id
}

func (fd *fakeDrive) file(id string) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.files[id]
}

func (fd *fakeDrive) counts() (media, puts int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.mediaRequests, fd.chunkPuts
}

func (fd *fakeDrive) client(t *testing.T) *Client {
	t.Helper()

	return newTestClient(t, fd.srv.URL)
}

func (fd *fakeDrive) handleGet(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	f, ok := fd.files[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found"}}`))

		return
	}

	if r.URL.Query().Get("alt") != "media" {
		meta := map[string]any{"id": r.PathValue("id"), "name": f.name, "mimeType": "application/octet-stream"}
		if f.sized {
			meta["size"] = strconv.Itoa(len(f.data))
		}

		writeJSON(w, http.StatusOK, meta)

		return
	}

	fd.mediaRequests++

	total := int64(len(f.data))

	var start, end int64
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
		fd.t.Errorf("bad Range header %q", r.Header.Get("Range"))
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
	_, _ = w.Write(f.data[start : end+1])
}

func (fd *fakeDrive) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadType") != "resumable" {
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
	sid := strconv.Itoa(len(fd.sessions) + 1)
	s := &fakeSession{name: meta.Name, parents: meta.Parents}
	fd.sessions[sid] = s
	fd.lastSession = s
	fd.mu.Unlock()

	w.Header().Set("Location", fd.srv.URL+"/upload/session/"+sid+"?upload_id=secret")
	w.WriteHeader(http.StatusOK)
}

func (fd *fakeDrive) handlePut(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	s, ok := fd.sessions[r.PathValue("sid")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cr := r.Header.Get("Content-Range")
	if cr == "" {
		if len(body) != 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		id := fd.addLocked(s.name, s.data)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": s.name})

		return
	}

	fd.chunkPuts++
	s.ranges = append(s.ranges, cr)

	var start, end, total int64
	if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err != nil ||
		start != int64(len(s.data)) || end-start+1 != int64(len(body)) || r.ContentLength != int64(len(body)) {
		fd.t.Errorf("bad chunk %q with %d bytes at offset %d", cr, len(body), len(s.data))
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	s.data = append(s.data, body...)

	w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", end))
	w.WriteHeader(http.StatusPermanentRedirect)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeTransport scripts Transport responses per method.
type fakeTransport struct {
	mu    sync.Mutex
	get   func(url string, h http.Header) (*Result, error)
	put   func(url string, h http.Header, body []byte) (*Result, error)
	post  func(url string, h http.Header, payload any) (*Result, error)
	calls []string
}

func (f *fakeTransport) record(method, url string) {
	f.mu.Lock()
	f.calls = append(f.calls, method+" "+url)
	f.mu.Unlock()
}

func (f *fakeTransport) Get(_ context.Context, url string, h http.Header) (*Result, error) {
	f.record(http.MethodGet, url)
	return f.get(url, h)
}

func (f *fakeTransport) Put(_ context.Context, url string, h http.Header, body []byte) (*Result, error) {
	f.record(http.MethodPut, url)
	return f.put(url, h, append([]byte(nil), body...))
}

func (f *fakeTransport) Post(_ context.Context, url string, h http.Header, payload any) (*Result, error) {
	f.record(http.MethodPost, url)
	return f.post(url, h, payload)
}

// scripted builds a Result as the client would for a response.
func scripted(status int, header map[string]string, body string) *Result {
	h := http.Header{}
	for k, v := range header {
		h.Set(k, v)
	}

	return newResult("", &Response{StatusCode: status, Header: h, Body: []byte(body)})
}

// isMedia reports whether a fake GET is a content request.
func isMedia(url string) bool {
	return strings.Contains(url, "alt=media")
}

// withTransport points c's engines at t.
func withTransport(c *Client, t Transport) *Client {
	c.transport = t
	return c
}
