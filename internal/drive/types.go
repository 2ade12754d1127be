package drive

import (
	"strconv"

	"github.com/drive-in/drive-in-go/internal/sink"
)

// MiB converts a chunk size in mebibytes to bytes.
func MiB(n int64) int64 { return n << 20 }

// DefaultChunkSize is used when a transfer does not pick one.
var DefaultChunkSize = MiB(25)

// ShareURL returns the sharing link for a file ID.
func ShareURL(id string) string {
	return "https://drive.google.com/file/d/" + id + "/view"
}

// ProgressFunc is called after every chunk with the bytes transferred so far
// and the total.
type ProgressFunc func(done, total int64)

// File is the subset of Drive file metadata the transfer engines use.
type File struct {
	ID       string
	Name     string
	Size     int64
	MimeType string
}

// fileFromData reads file metadata out of a parsed response. Drive encodes
// size as a decimal string.
func fileFromData(data map[string]any) File {
	f := File{}
	f.ID, _ = data["id"].(string)             //nolint:errcheck // type assertion
	f.Name, _ = data["name"].(string)         //nolint:errcheck // type assertion
	f.MimeType, _ = data["mimeType"].(string) //nolint:errcheck // type assertion

	switch v := data["size"].(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Size = n
		}
	case float64:
		f.Size = int64(v)
	}

	return f
}

// ChunkPlan tracks sequential progress through an object of Total bytes in
// pieces of at most ChunkSize. 0 <= Cursor <= Total always holds.
type ChunkPlan struct {
	ChunkSize int64
	Total     int64
	Cursor    int64
}

// Next returns the inclusive byte range of the next chunk. ok is false once
// the plan is complete.
func (p *ChunkPlan) Next() (start, end int64, ok bool) {
	if p.Done() {
		return 0, 0, false
	}

	start = p.Cursor
	end = min(start+p.ChunkSize-1, p.Total-1)

	return start, end, true
}

// Advance moves the cursor past end, clamped to Total.
func (p *ChunkPlan) Advance(end int64) {
	p.Cursor = min(max(end+1, p.Cursor), p.Total)
}

// Done reports whether every byte has been transferred.
func (p *ChunkPlan) Done() bool {
	return p.Cursor >= p.Total
}

// UploadSession is a resumable upload in progress. It lives only in memory
// for the duration of one Upload call.
type UploadSession struct {
	Location string
	Name     string
	ParentID string
}

// DownloadOptions configures Download.
type DownloadOptions struct {
	// Target is where the bytes go. The zero value (None) downloads into a
	// file in the working directory named after the remote file.
	Target sink.Target
	// ChunkSize is the range size in bytes. Zero selects DefaultChunkSize.
	ChunkSize int64
	// NoOverwrite refuses to replace an existing file when Target is None.
	NoOverwrite bool
	// ClaimName, when set, is called with the local file name a None target
	// resolves to before the file is opened. A non-nil error aborts the
	// download without touching the file.
	ClaimName func(name string) error
	Progress  ProgressFunc
}

// Downloaded describes a finished download.
type Downloaded struct {
	File   File
	Output *sink.Output
	Chunks int
}

// UploadOptions configures Upload.
type UploadOptions struct {
	// Name is the remote filename. Defaults to the source's base name.
	Name string
	// FolderID is the parent folder. Empty uploads to the drive root.
	FolderID  string
	ChunkSize int64
	Progress  ProgressFunc
}

// Uploaded describes a finished upload.
type Uploaded struct {
	File File
	URL  string
}

func chunkSizeOrDefault(n int64) (int64, error) {
	switch {
	case n == 0:
		return DefaultChunkSize, nil
	case n < 0:
		return 0, &ValidationError{Field: "chunk size", Reason: strconv.FormatInt(n, 10) + " is not positive"}
	default:
		return n, nil
	}
}
