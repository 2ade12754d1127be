package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/drive-in/drive-in-go/internal/sink"
)

// uploadSessionRequest is the metadata sent when opening a resumable session.
type uploadSessionRequest struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

// CreateUploadSession opens a resumable upload session for a file called
// name inside folderID (empty means the drive root). The session location
// is returned in the Location header and is never logged.
func (c *Client) CreateUploadSession(ctx context.Context, name, folderID string) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("name", name),
		slog.String("folder_id", folderID),
	)

	payload := uploadSessionRequest{Name: name}
	if folderID != "" {
		payload.Parents = []string{folderID}
	}

	res, err := c.transport.Post(ctx, c.uploadEndpoint("files", map[string]string{"uploadType": "resumable"}), nil, payload)
	if err != nil {
		return nil, &UploadError{Message: "creating upload session", Err: err}
	}

	if status := res.StatusCode(); status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &UploadError{StatusCode: status, Message: res.Response.Text()}
	}

	location := res.Response.Header.Get("Location")
	if location == "" {
		return nil, &UploadError{StatusCode: res.StatusCode(), Message: "upload session response has no Location header"}
	}

	return &UploadSession{Location: location, Name: name, ParentID: folderID}, nil
}

// Upload sends src to Drive through a resumable session: one PUT per chunk
// of opts.ChunkSize bytes, each labeled with its Content-Range, then an
// empty finalize PUT that returns the created file. Chunks are read from
// src strictly in order, so src need not be seekable.
func (c *Client) Upload(ctx context.Context, src sink.Source, opts UploadOptions) (*Uploaded, error) {
	chunkSize, err := chunkSizeOrDefault(opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	r, err := sink.OpenSource(c.cfg.FS, src)
	if err != nil {
		return nil, fmt.Errorf("drive: opening upload source: %w", err)
	}
	defer r.Close()

	name := opts.Name
	if name == "" {
		name = r.Name
	}

	if name == "" {
		name = "upload-" + uuid.NewString()
	}

	c.logger.Info("uploading file",
		slog.String("name", name),
		slog.Int64("size", r.Size),
		slog.Int64("chunk_size", chunkSize),
	)

	session, err := c.CreateUploadSession(ctx, name, opts.FolderID)
	if err != nil {
		c.logUploadFailure(name, err)
		return nil, err
	}

	plan := &ChunkPlan{ChunkSize: chunkSize, Total: r.Size}
	if err := c.sendChunks(ctx, session, plan, r, opts.Progress); err != nil {
		c.logUploadFailure(name, err)
		return nil, err
	}

	file, err := c.finalize(ctx, session)
	if err != nil {
		c.logUploadFailure(name, err)
		return nil, err
	}

	c.logger.Info("upload complete",
		slog.String("file_id", file.ID),
		slog.String("name", file.Name),
		slog.Int64("bytes", plan.Total),
	)

	return &Uploaded{File: file, URL: ShareURL(file.ID)}, nil
}

// sendChunks PUTs each chunk of the plan to the session location. Any status
// of 400 or above aborts the upload.
func (c *Client) sendChunks(
	ctx context.Context, session *UploadSession, plan *ChunkPlan, r io.Reader, progress ProgressFunc,
) error {
	buf := make([]byte, min(plan.ChunkSize, plan.Total))

	for {
		start, end, ok := plan.Next()
		if !ok {
			return nil
		}

		n := end - start + 1
		chunk := buf[:n]

		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("drive: reading bytes %d-%d of upload source: %w", start, end, err)
		}

		header := http.Header{}
		header.Set("Content-Length", strconv.FormatInt(n, 10))
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, plan.Total))

		res, err := c.transport.Put(ctx, session.Location, header, chunk)
		if err != nil {
			return &UploadError{Message: fmt.Sprintf("sending bytes %d-%d", start, end), Err: err}
		}

		if res.StatusCode() >= http.StatusBadRequest {
			return &UploadError{StatusCode: res.StatusCode(), Message: res.Response.Text()}
		}

		plan.Advance(end)

		c.logger.Debug("chunk uploaded",
			slog.String("name", session.Name),
			slog.Int64("start", start),
			slog.Int64("end", end),
			slog.Int64("total", plan.Total),
			slog.Int("status", res.StatusCode()),
		)

		if progress != nil {
			progress(plan.Cursor, plan.Total)
		}
	}
}

// finalize closes the session with an empty PUT. Only a 200 carrying the
// created file's ID counts as success.
func (c *Client) finalize(ctx context.Context, session *UploadSession) (File, error) {
	header := http.Header{}
	header.Set("Content-Length", "0")

	res, err := c.transport.Put(ctx, session.Location, header, nil)
	if err != nil {
		return File{}, &UploadError{Message: "finalizing upload", Err: err}
	}

	if res.StatusCode() != http.StatusOK {
		return File{}, &UploadError{StatusCode: res.StatusCode(), Message: res.Response.Text()}
	}

	file := fileFromData(res.Data)
	if file.ID == "" {
		return File{}, &UploadError{StatusCode: res.StatusCode(), Message: "finalize response has no file id"}
	}

	return file, nil
}

func (c *Client) logUploadFailure(name string, err error) {
	c.logger.Error("upload failed",
		slog.String("name", name),
		slog.String("error", err.Error()),
	)
}
