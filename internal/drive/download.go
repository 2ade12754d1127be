package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/drive-in/drive-in-go/internal/sink"
)

// metadataFields limits the metadata GET to what the engines read.
const metadataFields = "id,name,size,mimeType"

// Stat fetches the metadata of the file identified by idOrURL.
func (c *Client) Stat(ctx context.Context, idOrURL string) (File, error) {
	id := ExtractFileID(idOrURL)
	if id == "" {
		return File{}, &ValidationError{Field: "file id", Reason: fmt.Sprintf("no file ID in %q", idOrURL)}
	}

	f, _, err := c.fetchMetadata(ctx, id)

	return f, err
}

// fetchMetadata returns the file metadata and whether the server reported a
// size. Google-native documents have none.
func (c *Client) fetchMetadata(ctx context.Context, id string) (File, bool, error) {
	res, err := c.transport.Get(ctx, c.Endpoint("files/"+id, map[string]string{"fields": metadataFields}), nil)
	if err != nil {
		return File{}, false, &DownloadError{Message: "fetching metadata", Err: err}
	}

	if !res.Success {
		return File{}, false, &DownloadError{StatusCode: res.StatusCode(), Message: res.Response.Text()}
	}

	_, sized := res.Data["size"]

	return fileFromData(res.Data), sized, nil
}

// Download fetches the file identified by idOrURL into opts.Target using
// sequential ranged GETs of opts.ChunkSize bytes. With a None target the
// bytes land in a file in the working directory named after the remote
// file. The sink is released on every path; on success the returned
// Downloaded.Output is the caller's view of the bytes, rewound to the start
// where the target allows it.
func (c *Client) Download(ctx context.Context, idOrURL string, opts DownloadOptions) (*Downloaded, error) {
	id := ExtractFileID(idOrURL)
	if id == "" {
		return nil, &ValidationError{Field: "file id", Reason: fmt.Sprintf("no file ID in %q", idOrURL)}
	}

	chunkSize, err := chunkSizeOrDefault(opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	file, sized, err := c.fetchMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	target := opts.Target
	if target.Kind() == sink.KindNone {
		name := localName(file.Name, id)

		if opts.NoOverwrite {
			if _, statErr := c.cfg.FS.Stat(name); statErr == nil {
				return nil, &ValidationError{Field: "destination", Reason: name + " already exists"}
			}
		}

		if opts.ClaimName != nil {
			if claimErr := opts.ClaimName(name); claimErr != nil {
				return nil, &ValidationError{Field: "destination", Reason: claimErr.Error()}
			}
		}

		target = sink.Path(name)
	}

	c.logger.Info("downloading file",
		slog.String("file_id", id),
		slog.String("name", file.Name),
		slog.Int64("size", file.Size),
		slog.Int64("chunk_size", chunkSize),
		slog.String("target", target.Kind().String()),
	)

	w, err := sink.Open(c.cfg.FS, target)
	if err != nil {
		return nil, fmt.Errorf("drive: opening download target: %w", err)
	}

	total := int64(math.MaxInt64)
	if sized {
		total = file.Size
	}

	plan := &ChunkPlan{ChunkSize: chunkSize, Total: total}
	chunks, fetchErr := c.fetchChunks(ctx, id, plan, sized, w, opts.Progress)

	out, closeErr := w.Close()
	if fetchErr == nil && closeErr != nil {
		fetchErr = fmt.Errorf("drive: finishing download target: %w", closeErr)
	}

	if fetchErr != nil {
		if relErr := out.Release(); relErr != nil {
			c.logger.Warn("releasing download target", slog.String("error", relErr.Error()))
		}

		c.logger.Error("download failed",
			slog.String("file_id", id),
			slog.Int64("bytes_received", w.Written()),
			slog.String("error", fetchErr.Error()),
		)

		return nil, fetchErr
	}

	if file.Size == 0 || !sized {
		file.Size = w.Written()
	}

	c.logger.Info("download complete",
		slog.String("file_id", id),
		slog.Int64("bytes", w.Written()),
		slog.Int("chunks", chunks),
	)

	return &Downloaded{File: file, Output: out, Chunks: chunks}, nil
}

// fetchChunks runs the ranged GET loop until the plan is complete. When
// totalKnown is false the first Content-Range fixes the total. Every later
// response must agree with it and start at the cursor.
func (c *Client) fetchChunks(
	ctx context.Context, id string, plan *ChunkPlan, totalKnown bool, w io.Writer, progress ProgressFunc,
) (int, error) {
	mediaURL := c.Endpoint("files/"+id, map[string]string{"alt": "media"})
	chunks := 0

	for {
		start, end, ok := plan.Next()
		if !ok {
			return chunks, nil
		}

		header := http.Header{}
		header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

		res, err := c.transport.Get(ctx, mediaURL, header)
		if err != nil {
			return chunks, &DownloadError{Message: fmt.Sprintf("fetching bytes %d-%d", start, end), Err: err}
		}

		chunks++

		status := res.StatusCode()
		contentRange := res.Response.Header.Get("Content-Range")

		// An empty object answers any range with 416 and "bytes */0".
		if status == http.StatusRequestedRangeNotSatisfiable && start == 0 {
			if _, _, t, crErr := parseContentRange(contentRange); crErr == nil && t == 0 {
				plan.Total = 0
				return chunks, nil
			}
		}

		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return chunks, &DownloadError{StatusCode: status, Message: res.Response.Text()}
		}

		body := res.Response.Body

		if contentRange == "" {
			if status != http.StatusOK {
				return chunks, &DownloadError{StatusCode: status, Message: "response has no Content-Range"}
			}

			// The server ignored the range and sent the whole object.
			if start != 0 || (totalKnown && int64(len(body)) != plan.Total) {
				return chunks, inconsistent(status, "full body of %d bytes at offset %d", len(body), start)
			}

			plan.Total = int64(len(body))
			end = plan.Total - 1
		} else {
			rStart, rEnd, rTotal, crErr := parseContentRange(contentRange)
			if crErr != nil {
				return chunks, &DownloadError{StatusCode: status, Message: "bad Content-Range", Err: crErr}
			}

			if !totalKnown {
				plan.Total = rTotal
				totalKnown = true
			} else if rTotal != plan.Total {
				return chunks, inconsistent(status, "total %d, expected %d", rTotal, plan.Total)
			}

			if rStart < 0 {
				if rTotal == 0 {
					return chunks, nil
				}

				return chunks, inconsistent(status, "unsatisfied range at offset %d", start)
			}

			if rStart != start || rEnd-rStart+1 != int64(len(body)) {
				return chunks, inconsistent(status, "bytes %d-%d with %d body bytes at offset %d",
					rStart, rEnd, len(body), start)
			}

			end = rEnd
		}

		if _, err := w.Write(body); err != nil {
			return chunks, fmt.Errorf("drive: writing chunk: %w", err)
		}

		plan.Advance(end)

		c.logger.Debug("chunk downloaded",
			slog.String("file_id", id),
			slog.Int64("start", start),
			slog.Int64("end", end),
			slog.Int64("total", plan.Total),
		)

		if progress != nil {
			progress(plan.Cursor, plan.Total)
		}
	}
}

func inconsistent(status int, format string, args ...any) error {
	return &DownloadError{StatusCode: status, Message: fmt.Sprintf(format, args...), Err: ErrInconsistentRange}
}

// parseContentRange parses "bytes <start>-<end>/<total>" and the
// unsatisfied form "bytes */<total>", which yields start = end = -1.
func parseContentRange(s string) (start, end, total int64, err error) {
	rangeSpec, ok := strings.CutPrefix(strings.TrimSpace(s), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("unsupported range unit in %q", s)
	}

	rng, totalStr, ok := strings.Cut(rangeSpec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("missing total in %q", s)
	}

	total, err = strconv.ParseInt(totalStr, 10, 64)
	if err != nil || total < 0 {
		return 0, 0, 0, fmt.Errorf("bad total in %q", s)
	}

	if rng == "*" {
		return -1, -1, total, nil
	}

	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("bad range in %q", s)
	}

	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)

	if err := errors.Join(err1, err2); err != nil || start < 0 || end < start || end >= total {
		return 0, 0, 0, fmt.Errorf("bad range in %q", s)
	}

	return start, end, total, nil
}

// localName turns a server filename into a safe local file name: NFC
// normalized and stripped of any directory part. Falls back to the file ID.
func localName(name, id string) string {
	base := filepath.Base(norm.NFC.String(strings.ReplaceAll(name, "\\", "/")))

	switch base {
	case "", ".", "..", "/":
		return id
	default:
		return base
	}
}
