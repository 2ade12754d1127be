package sink

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
)

// Source is an upload input: a path, or an open reader with a known size.
type Source struct {
	path   string
	reader io.Reader
	size   int64
	seeker bool
}

// FromPath reads the named file.
func FromPath(p string) Source { return Source{path: p} }

// FromReader reads size bytes from r.
func FromReader(r io.Reader, size int64) Source { return Source{reader: r, size: size} }

// FromReadSeeker reads r from its current offset to its end. The size is
// discovered by seeking and counts only the bytes after that offset, not the
// whole stream, so a caller that has already consumed a header uploads just
// the rest. Rewind r first to send everything.
func FromReadSeeker(r io.ReadSeeker) Source { return Source{reader: r, size: -1, seeker: true} }

// Reader is an opened Source.
type Reader struct {
	io.Reader

	// Size is the number of bytes the transfer will send.
	Size int64
	// Name is the base name of a path source, "" for readers.
	Name string

	closer io.Closer
}

// Close releases the file opened for a path source.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}

	c := r.closer
	r.closer = nil

	return c.Close()
}

// OpenSource resolves src into a sized reader. Path sources are opened on
// fsys and sized from their file info.
func OpenSource(fsys billy.Filesystem, src Source) (*Reader, error) {
	if src.path != "" {
		info, err := fsys.Stat(src.path)
		if err != nil {
			return nil, fmt.Errorf("sink: stat %s: %w", src.path, err)
		}

		if info.IsDir() {
			return nil, fmt.Errorf("sink: %s is a directory", src.path)
		}

		f, err := fsys.Open(src.path)
		if err != nil {
			return nil, fmt.Errorf("sink: opening %s: %w", src.path, err)
		}

		return &Reader{Reader: f, Size: info.Size(), Name: filepath.Base(src.path), closer: f}, nil
	}

	if src.reader == nil {
		return nil, errors.New("sink: empty source")
	}

	if !src.seeker {
		if src.size < 0 {
			return nil, fmt.Errorf("sink: negative source size %d", src.size)
		}

		return &Reader{Reader: src.reader, Size: src.size}, nil
	}

	size, err := remaining(src.reader.(io.Seeker)) //nolint:forcetypeassert // FromReadSeeker guarantees it
	if err != nil {
		return nil, err
	}

	return &Reader{Reader: src.reader, Size: size}, nil
}

// remaining returns the bytes between the current offset and the end of s,
// leaving the offset where it was.
func remaining(s io.Seeker) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("sink: sizing source: %w", err)
	}

	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("sink: sizing source: %w", err)
	}

	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, fmt.Errorf("sink: sizing source: %w", err)
	}

	return end - cur, nil
}
