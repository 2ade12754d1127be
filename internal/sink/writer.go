package sink

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
)

// filePerms are the permissions of files created for Path targets.
const filePerms = 0o644

// Writer is the binary sink a transfer writes into. It is scoped to one
// transfer and must be released with Close on every exit path.
type Writer struct {
	target  Target
	dst     io.Writer
	owned   *bytes.Buffer // in-memory sink for None and Text targets
	file    billy.File    // opened for Path targets
	written int64

	closed   bool
	out      *Output
	closeErr error
}

// Open resolves t into a binary sink. Path targets are created (or truncated)
// on fsys.
func Open(fsys billy.Filesystem, t Target) (*Writer, error) {
	w := &Writer{target: t}

	switch t.kind {
	case KindNone:
		w.owned = &bytes.Buffer{}
		w.dst = w.owned
	case KindPath:
		if t.path == "" {
			return nil, fmt.Errorf("sink: empty path")
		}

		f, err := fsys.OpenFile(t.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, filePerms)
		if err != nil {
			return nil, fmt.Errorf("sink: opening %s: %w", t.path, err)
		}

		w.file = f
		w.dst = f
	case KindText:
		if t.text == nil {
			return nil, fmt.Errorf("sink: nil text target")
		}

		w.owned = &bytes.Buffer{}
		w.dst = w.owned
	case KindStream:
		if t.stream == nil {
			return nil, fmt.Errorf("sink: nil stream")
		}

		w.dst = t.stream
	case KindBuffer:
		if t.buf == nil {
			return nil, fmt.Errorf("sink: nil buffer")
		}

		w.dst = t.buf
	default:
		return nil, fmt.Errorf("sink: unknown target kind %s", t.kind)
	}

	return w, nil
}

// Write appends p to the sink.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("sink: write after close")
	}

	n, err := w.dst.Write(p)
	w.written += int64(n)

	return n, err
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Close finishes the sink and returns the caller-visible view. Buffers are
// readable from the start, an opened file is rewound to offset 0 and left
// open, and text targets receive the decoded content. Seekable streams the
// caller handed in are rewound; one that refuses the seek (a pipe or
// terminal behind an *os.File) is left where the transfer stopped. Close is
// idempotent: later calls return the first result.
func (w *Writer) Close() (*Output, error) {
	if w.closed {
		return w.out, w.closeErr
	}

	w.closed = true

	out := &Output{Kind: w.target.kind, Written: w.written}

	var err error

	switch w.target.kind {
	case KindNone:
		out.Buffer = w.owned
	case KindPath:
		out.Path = w.target.path
		out.File = w.file
		out.ownsFile = true
		err = rewind(w.file)
	case KindText:
		out.Text = w.target.text
		err = w.flushText()
	case KindStream:
		out.Stream = w.target.stream
		rewindCallerStream(w.target.stream)
	case KindBuffer:
		out.Buffer = w.target.buf
	}

	w.out = out
	w.closeErr = err

	return out, err
}

// flushText decodes the owned buffer and writes the text into the target.
func (w *Writer) flushText() error {
	decoded, err := w.target.enc.NewDecoder().Bytes(w.owned.Bytes())
	if err != nil {
		return fmt.Errorf("sink: decoding text: %w", err)
	}

	if _, err := w.target.text.WriteString(string(decoded)); err != nil {
		return fmt.Errorf("sink: writing text: %w", err)
	}

	rewindCallerStream(w.target.text)

	return nil
}

// rewindCallerStream seeks a caller-owned stream back to its start. The bytes
// have already been delivered, so a failed seek is not a transfer failure.
func rewindCallerStream(v any) {
	if s, ok := v.(io.Seeker); ok {
		_ = rewind(s)
	}
}

func rewind(s io.Seeker) error {
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sink: rewinding: %w", err)
	}

	return nil
}

// Output is the caller-visible result of a finished sink. Exactly one of
// Buffer, File, Stream, or Text is set, matching Kind.
type Output struct {
	Kind    Kind
	Path    string
	Buffer  *bytes.Buffer
	File    billy.File // open, at offset 0; the caller closes it
	Stream  io.Writer
	Text    io.StringWriter
	Written int64

	ownsFile bool
}

// Reader returns a reader over the transferred bytes positioned at their
// start, or nil when the view cannot be read back.
func (o *Output) Reader() io.Reader {
	switch {
	case o == nil:
		return nil
	case o.Buffer != nil:
		return bytes.NewReader(o.Buffer.Bytes())
	case o.File != nil:
		return o.File
	case o.Stream != nil:
		if r, ok := o.Stream.(io.Reader); ok {
			return r
		}
	case o.Text != nil:
		if r, ok := o.Text.(io.Reader); ok {
			return r
		}
	}

	return nil
}

// Release closes the file the adapter opened for a Path target. It is a
// no-op for every other kind, since those handles belong to the caller.
func (o *Output) Release() error {
	if o == nil || !o.ownsFile || o.File == nil {
		return nil
	}

	o.ownsFile = false

	if err := o.File.Close(); err != nil {
		return fmt.Errorf("sink: closing %s: %w", o.Path, err)
	}

	return nil
}
