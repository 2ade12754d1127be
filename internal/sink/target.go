// Package sink normalizes transfer endpoints. A download destination may be
// absent, a path, an open binary stream, a text stream, or an in-memory
// buffer; an upload source may be a path or an open reader. Each is resolved
// once, at transfer start, into a uniform binary surface, and released with a
// single Close that rewinds, decodes, and closes whatever the adapter owns.
package sink

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/polyfill"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Kind tags the variant held by a Target.
type Kind int

// Target kinds.
const (
	KindNone Kind = iota
	KindPath
	KindStream
	KindText
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPath:
		return "path"
	case KindStream:
		return "stream"
	case KindText:
		return "text"
	case KindBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target is a download destination. The zero value is None. Build values
// with None, Path, Stream, Text, or Buffer.
type Target struct {
	kind   Kind
	path   string
	stream io.Writer
	text   io.StringWriter
	buf    *bytes.Buffer
	enc    encoding.Encoding
}

// TextOption configures a Text target.
type TextOption func(*Target) error

// None asks for an in-memory result. The download engine replaces it with a
// path named after the remote file before the sink is opened.
func None() Target { return Target{kind: KindNone} }

// Path writes to the named file, truncating it.
func Path(p string) Target { return Target{kind: KindPath, path: p} }

// Stream writes straight into w.
func Stream(w io.Writer) Target { return Target{kind: KindStream, stream: w} }

// Buffer writes into b.
func Buffer(b *bytes.Buffer) Target { return Target{kind: KindBuffer, buf: b} }

// Text collects the binary content and, once the transfer ends, decodes it
// and writes the text to w. UTF-8 is assumed unless an option picks another
// encoding.
func Text(w io.StringWriter, opts ...TextOption) (Target, error) {
	t := Target{kind: KindText, text: w, enc: unicode.UTF8}

	for _, opt := range opts {
		if err := opt(&t); err != nil {
			return Target{}, err
		}
	}

	return t, nil
}

// WithEncoding decodes text targets with enc.
func WithEncoding(enc encoding.Encoding) TextOption {
	return func(t *Target) error {
		if enc == nil {
			return fmt.Errorf("sink: nil encoding")
		}

		t.enc = enc

		return nil
	}
}

// WithEncodingName decodes text targets with the encoding registered under
// name in the WHATWG encoding index ("utf-8", "latin1", "shift_jis", ...).
func WithEncodingName(name string) TextOption {
	return func(t *Target) error {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return fmt.Errorf("sink: unknown text encoding %q: %w", name, err)
		}

		t.enc = enc

		return nil
	}
}

// Kind reports which variant t holds.
func (t Target) Kind() Kind { return t.kind }

// PathName returns the file path of a Path target, "" otherwise.
func (t Target) PathName() string { return t.path }

// LocalFS returns the operating system filesystem. Absolute paths and paths
// relative to the working directory both resolve against it, including paths
// that climb out of the working directory. osfs.New would chroot to its base
// directory and reject "..".
func LocalFS() billy.Filesystem {
	return polyfill.New(osfs.Default)
}
