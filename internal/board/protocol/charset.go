package protocol

import (
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ResolveCharset looks up a character encoding by its configured name
// (e.g. "utf-8", "iso-8859-1"). An empty name resolves to UTF-8. The
// standard library has no non-UTF-8 text decoders, so this reaches for
// golang.org/x/text, which the retrieved corpus already carries as an
// indirect dependency of more than one example repo.
func ResolveCharset(name string) (encoding.Encoding, error) {
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("protocol: unknown charset %q: %w", name, err)
	}
	return enc, nil
}

// DecodingReader wraps r so bytes read through it are transcoded from enc
// to UTF-8.
func DecodingReader(r io.Reader, enc encoding.Encoding) io.Reader {
	return enc.NewDecoder().Reader(r)
}

// EncodingWriter wraps w so bytes written through it are transcoded from
// UTF-8 to enc.
func EncodingWriter(w io.Writer, enc encoding.Encoding) io.Writer {
	return enc.NewEncoder().Writer(w)
}
