// Package charset normalizes uploaded bulk files to UTF-8. Jurisdiction
// licensing systems export CSVs in whatever encoding their vendor chose;
// the validator needs clean UTF-8 before rows can be parsed or validated.
package charset

import (
	"bufio"
	"bytes"
	"io"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8BOM is the byte order mark some exports prepend to UTF-8 files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NewReader wraps an uploaded file with encoding normalization. It sniffs
// the stream rather than materializing it:
//   - a UTF-8 BOM is stripped
//   - a UTF-16 BOM (either endianness) selects UTF-16 decoding
//   - otherwise bytes pass through and any invalid UTF-8 sequence is
//     re-decoded as Windows-1252, the de-facto encoding of legacy exports
//
// The returned reader always yields valid UTF-8.
func NewReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)

	head, _ := br.Peek(3)
	switch {
	case bytes.HasPrefix(head, utf8BOM):
		br.Discard(len(utf8BOM))
		return &validatingReader{r: br}
	case len(head) >= 2 && (head[0] == 0xFE && head[1] == 0xFF || head[0] == 0xFF && head[1] == 0xFE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		return transform.NewReader(br, dec)
	default:
		return &validatingReader{r: br}
	}
}

// validatingReader passes UTF-8 through and transparently re-decodes
// Windows-1252 when the stream turns out not to be UTF-8. The decision is
// made on the first read that sees a high byte, so the common all-ASCII
// file costs nothing.
type validatingReader struct {
	r        *bufio.Reader
	fallback io.Reader
	decided  bool
}

func (v *validatingReader) Read(p []byte) (int, error) {
	if !v.decided {
		if err := v.decide(); err != nil {
			return 0, err
		}
	}
	return v.fallback.Read(p)
}

// decide buffers enough of the stream to classify it. Peek is bounded by
// the bufio buffer; classification only needs to see whether high bytes
// form valid UTF-8 sequences.
func (v *validatingReader) decide() error {
	v.decided = true

	head, err := v.r.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return err
	}

	if looksLikeUTF8(head) {
		v.fallback = v.r
		return nil
	}

	v.fallback = transform.NewReader(v.r, charmap.Windows1252.NewDecoder())
	return nil
}

// looksLikeUTF8 reports whether data is valid UTF-8, ignoring a sequence
// truncated at the end of the sample.
func looksLikeUTF8(data []byte) bool {
	for i := 0; i < len(data); {
		b := data[i]
		if b < 0x80 {
			i++
			continue
		}

		var size int
		switch {
		case b&0xE0 == 0xC0:
			size = 2
		case b&0xF0 == 0xE0:
			size = 3
		case b&0xF8 == 0xF0:
			size = 4
		default:
			return false
		}

		if i+size > len(data) {
			// Truncated by the sample boundary, not malformed.
			return true
		}
		for j := 1; j < size; j++ {
			if data[i+j]&0xC0 != 0x80 {
				return false
			}
		}
		i += size
	}
	return true
}
