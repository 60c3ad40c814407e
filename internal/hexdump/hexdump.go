// Package hexdump prints payload bytes for inspection before a feed.
package hexdump

import (
	"encoding/hex"
	"fmt"
	"io"
)

// BytesPerLine matches the compact format: 16 bytes, 32 hex digits per line.
const BytesPerLine = 16

// Dump writes up to limit bytes of data as lowercase hex, BytesPerLine bytes
// per line. limit <= 0 dumps everything. A truncated dump ends with a line
// saying how many bytes were left out.
func Dump(w io.Writer, data []byte, limit int) error {
	shown := data
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	line := make([]byte, hex.EncodedLen(BytesPerLine)+1)
	for off := 0; off < len(shown); off += BytesPerLine {
		chunk := shown[off:min(off+BytesPerLine, len(shown))]
		n := hex.Encode(line, chunk)
		line[n] = '\n'
		if _, err := w.Write(line[:n+1]); err != nil {
			return err
		}
	}

	if omitted := len(data) - len(shown); omitted > 0 {
		if _, err := fmt.Fprintf(w, "... %d more bytes\n", omitted); err != nil {
			return err
		}
	}
	return nil
}

// Canonical writes the offset/hex/ASCII layout of hexdump -C for up to limit bytes.
func Canonical(w io.Writer, data []byte, limit int) error {
	shown := data
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	d := hex.Dumper(w)
	if _, err := d.Write(shown); err != nil {
		return err
	}
	return d.Close()
}
