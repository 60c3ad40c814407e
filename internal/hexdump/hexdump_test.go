package hexdump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpWrapsEvery16Bytes(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, data, 0))

	assert.Equal(t, "000102030405060708090a0b0c0d0e0f\n10111213\n", buf.String())
}

func TestDumpHonoursLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, []byte{0xde, 0xad, 0xbe, 0xef, 0x00}, 2))

	assert.Equal(t, "dead\n... 3 more bytes\n", buf.String())
}

func TestDumpEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, nil, 10))
	assert.Empty(t, buf.String())
}

func TestCanonical(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Canonical(&buf, []byte("hello, pipe"), 5))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "00000000  68 65 6c 6c 6f"), out)
	assert.Contains(t, out, "|hello|")
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestDumpReportsWriteError(t *testing.T) {
	assert.ErrorIs(t, Dump(failWriter{}, []byte("x"), 0), assert.AnError)
}
