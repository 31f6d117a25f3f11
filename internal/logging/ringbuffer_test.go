package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferBasicWrite(t *testing.T) {
	rb := NewRingBuffer(64)

	n, err := rb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(rb.Bytes()))
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(10)

	_, _ = rb.Write([]byte("abcdefghij"))
	_, _ = rb.Write([]byte("12345"))

	assert.Equal(t, "fghij12345", string(rb.Bytes()))
}

func TestRingBufferSplitWrite(t *testing.T) {
	rb := NewRingBuffer(8)

	_, _ = rb.Write([]byte("abcdef"))
	_, _ = rb.Write([]byte("XYZ"))

	assert.Equal(t, "bcdefXYZ", string(rb.Bytes()))
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)

	n, err := rb.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "6789", string(rb.Bytes()))
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("line one\n"))

	path := filepath.Join(t.TempDir(), "dump.log")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\n", string(data))
}
