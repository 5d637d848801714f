package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// chunkReader hands out the underlying bytes in the given chunk sizes, cycling.
type chunkReader struct {
	data   []byte
	sizes  []int
	cursor int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.sizes[r.cursor%len(r.sizes)]
	r.cursor++
	n = min(n, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// shortWriter accepts at most limit bytes per call without reporting an error.
type shortWriter struct {
	buf   bytes.Buffer
	limit int
	calls int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.calls++
	n := min(len(p), w.limit)
	w.buf.Write(p[:n])
	return n, nil
}

func frameBytes(t testing.TB, payload []byte) []byte {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload))
	return buf.Bytes()
}

func TestWriteFrame_Layout(t *testing.T) {
	payload := []byte("hello frame")
	wire := frameBytes(t, payload)

	require.Len(t, wire, HeaderLength+len(payload))
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(wire[:HeaderLength]))
	assert.Equal(t, payload, wire[HeaderLength:])
}

func TestWriteFrame_RetriesPartialWrites(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 100)
	w := &shortWriter{limit: 7}

	require.NoError(t, WriteFrame(w, payload))
	assert.Greater(t, w.calls, 1)

	got, err := ReadFrame(&w.buf, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrame_OneByteReads(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	r := iotest.OneByteReader(bytes.NewReader(frameBytes(t, payload)))

	got, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrame_EmptyPayload(t *testing.T) {
	got, err := ReadFrame(bytes.NewReader(frameBytes(t, nil)), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFrame_CleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrTruncatedFrame)
}

func TestReadFrame_TruncatedHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 0)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	assert.False(t, errors.Is(err, io.EOF), "truncation must not look like a clean close")
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	wire := frameBytes(t, bytes.Repeat([]byte{1}, 10000))
	_, err := ReadFrame(bytes.NewReader(wire[:HeaderLength+5000]), 0)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReadFrame_TooLarge(t *testing.T) {
	var header [HeaderLength]byte
	binary.BigEndian.PutUint32(header[:], 1<<30)

	_, err := ReadFrame(bytes.NewReader(header[:]), DefaultMaxFrameSize)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_TransportError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	_, err := ReadFrame(iotest.ErrReader(boom), 0)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestReadFrame_Sequence(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte("one"), {}, bytes.Repeat([]byte("x"), ReadChunkSize*3+1), []byte("four")}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}

	for i, want := range payloads {
		got, err := ReadFrame(&buf, 0)
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, len(want), len(got), "frame %d", i)
		assert.True(t, bytes.Equal(want, got), "frame %d", i)
	}
	_, err := ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

// Feature: transport-framer, Property 1: Reassembly
// *For any* payload of length L delivered in arbitrary chunk sizes (including
// 1-byte chunks), ReadFrame SHALL return exactly the L payload bytes.
func TestReadFrame_Reassembly_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 3*ReadChunkSize).Draw(t, "payload")
		sizes := rapid.SliceOfN(rapid.IntRange(1, 2*ReadChunkSize), 1, 16).Draw(t, "chunkSizes")

		var buf bytes.Buffer
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}

		got, err := ReadFrame(&chunkReader{data: buf.Bytes(), sizes: sizes}, 0)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(payload, got) {
			t.Fatalf("payload mismatch: want %d bytes, got %d", len(payload), len(got))
		}
	})
}
