package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// DefaultMaxFrameBytes bounds a single frame's payload (spec.md §4.2
	// maxFrameBytes). ExecResult/ExecError enforce output truncation well
	// below this; this is the hard transport ceiling.
	DefaultMaxFrameBytes = 4 << 20 // 4 MiB
	// HardMaxFrameBytes is the absolute cap regardless of configuration.
	HardMaxFrameBytes = 64 << 20 // 64 MiB
)

// ErrFrameTooLarge is returned by WriteEnvelope when the marshaled frame
// would exceed the Writer's configured maxFrameBytes. Nothing is written to
// the underlying stream when this is returned — the caller decides how to
// fail gracefully (reject a BridgeCall locally, substitute a truncated
// ExecError) rather than letting an oversized frame reach the wire.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds max frame size")

// Writer serializes envelopes as 4-byte big-endian length prefix + JSON body
// onto an underlying writer (a worker subprocess's stdin or stdout). Safe
// for concurrent WriteEnvelope calls: exec handling runs on its own
// goroutine and may interleave writes with the main read loop's replies.
type Writer struct {
	mu           sync.Mutex
	w            io.Writer
	maxFrameSize int
}

// NewWriter constructs a Writer enforcing maxFrameBytes on every write;
// values outside (0, HardMaxFrameBytes] fall back to DefaultMaxFrameBytes,
// mirroring NewReader's clamping.
func NewWriter(w io.Writer, maxFrameBytes int) *Writer {
	if maxFrameBytes <= 0 || maxFrameBytes > HardMaxFrameBytes {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Writer{w: w, maxFrameSize: maxFrameBytes}
}

// SetMaxFrameBytes reconfigures the writer's frame-size ceiling, e.g. once a
// worker has decoded the Init frame's maxFrameBytes (the writer starts out
// bound to DefaultMaxFrameBytes, since Init itself must fit under that
// default before the real ceiling is known).
func (w *Writer) SetMaxFrameBytes(maxFrameBytes int) {
	if maxFrameBytes <= 0 || maxFrameBytes > HardMaxFrameBytes {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	w.mu.Lock()
	w.maxFrameSize = maxFrameBytes
	w.mu.Unlock()
}

// WriteEnvelope marshals payload into an Envelope with the given kind and id
// and writes the framed bytes. Returns ErrFrameTooLarge, without writing
// anything, if the framed envelope exceeds the writer's maxFrameBytes.
func WriteEnvelope(w *Writer, kind Kind, id string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s payload: %w", kind, err)
	}
	env := Envelope{Kind: kind, ID: id, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	return w.write(body)
}

func (w *Writer) write(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(body) > w.maxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

// Reader reads framed envelopes from an underlying reader (a worker
// subprocess's stdout or stdin), enforcing maxFrameBytes.
type Reader struct {
	r            *bufio.Reader
	maxFrameSize int
}

func NewReader(r io.Reader, maxFrameBytes int) *Reader {
	if maxFrameBytes <= 0 || maxFrameBytes > HardMaxFrameBytes {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), maxFrameSize: maxFrameBytes}
}

// SetMaxFrameBytes reconfigures the reader's frame-size ceiling. Only safe
// to call between ReadEnvelope calls on the same goroutine that reads —
// Reader has no internal locking of its own.
func (r *Reader) SetMaxFrameBytes(maxFrameBytes int) {
	if maxFrameBytes <= 0 || maxFrameBytes > HardMaxFrameBytes {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	r.maxFrameSize = maxFrameBytes
}

// ReadEnvelope blocks until a complete frame arrives, EOF, or a framing
// error (oversized length prefix, truncated stream).
func (r *Reader) ReadEnvelope() (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > r.maxFrameSize {
		return Envelope{}, fmt.Errorf("protocol: frame of %d bytes exceeds max %d", n, r.maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Envelope{}, fmt.Errorf("protocol: read frame body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	return env, nil
}

// Decode unmarshals an envelope's payload into dst.
func Decode(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", env.Kind, err)
	}
	return nil
}
