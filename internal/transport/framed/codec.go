// Package framed carries protocol messages over a stream connection (unix,
// tcp or vsock). Each message is a JSON document preceded by its length as
// a 4-byte big-endian integer.
package framed

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/oriys/pulsar/internal/protocol"
	"github.com/oriys/pulsar/internal/worker"
)

// DefaultMaxMessageSize bounds a single frame.
const DefaultMaxMessageSize = 8 << 20

// ErrMessageTooLarge is returned for frames above the size limit.
var ErrMessageTooLarge = errors.New("message too large")

// Codec reads and writes length-prefixed messages on a connection. Send and
// Recv may be used from different goroutines; concurrent Sends must be
// serialized by the caller.
type Codec struct {
	conn net.Conn
	r    *bufio.Reader
	max  int
}

// NewCodec wraps conn. max <= 0 selects DefaultMaxMessageSize.
func NewCodec(conn net.Conn, max int) *Codec {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	return &Codec{conn: conn, r: bufio.NewReader(conn), max: max}
}

// Send writes msg as one frame.
func (c *Codec) Send(msg *protocol.StreamingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > c.max {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	_, err = c.conn.Write(buf)
	return err
}

// Recv reads the next frame. It returns io.EOF when the peer closed the
// connection between frames, and an error wrapping
// worker.ErrMalformedMessage for a complete frame that is not a message.
func (c *Codec) Recv() (*protocol.StreamingMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, err
	}

	msgLen := binary.BigEndian.Uint32(lenBuf[:])
	if msgLen > uint32(c.max) {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, msgLen)
	}

	data := make([]byte, msgLen)
	if _, err := io.ReadFull(c.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	msg := &protocol.StreamingMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", worker.ErrMalformedMessage, err)
	}
	return msg, nil
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
