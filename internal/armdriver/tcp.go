package armdriver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCPClient speaks a minimal length-prefixed JSON protocol to the arm's
// control box: a 4-byte big-endian length prefix followed by that many
// bytes of JSON. It exists as a concrete, wire-level Client the rest of
// this module can be built and tested against without the real vendor SDK
// present; swapping in the vendor library only means providing a different
// Client implementation.
type TCPClient struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial opens a TCP connection to the arm's control box.
func Dial(ctx context.Context, addr string) (*TCPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("armdriver: dial %s: %w", addr, err)
	}
	return &TCPClient{conn: conn}, nil
}

func (c *TCPClient) Connect(ctx context.Context) error { return nil }

func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

type moveRequest struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
	Speed, Acc       float64
	Wait             bool
}

type moveResponse struct {
	Code int `json:"code"`
}

// MoveArm sends a set_position request and waits for the vendor result
// code in response.
func (c *TCPClient) MoveArm(ctx context.Context, pos Position, params MoveParams) (int, error) {
	req := moveRequest{
		X: pos.X, Y: pos.Y, Z: pos.Z,
		Roll: params.Roll, Pitch: params.Pitch, Yaw: params.Yaw,
		Speed: params.Speed, Acc: params.Acc, Wait: params.Wait,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	if err := writeFrame(c.conn, req); err != nil {
		return 0, fmt.Errorf("armdriver: send move_arm: %w", err)
	}
	var resp moveResponse
	if err := readFrame(c.conn, &resp); err != nil {
		return 0, fmt.Errorf("armdriver: read move_arm response: %w", err)
	}
	return resp.Code, nil
}

func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
