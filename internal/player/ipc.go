package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"sync"
	"time"
)

// ErrIPCClosed is returned for commands issued after the connection ended.
var ErrIPCClosed = errors.New("mpv ipc connection closed")

// IPC is a client for mpv's JSON IPC protocol over a unix socket. Replies
// are matched to commands by request_id. Of the events only end-file is
// kept, for its reason.
type IPC struct {
	conn net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan ipcReply
	closed  bool

	endReason string

	closeOnce sync.Once
	done      chan struct{}
}

type ipcRequest struct {
	Command   any `json:"command"`
	RequestID int `json:"request_id"`
}

type ipcReply struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID *int            `json:"request_id"`
	Event     string          `json:"event"`
	Reason    string          `json:"reason"`
}

// DialIPC connects to an mpv socket.
func DialIPC(ctx context.Context, socketPath string) (*IPC, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to mpv socket: %w", err)
	}
	c := &IPC{
		conn:    conn,
		pending: make(map[int]chan ipcReply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// WaitForSocket polls until socketPath exists or ctx ends, then dials it.
// mpv creates the socket shortly after it starts.
func WaitForSocket(ctx context.Context, socketPath string) (*IPC, error) {
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			return DialIPC(ctx, socketPath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("mpv socket %s did not appear", socketPath)
}

func (c *IPC) readLoop() {
	defer c.Close()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var reply ipcReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			continue
		}
		if reply.Event == "end-file" {
			c.mu.Lock()
			c.endReason = reply.Reason
			c.mu.Unlock()
			continue
		}
		if reply.Event != "" || reply.RequestID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*reply.RequestID]
		delete(c.pending, *reply.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- reply
		}
	}
}

// Command sends a command and waits for its reply. mpv's "success" maps to
// a nil error and the reply data is returned raw.
func (c *IPC) Command(ctx context.Context, args ...any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, errors.New("empty mpv command")
	}
	return c.send(ctx, fmt.Sprint(args[0]), args)
}

// CommandNamed sends a command in mpv's named-argument form, so arguments
// do not depend on their position in the command's signature.
func (c *IPC) CommandNamed(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	command := make(map[string]any, len(args)+1)
	maps.Copy(command, args)
	command["name"] = name
	return c.send(ctx, name, command)
}

func (c *IPC) send(ctx context.Context, name string, command any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrIPCClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan ipcReply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(ipcRequest{Command: command, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("encoding mpv command: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("writing mpv command: %w", err)
	}

	select {
	case reply := <-ch:
		if reply.Error != "" && reply.Error != "success" {
			return nil, fmt.Errorf("mpv %s: %s", name, reply.Error)
		}
		return reply.Data, nil
	case <-c.done:
		return nil, ErrIPCClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// GetFloat reads a numeric property such as "time-pos" or "duration".
func (c *IPC) GetFloat(ctx context.Context, property string) (float64, error) {
	data, err := c.Command(ctx, "get_property", property)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("decoding %s: %w", property, err)
	}
	return v, nil
}

// EndReason returns the reason of the last end-file event, such as "eof" or
// "quit", or "" when none was seen.
func (c *IPC) EndReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

// Done is closed when the connection ends.
func (c *IPC) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. Safe to call more than once.
func (c *IPC) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

func (c *IPC) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
