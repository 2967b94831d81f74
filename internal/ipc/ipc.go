// Package ipc is the local control channel of the daemon: newline-delimited
// JSON over a unix socket, one request and one reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/secondbrain.sock"

// Commands understood by the daemon.
const (
	CmdStop    = "stop"
	CmdStatus  = "status"
	CmdHistory = "history"
)

type ControlMessage struct {
	Cmd string `json:"cmd"`

	// Limit bounds the number of history entries.
	Limit int `json:"limit,omitempty"`
}

type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler answers one control message.
type Handler func(ctx context.Context, msg ControlMessage) Reply

// ErrorReply builds a failed reply.
func ErrorReply(format string, args ...any) Reply {
	return Reply{Error: fmt.Sprintf(format, args...)}
}

// DataReply builds a successful reply carrying v as JSON.
func DataReply(v any) Reply {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorReply("encode reply: %v", err)
	}
	return Reply{OK: true, Data: data}
}

// Serve listens on path and handles connections until ctx is done. A stale
// socket file is replaced.
func Serve(ctx context.Context, path string, handler Handler) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("control socket listening", "path", path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("ipc: accept: %w", err)
			}
			slog.Warn("control socket accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, handler)
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		slog.Debug("bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(ErrorReply("bad request: %v", err))
		return
	}
	_ = json.NewEncoder(conn).Encode(handler(ctx, msg))
}

// Send delivers msg to the daemon at path and returns its reply.
func Send(ctx context.Context, path string, msg ControlMessage) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("ipc: send: %w", err)
	}
	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("ipc: read reply: %w", err)
	}
	return reply, nil
}
