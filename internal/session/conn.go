package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// framedConn implements the wire framing spec.md §4.2/§4.3/§6 describe:
// one JSON object per write, no length prefix, every message capped at
// bufSize bytes (spec.md §4.2/§6: "initial buffer ≤ 4 KiB" /
// "subsequent messages ≤ 4 KiB"). A single json.Decoder persists for the
// connection's lifetime so sequential Decode calls share the same
// buffered reader instead of re-reading from a fresh buffer per message
// (which would drop any bytes the previous read over-fetched). The cap is
// enforced by an io.LimitedReader sitting under that buffered reader,
// re-armed to bufSize before every readJSON call.
type framedConn struct {
	conn    net.Conn
	limit   *io.LimitedReader
	maxSize int64
	br      *bufio.Reader
	dec     *json.Decoder
}

func newFramedConn(conn net.Conn, bufSize int) *framedConn {
	limit := &io.LimitedReader{R: conn, N: int64(bufSize)}
	br := bufio.NewReaderSize(limit, bufSize)
	return &framedConn{
		conn:    conn,
		limit:   limit,
		maxSize: int64(bufSize),
		br:      br,
		dec:     json.NewDecoder(br),
	}
}

func (f *framedConn) readJSON(v any) error {
	f.limit.N = f.maxSize
	if err := f.dec.Decode(v); err != nil {
		if isTimeout(err) {
			// json.Decoder returns its first read error from every later
			// Decode; continue with a fresh decoder over the bytes it had
			// already buffered so a read deadline does not end the connection.
			f.dec = json.NewDecoder(io.MultiReader(f.dec.Buffered(), f.br))
			return err
		}
		if f.limit.N <= 0 {
			return fmt.Errorf("message exceeds %d byte limit: %w", f.maxSize, err)
		}
		return err
	}
	return nil
}

func (f *framedConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.conn.Write(data)
	return err
}

func (f *framedConn) setReadDeadline(d time.Duration) {
	if d <= 0 {
		f.conn.SetReadDeadline(time.Time{}) //nolint:errcheck
		return
	}
	f.conn.SetReadDeadline(time.Now().Add(d)) //nolint:errcheck
}

func (f *framedConn) close() error {
	return f.conn.Close()
}

// isTimeout reports whether err is a deadline-exceeded network error.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// remoteIP extracts the bare IP from a net.Conn's remote address, per
// spec.md §3's device_id format ("<peer-ip>:<device_name>" / "<peer-ip>").
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSpace(addr)
}

// configureKeepalive applies spec.md §4.2's "idle 60s, interval 10s, 3
// probes → dead after ~90s idle" to a real TCP connection. Non-TCP
// connections (e.g. net.Pipe in tests) are left alone.
func configureKeepalive(conn net.Conn, idle, interval time.Duration, count int) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcpConn.SetKeepAliveConfig(net.KeepAliveConfig{ //nolint:errcheck
		Enable:   true,
		Idle:     idle,
		Interval: interval,
		Count:    count,
	})
}
