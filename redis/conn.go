package redis

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/khanakat/cachekit/cache"
)

// The repository speaks the RESP protocol directly over pooled TCP
// connections; no client library sits in between.

type dialFunc func(context.Context, Options) (net.Conn, error)

type clientConn struct {
	net.Conn
	reader *bufio.Reader
}

// respError is an error reply (`-` prefix) from the server. The reply was
// fully consumed, so the connection stays in sync and can be pooled.
type respError struct {
	msg string
}

func (e *respError) Error() string { return e.msg }

// connUsable reports whether a connection can return to the pool after err.
// Only a cleanly decoded server error reply leaves the stream in a known
// state; every other failure (deadline, cancellation, EOF, malformed RESP)
// may leave unread or partial replies behind, and pooling such a connection
// would serve stale replies to the next command.
func connUsable(err error) bool {
	var re *respError
	return errors.As(err, &re)
}

func (r *Repository) withConn(ctx context.Context, fn func(*clientConn) error) error {
	conn, err := r.acquireConn(ctx)
	if err != nil {
		return err
	}
	broken := false
	defer func() {
		r.releaseConn(conn, broken)
	}()
	if err := fn(conn); err != nil {
		broken = !connUsable(err)
		return err
	}
	return nil
}

func (r *Repository) acquireConn(ctx context.Context) (*clientConn, error) {
	if r.closed.Load() {
		return nil, cache.ErrClosed
	}
	select {
	case conn := <-r.pool:
		return conn, nil
	default:
		return r.newConn(ctx)
	}
}

func (r *Repository) releaseConn(conn *clientConn, broken bool) {
	if conn == nil {
		return
	}
	if broken {
		_ = conn.Close()
		return
	}
	select {
	case r.pool <- conn:
	default:
		_ = conn.Close()
	}
}

func (r *Repository) newConn(ctx context.Context) (*clientConn, error) {
	nc, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	reader := bufio.NewReader(nc)
	if err := r.handshake(nc, reader); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return &clientConn{Conn: nc, reader: reader}, nil
}

func (r *Repository) dial(ctx context.Context) (net.Conn, error) {
	if r.dialFn == nil {
		r.dialFn = defaultDial
	}
	return r.dialFn(ctx, r.opts)
}

func defaultDial(ctx context.Context, opts Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	return dialer.DialContext(ctx, "tcp", opts.Addr)
}

func (r *Repository) handshake(conn net.Conn, reader *bufio.Reader) error {
	if r.opts.Password != "" {
		if err := r.sendRaw(conn, "AUTH", r.opts.Password); err != nil {
			return err
		}
		if err := r.expectOK(reader); err != nil {
			return err
		}
	}
	if r.opts.DB > 0 {
		if err := r.sendRaw(conn, "SELECT", strconv.Itoa(r.opts.DB)); err != nil {
			return err
		}
		if err := r.expectOK(reader); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) expectOK(reader *bufio.Reader) error {
	resp, err := decodeRESP(reader)
	if err != nil {
		return err
	}
	if msg, ok := resp.(string); ok && strings.EqualFold(msg, "OK") {
		return nil
	}
	return fmt.Errorf("redis: expected OK, got %v", resp)
}

func (r *Repository) send(conn *clientConn, parts ...string) error {
	if err := applyDeadline(conn.SetWriteDeadline, r.opts.WriteTimeout); err != nil {
		return err
	}
	payload := buildCommand(parts...)
	_, err := conn.Write(payload)
	return err
}

func (r *Repository) read(conn *clientConn) (any, error) {
	if err := applyDeadline(conn.SetReadDeadline, r.opts.ReadTimeout); err != nil {
		return nil, err
	}
	return decodeRESP(conn.reader)
}

// sendRaw is used during handshake before the buffered reader is available.
func (r *Repository) sendRaw(conn net.Conn, parts ...string) error {
	if err := applyDeadline(conn.SetWriteDeadline, r.opts.WriteTimeout); err != nil {
		return err
	}
	payload := buildCommand(parts...)
	_, err := conn.Write(payload)
	return err
}

// do runs a single command and returns its decoded reply.
func (r *Repository) do(ctx context.Context, parts ...string) (any, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var resp any
	err := r.withConn(ctx, func(conn *clientConn) error {
		if err := r.send(conn, parts...); err != nil {
			return err
		}
		out, err := r.read(conn)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	return resp, err
}

// pipeline acquires a dedicated connection and allows batching commands
// before reading their responses, reducing round-trips under load.
func (r *Repository) pipeline(ctx context.Context) (*pipeline, error) {
	conn, err := r.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	return &pipeline{repo: r, conn: conn}, nil
}

type pipeline struct {
	repo    *Repository
	conn    *clientConn
	cmds    [][]string
	closed  bool
	closing sync.Mutex
}

func (p *pipeline) queue(parts ...string) {
	if p.closed {
		return
	}
	p.cmds = append(p.cmds, append([]string(nil), parts...))
}

// exec sends all queued commands and reads the replies in order.
func (p *pipeline) exec(ctx context.Context) ([]any, error) {
	if p.closed {
		return nil, errors.New("redis: pipeline closed")
	}
	if len(p.cmds) == 0 {
		return nil, nil
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var broken bool
	defer func() {
		p.closeInternal(broken)
	}()
	sent := 0
	for _, cmd := range p.cmds {
		if err := ctxErr(ctx); err != nil {
			// Once anything went out the server will answer it; aborting
			// here would strand those replies on the connection.
			broken = sent > 0
			return nil, err
		}
		if err := p.repo.send(p.conn, cmd...); err != nil {
			broken = true
			return nil, err
		}
		sent++
	}
	// Every queued command is on the wire; from here the connection is only
	// reusable once all replies are consumed.
	responses := make([]any, 0, len(p.cmds))
	var firstErr error
	for range p.cmds {
		if err := ctxErr(ctx); err != nil {
			broken = true
			return nil, err
		}
		resp, err := p.repo.read(p.conn)
		if err != nil {
			if !connUsable(err) {
				broken = true
				return nil, err
			}
			// An error reply desyncs nothing; keep draining so the
			// connection comes back clean.
			if firstErr == nil {
				firstErr = err
			}
			responses = append(responses, nil)
			continue
		}
		responses = append(responses, resp)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return responses, nil
}

func (p *pipeline) close() {
	p.closeInternal(false)
}

func (p *pipeline) closeInternal(broken bool) {
	p.closing.Lock()
	defer p.closing.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.repo.releaseConn(p.conn, broken)
}

func buildCommand(parts ...string) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "*%d\r\n", len(parts))
	for _, part := range parts {
		fmt.Fprintf(buf, "$%d\r\n%s\r\n", len(part), part)
	}
	return buf.Bytes()
}

func decodeRESP(r *bufio.Reader) (any, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\r\n")
	switch prefix {
	case '+':
		return line, nil
	case '-':
		return nil, &respError{msg: line}
	case ':':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case '$':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if err := consumeCRLF(r); err != nil {
			return nil, err
		}
		return data, nil
	case '*':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		arr := make([]any, n)
		for i := 0; i < int(n); i++ {
			val, err := decodeRESP(r)
			if err != nil {
				return nil, err
			}
			arr[i] = val
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("redis: unsupported RESP prefix %q", prefix)
	}
}

func consumeCRLF(r *bufio.Reader) error {
	b1, err := r.ReadByte()
	if err != nil {
		return err
	}
	b2, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return errors.New("redis: malformed RESP terminator")
	}
	return nil
}

func applyDeadline(setter func(time.Time) error, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return setter(time.Now().Add(timeout))
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
