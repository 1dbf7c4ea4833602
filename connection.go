package nntpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Connection owns one socket to an NNTP server: a command lock serialising
// every exchange, stored credentials for transparent re-authentication
// after a reconnect, and a reconnect task handle commands await before
// writing. It is not safe for concurrent use by multiple callers at once —
// that safety is the pool's job.
type Connection struct {
	host   string
	port   int
	useTLS bool

	commandLock sync.Mutex

	connMu  sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	welcome Response

	credMu sync.Mutex
	creds  *credentials

	reconnectMu  sync.Mutex
	reconnecting chan struct{}

	// reconnectFn, when set by a Pool, builds a replacement *Connection
	// through that pool's circuit breaker (and its stats collector). Nil
	// for a standalone Connection not managed by a pool, in which case
	// scheduleReconnect falls back to dialing directly.
	reconnectFn func(ctx context.Context) (*Connection, error)
}

type credentials struct {
	user string
	pass string
}

// dial opens a plain or TLS-wrapped TCP socket to host:port.
func dial(ctx context.Context, host string, port int, useTLS bool) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	d := net.Dialer{}
	if useTLS {
		return tls.DialWithDialer(&net.Dialer{}, "tcp", addr, &tls.Config{ServerName: host})
	}
	return d.DialContext(ctx, "tcp", addr)
}

// NewConnection dials host:port, reads and validates the welcome line, and
// returns a ready-to-use Connection.
func NewConnection(ctx context.Context, host string, port int, useTLS bool) (*Connection, error) {
	conn, err := dial(ctx, host, port, useTLS)
	if err != nil {
		return nil, newConnectionError("dial", err)
	}

	c := &Connection{host: host, port: port, useTLS: useTLS}
	c.setSocket(conn)

	welcome, err := c.readWelcome()
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.welcome = welcome
	return c, nil
}

func (c *Connection) setSocket(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.connMu.Unlock()
}

func (c *Connection) io() (net.Conn, *bufio.Reader, *bufio.Writer) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn, c.reader, c.writer
}

// readWelcome reads the single status line a server sends immediately
// after accepting a connection. Only 200 and 201 are acceptable.
func (c *Connection) readWelcome() (Response, error) {
	line, err := c.readLine()
	if err != nil {
		return Response{}, newConnectionError("welcome", err)
	}
	resp, err := parseResponseLine(line)
	if err != nil {
		return Response{}, newProtocolError("malformed welcome line: %v", err)
	}
	if resp.Code != codeWelcomeNoPosting && resp.Code != codeWelcomePosting {
		return Response{}, newProtocolError("unexpected welcome code %d", resp.Code)
	}
	return resp, nil
}

// Authinfo performs the AUTHINFO USER/PASS handshake. On success the
// credentials are cached and replayed automatically on every reconnect.
func (c *Connection) Authinfo(ctx context.Context, user, pass string) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	c.commandLock.Lock()
	defer c.commandLock.Unlock()

	if err := c.authinfoLocked(user, pass); err != nil {
		return err
	}
	c.credMu.Lock()
	c.creds = &credentials{user: user, pass: pass}
	c.credMu.Unlock()
	return nil
}

// authinfoLocked runs the handshake against the current socket. Callers
// must already hold commandLock (or be the sole goroutine touching the
// connection during a reconnect).
func (c *Connection) authinfoLocked(user, pass string) error {
	if err := c.writeLine("AUTHINFO USER " + user); err != nil {
		return err
	}
	resp, err := c.readStatus()
	if err != nil {
		return err
	}
	switch resp.Code {
	case codeAuthAccepted:
		return nil
	case codeAuthNeedPassword:
	default:
		return &AuthenticationFailed{Code: resp.Code, Message: resp.Message}
	}

	if err := c.writeLine("AUTHINFO PASS " + pass); err != nil {
		return err
	}
	resp, err = c.readStatus()
	if err != nil {
		return err
	}
	if resp.Code != codeAuthAccepted {
		return &AuthenticationFailed{Code: resp.Code, Message: resp.Message}
	}
	return nil
}

func (c *Connection) storedCredentials() *credentials {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	return c.creds
}

// ensureConnected blocks until any in-flight reconnect completes, or the
// context is cancelled first.
func (c *Connection) ensureConnected(ctx context.Context) error {
	c.reconnectMu.Lock()
	done := c.reconnecting
	c.reconnectMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleReconnect closes the current socket and launches a background
// task that builds a replacement one, reads its welcome line, and replays
// stored credentials. Safe to call more than once in a row; only one
// reconnect runs at a time. When the connection belongs to a Pool, the
// replacement is built through that pool's circuit breaker (reconnectFn);
// otherwise it dials directly.
func (c *Connection) scheduleReconnect() {
	c.reconnectMu.Lock()
	if c.reconnecting != nil {
		c.reconnectMu.Unlock()
		return
	}
	done := make(chan struct{})
	c.reconnecting = done
	c.reconnectMu.Unlock()

	if conn, _, _ := c.io(); conn != nil {
		conn.Close()
	}

	go func() {
		defer func() {
			c.reconnectMu.Lock()
			c.reconnecting = nil
			c.reconnectMu.Unlock()
			close(done)
		}()

		if c.reconnectFn != nil {
			fresh, err := c.reconnectFn(context.Background())
			if err != nil {
				slog.Error("nntp: reconnect failed", "host", c.host, "port", c.port, "err", err)
				return
			}
			conn, _, _ := fresh.io()
			c.setSocket(conn)
			c.welcome = fresh.welcome
			return
		}

		conn, err := dial(context.Background(), c.host, c.port, c.useTLS)
		if err != nil {
			slog.Error("nntp: reconnect dial failed", "host", c.host, "port", c.port, "err", err)
			return
		}
		c.setSocket(conn)

		welcome, err := c.readWelcome()
		if err != nil {
			slog.Error("nntp: reconnect welcome failed", "host", c.host, "port", c.port, "err", err)
			conn.Close()
			return
		}
		c.welcome = welcome

		if creds := c.storedCredentials(); creds != nil {
			if err := c.authinfoLocked(creds.user, creds.pass); err != nil {
				slog.Error("nntp: reconnect authinfo failed", "host", c.host, "port", c.port, "err", err)
			}
		}
	}()
}

// Close closes the underlying socket without scheduling a reconnect, and
// clears any stored credentials — they are set only after a successful
// AUTHINFO exchange and cleared only here, on explicit close.
func (c *Connection) Close() error {
	c.credMu.Lock()
	c.creds = nil
	c.credMu.Unlock()

	conn, _, _ := c.io()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Connection) setDeadline(ctx context.Context) {
	conn, _, _ := c.io()
	if conn == nil {
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Time{})
	}
}
