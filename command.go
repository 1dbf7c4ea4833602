package nntpclient

import (
	"context"
	"io"
	"strings"

	"github.com/skjaere/go-nntp-client/protocol"
	"github.com/skjaere/go-nntp-client/yenc"
)

// readLine decodes bytes as UTF-8 up to the next CRLF and returns the
// content without its terminator. Used for status and command lines.
func (c *Connection) readLine() (string, error) {
	_, reader, _ := c.io()
	line, err := reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return "", newConnectionError("read", ErrConnectionClosed)
		}
		return "", newConnectionError("read", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readRawLine is identical framing to readLine but returns raw bytes
// without UTF-8 decoding, since yEnc bytes can be invalid UTF-8.
func (c *Connection) readRawLine() ([]byte, error) {
	_, reader, _ := c.io()
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			return nil, newConnectionError("read", ErrConnectionClosed)
		}
		return nil, newConnectionError("read", err)
	}
	line = trimCRLFBytes(line)
	return line, nil
}

func trimCRLFBytes(b []byte) []byte {
	b = bytesTrimSuffix(b, "\n")
	b = bytesTrimSuffix(b, "\r")
	return b
}

func bytesTrimSuffix(b []byte, suffix string) []byte {
	if len(b) > 0 && len(suffix) == 1 && b[len(b)-1] == suffix[0] {
		return b[:len(b)-1]
	}
	return b
}

// readMultiLineBody reads lines until one that is exactly ".", applying
// dot-unstuffing to every line along the way.
func (c *Connection) readMultiLineBody() ([]string, error) {
	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			return lines, nil
		}
		lines = append(lines, protocol.Unstuff(line))
	}
}

// writeLine appends CRLF to cmd and flushes it to the socket.
func (c *Connection) writeLine(cmd string) error {
	_, _, writer := c.io()
	if _, err := writer.WriteString(cmd); err != nil {
		return newConnectionError("write", err)
	}
	if _, err := writer.WriteString("\r\n"); err != nil {
		return newConnectionError("write", err)
	}
	if err := writer.Flush(); err != nil {
		return newConnectionError("write", err)
	}
	return nil
}

func (c *Connection) readStatus() (Response, error) {
	line, err := c.readLine()
	if err != nil {
		return Response{}, err
	}
	return parseResponseLine(line)
}

func parseResponseLine(line string) (Response, error) {
	r, err := protocol.ParseResponseLine(line)
	if err != nil {
		return Response{}, newProtocolError("malformed status line: %q", line)
	}
	return Response{Code: r.Code, Message: r.Message}, nil
}

// command acquires the command lock, awaits any pending reconnect, writes
// cmd, reads the status line, and releases the lock.
func (c *Connection) command(ctx context.Context, cmd string) (Response, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return Response{}, err
	}
	c.commandLock.Lock()
	defer c.commandLock.Unlock()
	c.setDeadline(ctx)

	return c.doCommand(cmd)
}

func (c *Connection) doCommand(cmd string) (Response, error) {
	if err := c.writeLine(cmd); err != nil {
		c.scheduleReconnect()
		return Response{}, err
	}
	resp, err := c.readStatus()
	if err != nil {
		c.scheduleReconnect()
		return Response{}, err
	}
	return resp, nil
}

// commandMultiLine writes cmd, reads the status, and — if the status code
// is in [100,299] — reads a dot-terminated multi-line body.
func (c *Connection) commandMultiLine(ctx context.Context, cmd string) (Response, []string, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return Response{}, nil, err
	}
	c.commandLock.Lock()
	defer c.commandLock.Unlock()
	c.setDeadline(ctx)

	resp, err := c.doCommand(cmd)
	if err != nil {
		return Response{}, nil, err
	}
	if resp.Code < 100 || resp.Code > 299 {
		return resp, nil, nil
	}
	lines, err := c.readMultiLineBody()
	if err != nil {
		c.scheduleReconnect()
		return Response{}, nil, err
	}
	return resp, lines, nil
}

// connLock implements yenc.Lock by wrapping the already-held commandLock:
// ownership is transferred to the yEnc pipeline by commandRaw, which does
// not itself unlock.
type connLock struct {
	conn *Connection
}

func (l connLock) Release() {
	l.conn.commandLock.Unlock()
}

func (l connLock) ReleaseAndReconnect() {
	l.conn.scheduleReconnect()
	l.conn.commandLock.Unlock()
}

// commandRaw writes cmd, reads the status, and returns without releasing
// the command lock — ownership passes to the caller (the yEnc pipeline),
// who must call Release or ReleaseAndReconnect on the returned lock exactly
// once.
func (c *Connection) commandRaw(ctx context.Context, cmd string) (Response, yenc.Lock, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return Response{}, nil, err
	}
	c.commandLock.Lock()
	c.setDeadline(ctx)

	resp, err := c.doCommand(cmd)
	if err != nil {
		c.commandLock.Unlock()
		return Response{}, nil, err
	}
	return resp, connLock{conn: c}, nil
}

// ReadLine, ReadRawLine and ReadRaw implement yenc.Socket, letting the
// yEnc body pipeline drive this connection's raw byte channel directly
// once commandRaw has transferred lock ownership to it.
func (c *Connection) ReadLine() (string, error) {
	return c.readLine()
}

func (c *Connection) ReadRawLine() ([]byte, error) {
	return c.readRawLine()
}

func (c *Connection) ReadRaw(buf []byte) (int, error) {
	_, reader, _ := c.io()
	n, err := reader.Read(buf)
	if err != nil {
		return n, newConnectionError("read", err)
	}
	return n, nil
}
