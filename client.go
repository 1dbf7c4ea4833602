package nntpclient

import (
	"context"
	"fmt"
	"io"

	"github.com/skjaere/go-nntp-client/protocol"
	"github.com/skjaere/go-nntp-client/yenc"
)

// Client is a thin, typed wrapper over a single Connection: each method
// formats one command, issues it, and parses the result into the matching
// record type. It holds no state of its own beyond the connection.
type Client struct {
	conn *Connection
}

// NewClient wraps an already-dialed Connection.
func NewClient(conn *Connection) *Client {
	return &Client{conn: conn}
}

// Group selects a newsgroup.
func (c *Client) Group(ctx context.Context, name string) (Group, error) {
	resp, err := c.conn.command(ctx, "GROUP "+name)
	if err != nil {
		return Group{}, err
	}
	if resp.Code != codeGroupSelected {
		return Group{}, newProtocolError("GROUP %s: %d %s", name, resp.Code, resp.Message)
	}
	g, err := protocol.ParseGroupResponseLine(fmt.Sprintf("%d %s", resp.Code, resp.Message))
	if err != nil {
		return Group{}, newProtocolError("malformed GROUP response: %v", err)
	}
	return Group{Code: g.Code, Message: g.Message, Count: g.Count, Low: g.Low, High: g.High, Name: g.Name}, nil
}

// ListGroup selects a newsgroup and returns its article number list.
func (c *Client) ListGroup(ctx context.Context, name string) (ListGroup, error) {
	cmd := "LISTGROUP"
	if name != "" {
		cmd += " " + name
	}
	resp, lines, err := c.conn.commandMultiLine(ctx, cmd)
	if err != nil {
		return ListGroup{}, err
	}
	if resp.Code != codeGroupSelected {
		return ListGroup{}, newProtocolError("LISTGROUP %s: %d %s", name, resp.Code, resp.Message)
	}
	g, err := protocol.ParseGroupResponseLine(fmt.Sprintf("%d %s", resp.Code, resp.Message))
	if err != nil {
		return ListGroup{}, newProtocolError("malformed LISTGROUP status: %v", err)
	}
	numbers := make([]int64, 0, len(lines))
	for _, line := range lines {
		var n int64
		if _, err := fmt.Sscanf(line, "%d", &n); err == nil {
			numbers = append(numbers, n)
		}
	}
	return ListGroup{
		Group:    Group{Code: g.Code, Message: g.Message, Count: g.Count, Low: g.Low, High: g.High, Name: g.Name},
		Articles: numbers,
	}, nil
}

// articleFamily issues article|head|body and requires wantCode, mapping
// 430/423 to ArticleNotFound.
func (c *Client) articleFamily(ctx context.Context, verb string, id string, wantCode int) (Article, error) {
	cmd := verb
	if id != "" {
		cmd += " " + id
	}
	resp, lines, err := c.conn.commandMultiLine(ctx, cmd)
	if err != nil {
		return Article{}, err
	}
	switch resp.Code {
	case wantCode:
	case codeArticleNoSuch, codeArticleBadRange:
		return Article{}, &ArticleNotFound{Code: resp.Code, Message: resp.Message}
	default:
		return Article{}, newProtocolError("%s: %d %s", verb, resp.Code, resp.Message)
	}

	ar, err := protocol.ParseArticleResponseLine(fmt.Sprintf("%d %s", resp.Code, resp.Message))
	if err != nil {
		return Article{}, newProtocolError("malformed %s response: %v", verb, err)
	}
	return Article{
		Code:       ar.Code,
		Message:    ar.Message,
		ArticleNum: ar.ArticleNum,
		MessageID:  ar.MessageID,
		Lines:      lines,
	}, nil
}

// Article fetches the full article (headers and body).
func (c *Client) Article(ctx context.Context, id string) (Article, error) {
	return c.articleFamily(ctx, "ARTICLE", id, codeArticleFollows)
}

// Head fetches only the article's headers.
func (c *Client) Head(ctx context.Context, id string) (Article, error) {
	return c.articleFamily(ctx, "HEAD", id, codeHeadFollows)
}

// statFamily issues stat|next|last, mapping codes to the sealed Stat result.
func (c *Client) statFamily(ctx context.Context, verb string, id string) (Stat, error) {
	cmd := verb
	if id != "" {
		cmd += " " + id
	}
	resp, err := c.conn.command(ctx, cmd)
	if err != nil {
		return nil, err
	}
	switch resp.Code {
	case codeStatFound:
		ar, err := protocol.ParseArticleResponseLine(fmt.Sprintf("%d %s", resp.Code, resp.Message))
		if err != nil {
			return nil, newProtocolError("malformed %s response: %v", verb, err)
		}
		return statFound{number: ar.ArticleNum, messageID: ar.MessageID}, nil
	case codeArticleNoSuch, codeArticleBadRange, codeNoArticleSelected, codeNoPrevNextArticle, codeNoNextArticleSameSize:
		return statNotFound{code: resp.Code, message: resp.Message}, nil
	default:
		return nil, newProtocolError("%s: %d %s", verb, resp.Code, resp.Message)
	}
}

// Stat issues the STAT command.
func (c *Client) Stat(ctx context.Context, id string) (Stat, error) {
	return c.statFamily(ctx, "STAT", id)
}

// Next advances to the next article in the selected group.
func (c *Client) Next(ctx context.Context) (Stat, error) {
	return c.statFamily(ctx, "NEXT", "")
}

// Last moves to the previous article in the selected group.
func (c *Client) Last(ctx context.Context) (Stat, error) {
	return c.statFamily(ctx, "LAST", "")
}

// BodyRaw fetches an article body as plain dot-unstuffed text lines.
func (c *Client) BodyRaw(ctx context.Context, id string) (Article, error) {
	return c.articleFamily(ctx, "BODY", id, codeBodyFollows)
}

// YencBody is the decoded form of a yEnc BODY fetch: the parsed control
// headers plus a stream the caller reads at its own pace.
type YencBody struct {
	Headers yenc.Headers
	io.ReadCloser
}

// BodyYenc fetches an article body and decodes it incrementally as yEnc,
// returning the parsed headers and a stream of decoded bytes. The caller
// must drain or Close the returned stream exactly once.
func (c *Client) BodyYenc(ctx context.Context, id string) (YencBody, error) {
	cmd := "BODY"
	if id != "" {
		cmd += " " + id
	}
	resp, lock, err := c.conn.commandRaw(ctx, cmd)
	if err != nil {
		return YencBody{}, err
	}
	switch resp.Code {
	case codeBodyFollows:
	case codeArticleNoSuch, codeArticleBadRange:
		lock.Release()
		return YencBody{}, &ArticleNotFound{Code: resp.Code, Message: resp.Message}
	default:
		lock.Release()
		return YencBody{}, newProtocolError("BODY: %d %s", resp.Code, resp.Message)
	}

	h, body, err := yenc.DecodeBody(c.conn, lock)
	if err != nil {
		return YencBody{}, translateYencError(err)
	}
	return YencBody{Headers: h, ReadCloser: &translatingReadCloser{inner: body}}, nil
}

// translatingReadCloser maps yenc package errors onto this package's
// taxonomy as they surface from Read, so callers never see a raw
// *yenc.CrcMismatchError or *yenc.MalformedError.
type translatingReadCloser struct {
	inner io.ReadCloser
}

func (r *translatingReadCloser) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if err != nil && err != io.EOF {
		return n, translateYencError(err)
	}
	return n, err
}

func (r *translatingReadCloser) Close() error {
	return r.inner.Close()
}

// Post sends an article via the POST command: send POST, require 340, then
// write body lines terminated by a bare ".".
func (c *Client) Post(ctx context.Context, lines []string) (Response, error) {
	return c.sendBody(ctx, "POST", codePostSendBody, lines)
}

// IHave offers an article via the IHAVE command.
func (c *Client) IHave(ctx context.Context, messageID string, lines []string) (Response, error) {
	return c.sendBody(ctx, "IHAVE "+messageID, codeIhaveSendBody, lines)
}

func (c *Client) sendBody(ctx context.Context, cmd string, wantSendCode int, lines []string) (Response, error) {
	if err := c.conn.ensureConnected(ctx); err != nil {
		return Response{}, err
	}
	c.conn.commandLock.Lock()
	defer c.conn.commandLock.Unlock()
	c.conn.setDeadline(ctx)

	resp, err := c.conn.doCommand(cmd)
	if err != nil {
		return Response{}, err
	}
	if resp.Code != wantSendCode {
		return resp, nil
	}

	for _, line := range lines {
		if err := c.conn.writeLine(stuffLine(line)); err != nil {
			c.conn.scheduleReconnect()
			return Response{}, err
		}
	}
	if err := c.conn.writeLine("."); err != nil {
		c.conn.scheduleReconnect()
		return Response{}, err
	}

	final, err := c.conn.readStatus()
	if err != nil {
		c.conn.scheduleReconnect()
		return Response{}, err
	}
	return final, nil
}

func stuffLine(line string) string {
	if len(line) > 0 && line[0] == '.' {
		return "." + line
	}
	return line
}

// Date issues the DATE command, used by the pool as a keepalive probe.
func (c *Client) Date(ctx context.Context) (Response, error) {
	resp, err := c.conn.command(ctx, "DATE")
	if err != nil {
		return Response{}, err
	}
	if resp.Code != codeDate {
		return resp, newProtocolError("DATE: %d %s", resp.Code, resp.Message)
	}
	return resp, nil
}

// Capabilities issues the CAPABILITIES command.
func (c *Client) Capabilities(ctx context.Context) ([]string, error) {
	resp, lines, err := c.conn.commandMultiLine(ctx, "CAPABILITIES")
	if err != nil {
		return nil, err
	}
	if resp.Code != codeCapabilities {
		return nil, newProtocolError("CAPABILITIES: %d %s", resp.Code, resp.Message)
	}
	return lines, nil
}

// ModeReader issues MODE READER.
func (c *Client) ModeReader(ctx context.Context) (Response, error) {
	resp, err := c.conn.command(ctx, "MODE READER")
	if err != nil {
		return Response{}, err
	}
	if resp.Code != codeWelcomeNoPosting && resp.Code != codeWelcomePosting {
		return resp, newProtocolError("MODE READER: %d %s", resp.Code, resp.Message)
	}
	return resp, nil
}

// Help issues the HELP command.
func (c *Client) Help(ctx context.Context) ([]string, error) {
	resp, lines, err := c.conn.commandMultiLine(ctx, "HELP")
	if err != nil {
		return nil, err
	}
	if resp.Code != codeHelp {
		return nil, newProtocolError("HELP: %d %s", resp.Code, resp.Message)
	}
	return lines, nil
}

// Over issues OVER for a range, returning the server's raw tab-separated
// overview lines.
func (c *Client) Over(ctx context.Context, rangeSpec string) ([]string, error) {
	return c.rawOverview(ctx, "OVER", rangeSpec)
}

// XOver is the older alias for Over.
func (c *Client) XOver(ctx context.Context, rangeSpec string) ([]string, error) {
	return c.rawOverview(ctx, "XOVER", rangeSpec)
}

func (c *Client) rawOverview(ctx context.Context, verb, rangeSpec string) ([]string, error) {
	cmd := verb
	if rangeSpec != "" {
		cmd += " " + rangeSpec
	}
	resp, lines, err := c.conn.commandMultiLine(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if resp.Code != codeOverviewFollows {
		return nil, newProtocolError("%s: %d %s", verb, resp.Code, resp.Message)
	}
	return lines, nil
}

// Hdr issues HDR for a header field over a range.
func (c *Client) Hdr(ctx context.Context, field, rangeSpec string) ([]string, error) {
	return c.rawHdr(ctx, "HDR", field, rangeSpec)
}

// XHdr is the older alias for Hdr.
func (c *Client) XHdr(ctx context.Context, field, rangeSpec string) ([]string, error) {
	return c.rawHdr(ctx, "XHDR", field, rangeSpec)
}

func (c *Client) rawHdr(ctx context.Context, verb, field, rangeSpec string) ([]string, error) {
	cmd := verb + " " + field
	if rangeSpec != "" {
		cmd += " " + rangeSpec
	}
	resp, lines, err := c.conn.commandMultiLine(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if resp.Code != codeHdrFollows && resp.Code != codeOverviewFollows {
		return nil, newProtocolError("%s: %d %s", verb, resp.Code, resp.Message)
	}
	return lines, nil
}

// List issues LIST, optionally with a keyword/wildmat argument.
func (c *Client) List(ctx context.Context, args string) ([]string, error) {
	cmd := "LIST"
	if args != "" {
		cmd += " " + args
	}
	resp, lines, err := c.conn.commandMultiLine(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if resp.Code != codeListFollows {
		return nil, newProtocolError("LIST: %d %s", resp.Code, resp.Message)
	}
	return lines, nil
}

// NewGroups issues NEWGROUPS.
func (c *Client) NewGroups(ctx context.Context, date, timeOfDay string) ([]string, error) {
	resp, lines, err := c.conn.commandMultiLine(ctx, "NEWGROUPS "+date+" "+timeOfDay)
	if err != nil {
		return nil, err
	}
	if resp.Code != codeNewGroupsFollows {
		return nil, newProtocolError("NEWGROUPS: %d %s", resp.Code, resp.Message)
	}
	return lines, nil
}

// NewNews issues NEWNEWS.
func (c *Client) NewNews(ctx context.Context, wildmat, date, timeOfDay string) ([]string, error) {
	resp, lines, err := c.conn.commandMultiLine(ctx, "NEWNEWS "+wildmat+" "+date+" "+timeOfDay)
	if err != nil {
		return nil, err
	}
	if resp.Code != codeNewNewsFollows {
		return nil, newProtocolError("NEWNEWS: %d %s", resp.Code, resp.Message)
	}
	return lines, nil
}

// Quit issues QUIT and closes the underlying connection regardless of the
// server's response.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.conn.command(ctx, "QUIT")
	c.conn.Close()
	return err
}
