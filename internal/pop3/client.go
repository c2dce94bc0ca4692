package pop3

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// State POP3 连接状态机。
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateTransaction
)

// ProtocolError 服务器返回 -ERR 的可恢复协议错误。
type ProtocolError struct {
	Command string
	Reply   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("pop3 %s: server error: %s", e.Command, e.Reply)
}

// TransportError 套接字层失败（连接断开、超时、读写错误）。
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("pop3 %s: transport error: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout 报告传输错误是否由命令超时引起。
func (e *TransportError) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) {
		return ne.Timeout()
	}
	return false
}

// AuthError USER/PASS 被服务器拒绝。
type AuthError struct {
	Reply string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("pop3 authentication failed: %s", e.Reply)
}

// ListEntry LIST 响应的一行。
type ListEntry struct {
	Num  int
	Size int
}

// UIDLEntry UIDL 响应的一行。UID 取第一个空格之后的全部内容。
type UIDLEntry struct {
	Num int
	UID string
}

// Options 单个连接的拨号与超时参数。
type Options struct {
	Host           string
	Port           int
	TLS            bool
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Client 单连接的 RFC 1939 客户端。
//
// 同一时刻只允许一条在途命令，从不流水线。每条命令受
// CommandTimeout 约束；超时即销毁套接字并上抛传输错误，本层
// 不做任何重试（重试属于连接池）。
type Client struct {
	conn  net.Conn
	r     *bufio.Reader
	opts  Options
	state State
	log   *zap.Logger
}

// Dial 建立到服务器的连接并读取问候行。
//
// TLS 模式下接受自签名证书（大量邮件服务商使用自签名），
// 非 +OK 的问候导致立即拒绝。
func Dial(opts Options, log *zap.Logger) (*Client, error) {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	nc, err := net.DialTimeout("tcp", addr, opts.ConnectTimeout)
	if err != nil {
		return nil, &TransportError{Command: "CONNECT", Err: err}
	}

	if opts.TLS {
		tlsConn := tls.Client(nc, &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: true, // 邮件服务商普遍使用自签名证书
		})
		if err := tlsConn.SetDeadline(time.Now().Add(opts.ConnectTimeout)); err == nil {
			if err := tlsConn.Handshake(); err != nil {
				nc.Close()
				return nil, &TransportError{Command: "CONNECT", Err: err}
			}
			_ = tlsConn.SetDeadline(time.Time{})
		}
		nc = tlsConn
	}

	c := &Client{
		conn:  nc,
		r:     bufio.NewReader(nc),
		opts:  opts,
		state: StateConnected,
		log:   log.With(zap.String("host", opts.Host), zap.Int("port", opts.Port)),
	}

	greeting, err := c.readStatusLine("GREETING")
	if err != nil {
		c.destroy()
		return nil, err
	}
	c.log.Debug("pop3 connected", zap.String("greeting", greeting))
	return c, nil
}

// State 返回当前连接状态。
func (c *Client) State() State {
	return c.state
}

// Auth 执行 USER/PASS 认证。任何非 +OK 响应视为认证失败。
func (c *Client) Auth(user, pass string) error {
	if _, err := c.single("USER", "USER "+user); err != nil {
		return authFailed(err)
	}
	if _, err := c.single("PASS", "PASS "+pass); err != nil {
		return authFailed(err)
	}
	c.state = StateAuthenticated
	c.log.Debug("pop3 authenticated")
	return nil
}

func authFailed(err error) error {
	if pe, ok := err.(*ProtocolError); ok {
		return &AuthError{Reply: pe.Reply}
	}
	return err
}

// Stat 返回邮箱中的邮件数量与总字节数。
func (c *Client) Stat() (count, size int, err error) {
	reply, err := c.single("STAT", "STAT")
	if err != nil {
		return 0, 0, err
	}
	if _, err := fmt.Sscanf(reply, "%d %d", &count, &size); err != nil {
		return 0, 0, &ProtocolError{Command: "STAT", Reply: reply}
	}
	return count, size, nil
}

// List 返回全部邮件的 (序号, 大小) 列表。
func (c *Client) List() ([]ListEntry, error) {
	lines, err := c.multi("LIST", "LIST")
	if err != nil {
		return nil, err
	}
	entries := make([]ListEntry, 0, len(lines))
	for _, line := range lines {
		var e ListEntry
		if _, err := fmt.Sscanf(string(line), "%d %d", &e.Num, &e.Size); err != nil {
			return nil, &ProtocolError{Command: "LIST", Reply: string(line)}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Uidl 返回全部邮件的 (序号, UID) 列表，保持服务器顺序。
func (c *Client) Uidl() ([]UIDLEntry, error) {
	lines, err := c.multi("UIDL", "UIDL")
	if err != nil {
		return nil, err
	}
	entries := make([]UIDLEntry, 0, len(lines))
	for _, raw := range lines {
		line := string(raw)
		sp := strings.IndexByte(line, ' ')
		if sp <= 0 {
			return nil, &ProtocolError{Command: "UIDL", Reply: line}
		}
		num, err := strconv.Atoi(line[:sp])
		if err != nil {
			return nil, &ProtocolError{Command: "UIDL", Reply: line}
		}
		entries = append(entries, UIDLEntry{Num: num, UID: line[sp+1:]})
	}
	return entries, nil
}

// Retr 取回第 num 封邮件的原始 RFC 5322 字节（含头部与正文）。
func (c *Client) Retr(num int) ([]byte, error) {
	lines, err := c.multi("RETR", fmt.Sprintf("RETR %d", num))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteString("\r\n")
	}
	return buf.Bytes(), nil
}

// Dele 标记第 num 封邮件删除。
func (c *Client) Dele(num int) error {
	_, err := c.single("DELE", fmt.Sprintf("DELE %d", num))
	return err
}

// Rset 撤销本会话的全部删除标记。
func (c *Client) Rset() error {
	_, err := c.single("RSET", "RSET")
	return err
}

// Noop 空操作，保持连接。
func (c *Client) Noop() error {
	_, err := c.single("NOOP", "NOOP")
	return err
}

// Quit 结束会话并关闭连接。
func (c *Client) Quit() error {
	_, err := c.single("QUIT", "QUIT")
	c.destroy()
	return err
}

// Close 不经 QUIT 直接销毁套接字。
func (c *Client) Close() {
	c.destroy()
}

func (c *Client) destroy() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.state = StateDisconnected
}

// single 发送单行命令并读取单行响应。
func (c *Client) single(name, cmd string) (string, error) {
	if err := c.send(name, cmd); err != nil {
		return "", err
	}
	return c.readStatusLine(name)
}

// multi 发送命令并读取多行响应体。
//
// 响应以状态行开始，正文行以 CRLF "." CRLF 终结；正文行的前导
// ".." 还原为 "."（dot-unstuffing）。
func (c *Client) multi(name, cmd string) ([][]byte, error) {
	if err := c.send(name, cmd); err != nil {
		return nil, err
	}
	if _, err := c.readStatusLine(name); err != nil {
		return nil, err
	}

	var lines [][]byte
	for {
		line, err := c.readLine(name)
		if err != nil {
			return nil, err
		}
		if len(line) == 1 && line[0] == '.' {
			// 终止行，不属于正文
			return lines, nil
		}
		if len(line) >= 2 && line[0] == '.' && line[1] == '.' {
			line = line[1:]
		}
		lines = append(lines, line)
	}
}

// send 写出一条命令并启动本命令的超时计时。
func (c *Client) send(name, cmd string) error {
	if c.state == StateDisconnected {
		return &TransportError{Command: name, Err: fmt.Errorf("connection closed")}
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.opts.CommandTimeout)); err != nil {
		return &TransportError{Command: name, Err: err}
	}
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.destroy()
		return &TransportError{Command: name, Err: err}
	}
	return nil
}

// readStatusLine 读取 +OK / -ERR 状态行。
func (c *Client) readStatusLine(name string) (string, error) {
	line, err := c.readLine(name)
	if err != nil {
		return "", err
	}
	s := string(line)
	switch {
	case strings.HasPrefix(s, "+OK"):
		return strings.TrimPrefix(strings.TrimPrefix(s, "+OK"), " "), nil
	case strings.HasPrefix(s, "-ERR"):
		return "", &ProtocolError{Command: name, Reply: strings.TrimPrefix(strings.TrimPrefix(s, "-ERR"), " ")}
	default:
		return "", &ProtocolError{Command: name, Reply: s}
	}
}

// readLine 读取一行（去掉 CRLF）。任何读错误销毁套接字。
func (c *Client) readLine(name string) ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		c.destroy()
		return nil, &TransportError{Command: name, Err: err}
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}
