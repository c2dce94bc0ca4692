package mailparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"github.com/sefisk/10minutemail/internal/domain"
)

// 导出到 headers 字段的白名单。
var headerAllowList = []string{
	"message-id", "date", "from", "to", "cc", "bcc",
	"reply-to", "content-type", "x-mailer", "x-spam-status",
}

// Limits 解析期的大小上限。
type Limits struct {
	MaxAttachmentBytes int64 // 超限附件在解析期丢弃
	MaxHTMLBytes       int64 // HTML 正文超限时置空，记录本身仍然产出
}

// Parsed 原始邮件解析后的规范化记录。
type Parsed struct {
	UID         string
	MessageID   string
	From        string
	Recipients  []domain.Recipient
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	SizeBytes   int64
	ReceivedAt  time.Time
	Attachments []*domain.Attachment
}

// Parser 原始 RFC 5322 字节到规范化记录的适配器。
type Parser struct {
	limits Limits
	log    *zap.Logger
}

// NewParser 创建解析器。
func NewParser(limits Limits, log *zap.Logger) *Parser {
	if limits.MaxAttachmentBytes <= 0 {
		limits.MaxAttachmentBytes = 10 << 20
	}
	if limits.MaxHTMLBytes <= 0 {
		limits.MaxHTMLBytes = 5 << 20
	}
	return &Parser{limits: limits, log: log}
}

// Parse 解析原始邮件，产出带来源 UID 的规范化记录。
func (p *Parser) Parse(raw []byte, uid string) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	parsed := &Parsed{
		UID:         uid,
		MessageID:   strings.Trim(msg.Header.Get("Message-Id"), "<>"),
		From:        senderOf(msg.Header),
		Recipients:  recipientsOf(msg.Header),
		Subject:     decodeHeader(msg.Header.Get("Subject")),
		Headers:     exportHeaders(msg.Header),
		SizeBytes:   int64(len(raw)),
		ReceivedAt:  receivedAtOf(msg.Header),
		Attachments: make([]*domain.Attachment, 0),
	}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := io.ReadAll(msg.Body)
		parsed.Text = string(body)
		p.boundHTML(parsed)
		return parsed, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message without boundary")
		}
		dropped := 0
		mr := multipart.NewReader(msg.Body, boundary)
		if err := p.parseMultipart(mr, parsed, &dropped); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
		if dropped > 0 {
			p.log.Warn("oversize attachments dropped",
				zap.String("uid", uid),
				zap.Int("count", dropped),
			)
		}
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		if strings.HasPrefix(mediaType, "text/html") {
			parsed.HTML = body
		} else {
			parsed.Text = body
		}
	}

	p.boundHTML(parsed)
	return parsed, nil
}

// boundHTML 对 HTML 正文施加解析上限；超限置空但记录仍产出。
func (p *Parser) boundHTML(parsed *Parsed) {
	if int64(len(parsed.HTML)) > p.limits.MaxHTMLBytes {
		p.log.Warn("html body exceeds parse bound, dropped",
			zap.String("uid", parsed.UID),
			zap.Int("size", len(parsed.HTML)),
		)
		parsed.HTML = ""
	}
}

// parseMultipart 递归解析多部分邮件。
func (p *Parser) parseMultipart(mr *multipart.Reader, parsed *Parsed, dropped *int) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 附件判定：显式 disposition，或带文件名参数的部分
		disposition := part.Header.Get("Content-Disposition")
		dispType, dispParams, _ := mime.ParseMediaType(disposition)
		isAttachment := dispType == "attachment" ||
			(dispType == "inline" && dispParams["filename"] != "") ||
			(dispType == "" && params["name"] != "")

		if isAttachment {
			p.collectAttachment(part, mediaType, params, dispParams, parsed, dropped)
			continue
		}

		// 嵌套 multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			boundary := params["boundary"]
			if boundary != "" {
				nested := multipart.NewReader(part, boundary)
				if err := p.parseMultipart(nested, parsed, dropped); err != nil {
					return err
				}
			}
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "text/html") {
			if parsed.HTML == "" {
				parsed.HTML = body
			}
		} else if strings.HasPrefix(mediaType, "text/plain") {
			if parsed.Text == "" {
				parsed.Text = body
			}
		}
	}

	return nil
}

// collectAttachment 读取一个附件部分；超限丢弃并计数。
func (p *Parser) collectAttachment(part *multipart.Part, mediaType string, params, dispParams map[string]string, parsed *Parsed, dropped *int) {
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = "unnamed"
	}
	filename = decodeHeader(filename)

	if part.Header.Get("Content-Type") == "" || mediaType == "" {
		mediaType = "application/octet-stream"
	}

	content, err := io.ReadAll(part)
	if err != nil {
		return
	}

	if enc := strings.ToLower(part.Header.Get("Content-Transfer-Encoding")); enc == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(content)))
		if err == nil {
			content = decoded
		}
	}

	if int64(len(content)) > p.limits.MaxAttachmentBytes {
		*dropped++
		return
	}

	sum := sha256.Sum256(content)
	parsed.Attachments = append(parsed.Attachments, &domain.Attachment{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentType: mediaType,
		SizeBytes:   int64(len(content)),
		ContentID:   strings.Trim(part.Header.Get("Content-Id"), "<>"),
		Checksum:    hex.EncodeToString(sum[:]),
		Content:     content,
	})
}

// senderOf 取 From 头的解析结果；文本形式缺失时取第一个结构化地址。
func senderOf(header mail.Header) string {
	raw := decodeHeader(header.Get("From"))
	if raw != "" {
		return raw
	}
	if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return ""
}

// recipientsOf 按序提取 To 字段的 {address, name} 列表。
func recipientsOf(header mail.Header) []domain.Recipient {
	addrs, err := header.AddressList("To")
	if err != nil || len(addrs) == 0 {
		// 无法结构化解析时保留原始字符串
		if raw := decodeHeader(header.Get("To")); raw != "" {
			return []domain.Recipient{{Address: raw}}
		}
		return nil
	}
	out := make([]domain.Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, domain.Recipient{Address: a.Address, Name: a.Name})
	}
	return out
}

// exportHeaders 按白名单导出头部，值强制转为字符串。
func exportHeaders(header mail.Header) map[string]string {
	out := make(map[string]string, len(headerAllowList))
	for _, key := range headerAllowList {
		if v := header.Get(key); v != "" {
			out[key] = decodeHeader(v)
		}
	}
	return out
}

// receivedAtOf 解析 Date 头；缺失或无法解析时取当前时间。
func receivedAtOf(header mail.Header) time.Time {
	if t, err := header.Date(); err == nil {
		return t
	}
	return time.Now().UTC()
}

// decodeHeader 解码 RFC 2047 编码的头部值。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if enc := getCharsetEncoding(strings.ToLower(charset)); enc != nil {
			return transform.NewReader(input, enc.NewDecoder()), nil
		}
		return input, nil
	}
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// decodeBody 根据传输编码与字符集解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader = reader

	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	case "7bit", "8bit", "binary", "":
		decoded = reader
	default:
		// 未知编码，尝试直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := getCharsetEncoding(charset); enc != nil {
			converted, _, err := transform.Bytes(enc.NewDecoder(), body)
			if err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// getCharsetEncoding 根据字符集名称返回编码器
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}
