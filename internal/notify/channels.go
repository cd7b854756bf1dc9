package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aucradar/ingest-service/internal/model"
)

var (
	// ErrNoAddress means the recipient has no email address.
	ErrNoAddress = errors.New("recipient has no email address")
	// ErrNoChat means the recipient has no active Telegram profile.
	ErrNoChat = errors.New("recipient has no active telegram profile")
)

// Sender delivers a message on one channel.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, to *model.Recipient, msg Message) error
}

// ─── Email ───────────────────────────────────────────────────────────────────

// Mailer is the outbound mail transport.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, subject, body string) error
}

// EmailSender delivers alerts by mail.
type EmailSender struct {
	mailer Mailer
	from   string
}

// NewEmailSender returns an EmailSender sending as from.
func NewEmailSender(m Mailer, from string) *EmailSender {
	return &EmailSender{mailer: m, from: from}
}

func (e *EmailSender) Channel() model.Channel { return model.ChannelEmail }

func (e *EmailSender) Send(ctx context.Context, to *model.Recipient, msg Message) error {
	if to == nil || to.Email == "" {
		return ErrNoAddress
	}
	return e.mailer.Send(ctx, e.from, []string{to.Email}, msg.Subject, msg.Body)
}

// SMTPMailer sends through an SMTP relay with PLAIN auth when a user is set.
// Every exchange is bounded by Timeout and by the context deadline,
// whichever comes first.
type SMTPMailer struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

const defaultSMTPTimeout = 30 * time.Second

func (m *SMTPMailer) Send(ctx context.Context, from string, to []string, subject, body string) error {
	if m.Host == "" {
		return errors.New("smtp host is not configured")
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}

	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("smtp deadline: %w", err)
	}
	// Cancellation unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if err := m.exchange(c, from, to, composeMail(from, to, subject, body)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send: %w", ctxErr)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) exchange(c *smtp.Client, from string, to []string, msg []byte) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.User != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", m.User, m.Password, m.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}

func composeMail(from string, to []string, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// ─── Telegram ────────────────────────────────────────────────────────────────

// TelegramSender posts alerts through the Bot API sendMessage method.
type TelegramSender struct {
	token   string
	apiBase string
	client  *http.Client
}

// NewTelegramSender returns a sender for the bot token.
func NewTelegramSender(token, apiBase string, timeout time.Duration) *TelegramSender {
	return &TelegramSender{
		token:   token,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *TelegramSender) Channel() model.Channel { return model.ChannelTelegram }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramSender) Send(ctx context.Context, to *model.Recipient, msg Message) error {
	if to == nil || !to.TelegramActive || to.TelegramChatID == "" {
		return ErrNoChat
	}
	if t.token == "" {
		return errors.New("telegram bot token is not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  to.TelegramChatID,
		"text":                     msg.Subject + "\n\n" + msg.Body,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/bot"+t.token+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	var out telegramResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram returned %d: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}
