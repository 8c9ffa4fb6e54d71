// Package deliver hands rendered reports to recipients. Two channels are
// bundled: an HTTP mail API and Telegram. The dispatcher picks the channel
// from the recipient string (tg:<chat-id> vs an email address).
package deliver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reporthub/internal/pipeline"
	logx "reporthub/pkg/logx"
)

// EmailConfig controls the mail API client.
type EmailConfig struct {
	// BaseURL is the API root, e.g. https://api.sendgrid.com.
	BaseURL string
	APIKey  string

	FromAddress string
	FromName    string

	Timeout time.Duration
}

func (c EmailConfig) withDefaults() EmailConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.sendgrid.com"
	}
	if c.FromName == "" {
		c.FromName = "Report Hub"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Email sends reports through a v3 mail/send style API. Safe for concurrent
// use.
type Email struct {
	cfg  EmailConfig
	http *http.Client
	log  logx.Logger
}

func NewEmail(cfg EmailConfig, log logx.Logger) *Email {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Email{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailAttachment struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Type     string `json:"type,omitempty"`
}

type mailPayload struct {
	Personalizations []struct {
		To []mailAddress `json:"to"`
	} `json:"personalizations"`
	From        mailAddress      `json:"from"`
	Subject     string           `json:"subject"`
	Content     []mailContent    `json:"content"`
	Attachments []mailAttachment `json:"attachments,omitempty"`
}

// Deliver sends the artifact as a multipart mail. The API acknowledges an
// accepted send with 202.
func (e *Email) Deliver(ctx context.Context, recipient string, a pipeline.Artifact) error {
	p := mailPayload{
		From:    mailAddress{Email: e.cfg.FromAddress, Name: e.cfg.FromName},
		Subject: a.Subject,
	}
	p.Personalizations = append(p.Personalizations, struct {
		To []mailAddress `json:"to"`
	}{To: []mailAddress{{Email: recipient}}})
	// Plain text first, html second: mail clients prefer the last part they
	// support.
	if a.Text != "" {
		p.Content = append(p.Content, mailContent{Type: "text/plain", Value: a.Text})
	}
	if a.HTML != "" {
		p.Content = append(p.Content, mailContent{Type: "text/html", Value: a.HTML})
	}
	if len(a.Attachment) > 0 {
		p.Attachments = append(p.Attachments, mailAttachment{
			Content:  base64.StdEncoding.EncodeToString(a.Attachment),
			Filename: a.AttachmentName,
			Type:     a.AttachmentMIME,
		})
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail api: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	e.log.Debug("mail accepted", logx.String("to", recipient), logx.String("subject", a.Subject))
	return nil
}
