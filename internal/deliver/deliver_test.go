package deliver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"reporthub/internal/pipeline"
	logx "reporthub/pkg/logx"
)

var testArtifact = pipeline.Artifact{
	Subject: "Data Analysis Report - Sales - 2026-03-15",
	HTML:    "<html><body>report</body></html>",
	Text:    "report",
}

func TestEmailDeliver(t *testing.T) {
	t.Parallel()
	var got mailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sg-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := NewEmail(EmailConfig{
		BaseURL:     srv.URL,
		APIKey:      "sg-key",
		FromAddress: "reports@example.com",
	}, logx.Nop())
	if err := e.Deliver(context.Background(), "ops@example.com", testArtifact); err != nil {
		t.Fatal(err)
	}

	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "ops@example.com" {
		t.Fatalf("personalizations = %+v", got.Personalizations)
	}
	if got.Subject != testArtifact.Subject {
		t.Fatalf("subject = %q", got.Subject)
	}
	if len(got.Content) != 2 || got.Content[0].Type != "text/plain" || got.Content[1].Type != "text/html" {
		t.Fatalf("content = %+v", got.Content)
	}
	if got.From.Email != "reports@example.com" {
		t.Fatalf("from = %+v", got.From)
	}
}

func TestEmailDeliverRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad api key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := NewEmail(EmailConfig{BaseURL: srv.URL, APIKey: "bad"}, logx.Nop())
	err := e.Deliver(context.Background(), "ops@example.com", testArtifact)
	if err == nil || !strings.Contains(err.Error(), "http 401") {
		t.Fatalf("err = %v", err)
	}
}

type fakeBot struct {
	sent []any
	to   []tele.Recipient
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.to = append(f.to, to)
	f.sent = append(f.sent, what)
	return &tele.Message{}, nil
}

func TestTelegramDeliver(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	tg := &Telegram{bot: bot, log: logx.Nop()}

	if err := tg.Deliver(context.Background(), "tg:123456", testArtifact); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("sent %d messages, want text + document", len(bot.sent))
	}
	if bot.to[0].Recipient() != "123456" {
		t.Fatalf("recipient = %q", bot.to[0].Recipient())
	}
	text, ok := bot.sent[0].(string)
	if !ok || !strings.HasPrefix(text, testArtifact.Subject) {
		t.Fatalf("first send = %#v", bot.sent[0])
	}
	doc, ok := bot.sent[1].(*tele.Document)
	if !ok || doc.FileName != "report.html" {
		t.Fatalf("second send = %#v", bot.sent[1])
	}
}

func TestTelegramTruncatesLongText(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	tg := &Telegram{bot: bot, log: logx.Nop()}

	long := testArtifact
	long.HTML = ""
	long.Text = strings.Repeat("x", 8000)
	if err := tg.Deliver(context.Background(), "tg:1", long); err != nil {
		t.Fatal(err)
	}
	if got := len(bot.sent[0].(string)); got > chatMessageLimit {
		t.Fatalf("message length = %d, over the limit", got)
	}
}

func TestTelegramBadRecipient(t *testing.T) {
	t.Parallel()
	tg := &Telegram{bot: &fakeBot{}, log: logx.Nop()}
	if err := tg.Deliver(context.Background(), "tg:not-a-number", testArtifact); err == nil {
		t.Fatal("want error for bad chat id")
	}
}

type recordingDeliverer struct {
	called int
	err    error
}

func (r *recordingDeliverer) Deliver(context.Context, string, pipeline.Artifact) error {
	r.called++
	return r.err
}

func TestDispatcherRoutes(t *testing.T) {
	t.Parallel()
	mail := &recordingDeliverer{}
	tg := &recordingDeliverer{}
	d := NewDispatcher(mail, tg)

	if err := d.Deliver(context.Background(), "ops@example.com", testArtifact); err != nil {
		t.Fatal(err)
	}
	if err := d.Deliver(context.Background(), "tg:42", testArtifact); err != nil {
		t.Fatal(err)
	}
	if mail.called != 1 || tg.called != 1 {
		t.Fatalf("mail=%d tg=%d", mail.called, tg.called)
	}

	if err := d.Deliver(context.Background(), "carrier-pigeon", testArtifact); err == nil {
		t.Fatal("want error for unknown channel")
	}
}

func TestDispatcherUnconfiguredChannel(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&recordingDeliverer{}, nil)
	err := d.Deliver(context.Background(), "tg:42", testArtifact)
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v", err)
	}
}

func TestChatID(t *testing.T) {
	t.Parallel()
	if id, err := chatID("tg: -100200300 "); err != nil || id != -100200300 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	if _, err := chatID("ops@example.com"); err == nil {
		t.Fatal("want error for non-telegram recipient")
	}
}
