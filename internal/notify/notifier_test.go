package notify

import (
	"context"
	"errors"
	"mime"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/erazemk/najdeno/internal/model"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func notice() model.MatchNotice {
	return model.MatchNotice{
		Recipient: model.Contact{UserID: 1, Name: "Ana", Email: "ana@example.com"},
		Item:      model.Item{ID: 1, Type: model.ItemTypeLost, Title: "My backpack"},
		Counterpart: model.Item{
			ID:          42,
			Type:        model.ItemTypeFound,
			Title:       "Red backpack <found>",
			Description: "Found a red backpack near the park",
			Location:    "Tivoli park",
			ImageURL:    "https://img.example.com/42.jpg",
			CreatedAt:   time.Date(2026, 10, 1, 14, 30, 0, 0, time.UTC),
		},
		Similarity: 0.81234,
	}
}

func TestRenderMatchEmail(t *testing.T) {
	n := NewNotifier(&recordingMailer{}, "https://najdeno.example.com/", "")
	msg, err := n.Render(notice())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if msg.From != DefaultFrom {
		t.Errorf("expected default sender, got %q", msg.From)
	}
	if !strings.Contains(msg.Subject, "My backpack") {
		t.Errorf("unexpected subject %q", msg.Subject)
	}

	for _, want := range []string{
		"Red backpack &lt;found&gt;",
		"Found a red backpack near the park",
		"Tivoli park",
		"2026-10-01 14:30",
		"0.812",
		`href="https://najdeno.example.com/items/42"`,
		`src="https://img.example.com/42.jpg"`,
	} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("HTML body missing %q", want)
		}
	}
	if strings.Contains(msg.HTML, "0.8123") {
		t.Error("similarity must be formatted with 3 decimals")
	}
	if !strings.Contains(msg.Text, "https://najdeno.example.com/items/42") {
		t.Error("text body missing deep link")
	}
}

func TestRenderWithoutOptionalFields(t *testing.T) {
	n := NewNotifier(&recordingMailer{}, "", "")
	nt := notice()
	nt.Counterpart.ImageURL = ""
	nt.Counterpart.Location = ""

	msg, err := n.Render(nt)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(msg.HTML, "<img") || strings.Contains(msg.HTML, "Location") {
		t.Error("expected image and location to be omitted")
	}
	if !strings.Contains(msg.HTML, "http://localhost:8080/items/42") {
		t.Error("expected default base url in deep link")
	}
}

func TestNotifyMatchDeliveryError(t *testing.T) {
	boom := errors.New("connection refused")
	n := NewNotifier(&recordingMailer{err: boom}, "", "")

	err := n.NotifyMatch(context.Background(), notice())
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.Recipient != "ana@example.com" || !errors.Is(err, boom) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestNotifyMatchInvalidAddress(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m, "", "")
	nt := notice()
	nt.Recipient.Email = "not an address"

	var de *DeliveryError
	if err := n.NotifyMatch(context.Background(), nt); !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if len(m.sent) != 0 {
		t.Error("expected nothing sent for invalid address")
	}
}

func TestBuildMessage(t *testing.T) {
	raw := string(build(Message{
		From:    "najdeno@example.com",
		To:      "ana@example.com",
		ToName:  "Ana",
		Subject: "Hello\r\nBcc: evil@example.com",
		Text:    "plain",
		HTML:    "<p>html</p>",
	}, time.Now()))

	for _, want := range []string{
		"From: \"Najdeno\" <najdeno@example.com>\r\n",
		"To: \"Ana\" <ana@example.com>\r\n",
		"Subject: Hello  Bcc: evil@example.com\r\n",
		"@example.com>\r\n",
		"multipart/alternative",
		"text/plain; charset=UTF-8",
		"<p>html</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if strings.Contains(raw, "\r\nBcc:") {
		t.Error("header injection not neutralized")
	}
}

func TestBuildMessageParsesBack(t *testing.T) {
	raw := build(Message{
		From:    "najdeno@example.com",
		To:      "ana.novak@example.com",
		ToName:  "Novak, Ana",
		Subject: "Izgubljena denarnica Čš",
		Text:    "plain",
		HTML:    "<p>html</p>",
	}, time.Now())

	parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	to, err := parsed.Header.AddressList("To")
	if err != nil {
		t.Fatalf("To header: %v", err)
	}
	if len(to) != 1 || to[0].Name != "Novak, Ana" || to[0].Address != "ana.novak@example.com" {
		t.Errorf("To = %+v", to)
	}

	from, err := parsed.Header.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Address != "najdeno@example.com" {
		t.Errorf("From = %+v, %v", from, err)
	}

	rawSubject := parsed.Header.Get("Subject")
	for _, r := range rawSubject {
		if r > 127 {
			t.Fatalf("subject header carries raw 8-bit text: %q", rawSubject)
		}
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(rawSubject)
	if err != nil {
		t.Fatalf("decoding subject: %v", err)
	}
	if subject != "Izgubljena denarnica Čš" {
		t.Errorf("subject = %q", subject)
	}
}
