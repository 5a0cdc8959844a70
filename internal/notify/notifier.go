package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	texttemplate "text/template"

	"github.com/erazemk/najdeno/internal/model"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/match.html"))
	textTmpl = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/match.txt"))
)

// Defaults for externally supplied settings.
const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultFrom    = "najdeno@localhost"
)

// DeliveryError reports a failed notification to one recipient.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notifying %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Notifier renders match emails and hands them to a Mailer.
type Notifier struct {
	Mailer  Mailer
	BaseURL string
	From    string
}

// NewNotifier returns a notifier, applying defaults to empty settings.
func NewNotifier(m Mailer, baseURL, from string) *Notifier {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if from == "" {
		from = DefaultFrom
	}
	return &Notifier{Mailer: m, BaseURL: strings.TrimRight(baseURL, "/"), From: from}
}

type matchEmail struct {
	RecipientName   string
	ItemType        string
	ItemTitle       string
	CounterpartType string
	Title           string
	Description     string
	Location        string
	ImageURL        string
	Created         string
	Similarity      string
	Link            string
}

// ItemURL returns the deep link to an item page.
func (n *Notifier) ItemURL(id int64) string {
	return fmt.Sprintf("%s/items/%d", n.BaseURL, id)
}

// NotifyMatch emails the recipient of notice about the matched counterpart.
// Failures are returned as *DeliveryError.
func (n *Notifier) NotifyMatch(ctx context.Context, notice model.MatchNotice) error {
	to := notice.Recipient.Email
	if _, err := mail.ParseAddress(to); err != nil {
		return &DeliveryError{Recipient: to, Err: fmt.Errorf("invalid address: %w", err)}
	}

	msg, err := n.Render(notice)
	if err != nil {
		return &DeliveryError{Recipient: to, Err: err}
	}
	if err := n.Mailer.Send(ctx, msg); err != nil {
		return &DeliveryError{Recipient: to, Err: err}
	}
	return nil
}

// Render builds the email for notice without sending it.
func (n *Notifier) Render(notice model.MatchNotice) (Message, error) {
	c := notice.Counterpart
	name := notice.Recipient.Name
	if name == "" {
		name = "there"
	}

	data := matchEmail{
		RecipientName:   name,
		ItemType:        notice.Item.Type,
		ItemTitle:       notice.Item.Title,
		CounterpartType: c.Type,
		Title:           c.Title,
		Description:     c.Description,
		Location:        c.Location,
		ImageURL:        c.ImageURL,
		Created:         c.CreatedAt.Format("2006-01-02 15:04"),
		Similarity:      fmt.Sprintf("%.3f", notice.Similarity),
		Link:            n.ItemURL(c.ID),
	}

	var html, text bytes.Buffer
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("rendering html email: %w", err)
	}
	if err := textTmpl.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("rendering text email: %w", err)
	}

	return Message{
		From:    n.From,
		To:      notice.Recipient.Email,
		ToName:  notice.Recipient.Name,
		Subject: fmt.Sprintf("Possible match for your %s item: %s", notice.Item.Type, notice.Item.Title),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
