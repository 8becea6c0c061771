package services

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type Email struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers one email. Implementations must not retry on their own:
// alert logs rely on at most one delivery attempt per claim.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

type mailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

type mailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// HTTPMailer posts emails to a transactional mail API.
type HTTPMailer struct {
	client *resty.Client
	from   string
	logger *zap.Logger
}

func NewHTTPMailer(baseURL, apiKey, from string, logger *zap.Logger) *HTTPMailer {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(20*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPMailer{client: client, from: from, logger: logger.Named("mailer")}
}

func (m *HTTPMailer) Send(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return fmt.Errorf("mail: no recipients")
	}
	var result mailResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(mailPayload{
			From:    m.from,
			To:      email.To,
			Subject: email.Subject,
			Text:    email.Text,
			HTML:    email.HTML,
		}).
		SetResult(&result).
		SetError(&result).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("mail: send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail: provider returned %d: %s", resp.StatusCode(), result.Message)
	}
	m.logger.Info("email sent",
		zap.String("provider_id", result.ID),
		zap.Strings("to", email.To),
		zap.String("subject", email.Subject),
	)
	return nil
}

// LogMailer only logs. Used when no mail API is configured.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, email Email) error {
	m.Logger.Warn("mail api not configured, email not delivered",
		zap.Strings("to", email.To),
		zap.String("subject", email.Subject),
	)
	return nil
}

func InviteEmail(to, baseURL string) Email {
	link := baseURL + "/signup?email=" + url.QueryEscape(to)
	return Email{
		To:      []string{to},
		Subject: "Invito a Sicet",
		Text:    "Sei stato invitato su Sicet. Completa la registrazione: " + link,
		HTML:    `<p>Sei stato invitato su Sicet.</p><p><a href="` + html.EscapeString(link) + `">Completa la registrazione</a></p>`,
	}
}

func PasswordResetEmail(to, baseURL string) Email {
	link := baseURL + "/signup?email=" + url.QueryEscape(to)
	return Email{
		To:      []string{to},
		Subject: "Reimposta la password Sicet",
		Text:    "Un amministratore ha richiesto il reset della tua password. Imposta una nuova password: " + link,
		HTML:    `<p>Un amministratore ha richiesto il reset della tua password.</p><p><a href="` + html.EscapeString(link) + `">Imposta una nuova password</a></p>`,
	}
}
