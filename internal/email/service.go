// Package email sends account and notification mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "Plate"

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid recipient %q", addr)
		}
	}
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-plate"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// Message is the content of one templated email.
type Message struct {
	AppName   string
	UserName  string
	Heading   string
	Body      string
	ActionURL string
	Action    string
	Footer    string
}

func (s *Service) sendMessage(to, subject string, m Message) error {
	m.AppName = appName
	html, err := renderTemplate(m)
	if err != nil {
		return fmt.Errorf("render %q: %w", subject, err)
	}
	text := m.Body
	if m.ActionURL != "" {
		text += "\r\n\r\n" + m.ActionURL
	}
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	return s.sendMessage(to, "Verify your Plate account", Message{
		UserName:  userName,
		Heading:   "Welcome, " + userName + "!",
		Body:      "Thanks for signing up. Please verify your email address to activate your account. This link expires in 24 hours.",
		ActionURL: verificationURL,
		Action:    "Verify Email Address",
		Footer:    "If you didn't create a Plate account, you can safely ignore this email.",
	})
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	return s.sendMessage(to, "Reset your Plate password", Message{
		UserName:  userName,
		Heading:   "Password Reset Request",
		Body:      "We received a request to reset your password. This reset link will expire in 1 hour.",
		ActionURL: resetURL,
		Action:    "Reset Password",
		Footer:    "If you didn't request a password reset, your password will remain unchanged.",
	})
}

// SendInviteEmail tells someone they were added to a team.
func (s *Service) SendInviteEmail(to, inviterName, role, signInURL string) error {
	return s.sendMessage(to, inviterName+" added you to their Plate team", Message{
		Heading:   "You're on the team",
		Body:      fmt.Sprintf("%s added you to their team as %s.", inviterName, role),
		ActionURL: signInURL,
		Action:    "Open Plate",
	})
}

// SendNotificationEmail mirrors an in-app notification.
func (s *Service) SendNotificationEmail(to, userName, title, body, linkURL string) error {
	return s.sendMessage(to, title, Message{
		UserName:  userName,
		Heading:   title,
		Body:      body,
		ActionURL: linkURL,
		Action:    "View in Plate",
		Footer:    "You are receiving this because you are assigned to or commented on this card.",
	})
}

var messageTemplate = template.Must(template.New("email").Parse(messageHTML))

func renderTemplate(m Message) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplate.Execute(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const messageHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Heading}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #16a34a; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #16a34a; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #16a34a; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Heading}}</h2>
    {{if .UserName}}<p>Hi {{.UserName}},</p>{{end}}

    <p>{{.Body}}</p>

    {{if .ActionURL}}
    <p>
        <a href="{{.ActionURL}}" class="button">{{.Action}}</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ActionURL}}</p>
    {{end}}

    {{if .Footer}}
    <div class="footer">
        <p>{{.Footer}}</p>
    </div>
    {{end}}
</body>
</html>`
