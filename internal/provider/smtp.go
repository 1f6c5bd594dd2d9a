package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/wneessen/go-mail"
)

const (
	SMTPProviderName  = "smtp"
	GmailProviderName = "gmail"

	gmailHost          = "smtp.gmail.com"
	gmailPort          = 587
	defaultSMTPPort    = 587
	defaultSMTPTimeout = 15 * time.Second
)

// SMTPSettings configures a plain SMTP relay. Username and Password may be
// empty for unauthenticated relays.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS selects SMTPS (usually port 465) instead of STARTTLS.
	ImplicitTLS bool
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

var _ Adapter = (*SMTPAdapter)(nil)

// SMTPAdapter delivers email over SMTP. The same adapter backs the "gmail"
// provider with Gmail's submission endpoint preset.
type SMTPAdapter struct {
	name   string
	from   string
	client mailSender
}

func NewSMTPAdapter(settings SMTPSettings) (*SMTPAdapter, error) {
	return newSMTPAdapter(SMTPProviderName, settings)
}

// NewGmailAdapter targets smtp.gmail.com:587 and requires an app password.
func NewGmailAdapter(username string, appPassword string, from string) (*SMTPAdapter, error) {
	if err := requireSetting(domain.ChannelEmail, GmailProviderName, "gmail username", username); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelEmail, GmailProviderName, "gmail app password", appPassword); err != nil {
		return nil, err
	}
	if strings.TrimSpace(from) == "" {
		from = username
	}

	return newSMTPAdapter(GmailProviderName, SMTPSettings{
		Host:     gmailHost,
		Port:     gmailPort,
		Username: username,
		Password: appPassword,
		From:     from,
	})
}

func newSMTPAdapter(name string, settings SMTPSettings) (*SMTPAdapter, error) {
	if err := requireSetting(domain.ChannelEmail, name, "smtp host", settings.Host); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelEmail, name, "sender address", settings.From); err != nil {
		return nil, err
	}
	if settings.Port <= 0 {
		settings.Port = defaultSMTPPort
	}

	opts := []mail.Option{
		mail.WithPort(settings.Port),
		mail.WithTimeout(defaultSMTPTimeout),
	}
	if settings.ImplicitTLS {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	if settings.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(settings.Username),
			mail.WithPassword(settings.Password),
		)
	}

	client, err := mail.NewClient(settings.Host, opts...)
	if err != nil {
		return nil, &ConfigError{Channel: domain.ChannelEmail, Provider: name, Message: "invalid smtp settings", Cause: err}
	}

	return newSMTPAdapterWithSender(name, settings.From, client), nil
}

func newSMTPAdapterWithSender(name string, from string, sender mailSender) *SMTPAdapter {
	return &SMTPAdapter{name: name, from: from, client: sender}
}

func (a *SMTPAdapter) Name() string { return a.name }

func (a *SMTPAdapter) Channel() domain.Channel { return domain.ChannelEmail }

func (a *SMTPAdapter) Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error) {
	msg, err := a.buildMessage(destination, content)
	if err != nil {
		return nil, err
	}

	if err := a.client.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, smtpError(a.name, err)
	}

	messageID := ""
	if values := msg.GetGenHeader(mail.HeaderMessageID); len(values) > 0 {
		messageID = strings.Trim(values[0], "<>")
	}

	return &ProviderResponse{MessageID: messageID}, nil
}

func (a *SMTPAdapter) buildMessage(destination string, content Content) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(a.from); err != nil {
		return nil, &ProviderError{Provider: a.name, Message: "invalid sender address", Cause: err}
	}
	if err := msg.To(destination); err != nil {
		return nil, &ProviderError{Provider: a.name, Message: "invalid recipient address", Cause: err}
	}
	msg.Subject(content.Subject)
	msg.SetMessageID()
	msg.SetDate()

	msg.SetBodyString(mail.TypeTextPlain, content.Body)
	if content.HTMLBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, content.HTMLBody)
	}
	return msg, nil
}

func smtpError(name string, err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return &ProviderError{
			Provider:  name,
			Message:   fmt.Sprintf("smtp delivery failed (%s)", sendErr.Reason),
			Transient: sendErr.IsTemp(),
			Cause:     err,
		}
	}
	return requestError(name, err)
}
