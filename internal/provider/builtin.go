package provider

import (
	"context"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

// Settings carries the credentials of every built-in provider. Empty values
// are allowed here; the affected adapter fails with a ConfigError on first use.
type Settings struct {
	SMTP     SMTPSettings
	Gmail    GmailSettings
	Postmark PostmarkSettings
	Twilio   TwilioSettings
	Aliyun   AliyunSettings
	FCM      FCMSettings

	// WebhookEndpoints maps a channel to its webhook URL.
	WebhookEndpoints map[domain.Channel]string

	Defaults map[domain.Channel]string
}

type GmailSettings struct {
	Username    string
	AppPassword string
	From        string
}

// RegisterBuiltins registers a factory for every supported (channel,
// provider) pair and the per-channel defaults. Nothing is constructed until
// an adapter is requested.
func RegisterBuiltins(ctx context.Context, registry *Registry, settings Settings) {
	registry.Register(domain.ChannelEmail, SMTPProviderName, func() (Adapter, error) {
		return NewSMTPAdapter(settings.SMTP)
	})
	registry.Register(domain.ChannelEmail, GmailProviderName, func() (Adapter, error) {
		return NewGmailAdapter(settings.Gmail.Username, settings.Gmail.AppPassword, settings.Gmail.From)
	})
	registry.Register(domain.ChannelEmail, PostmarkProviderName, func() (Adapter, error) {
		return NewPostmarkAdapter(settings.Postmark)
	})
	registry.Register(domain.ChannelSMS, TwilioProviderName, func() (Adapter, error) {
		return NewTwilioAdapter(settings.Twilio)
	})
	registry.Register(domain.ChannelSMS, AliyunProviderName, func() (Adapter, error) {
		return NewAliyunAdapter(settings.Aliyun)
	})
	registry.Register(domain.ChannelPush, FCMProviderName, func() (Adapter, error) {
		return NewFCMAdapter(ctx, settings.FCM)
	})

	for _, channel := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush} {
		endpoint := settings.WebhookEndpoints[channel]
		registry.Register(channel, WebhookProviderName, func() (Adapter, error) {
			return NewWebhookAdapter(channel, endpoint)
		})
	}

	for channel, name := range settings.Defaults {
		if name != "" {
			registry.SetDefault(channel, name)
		}
	}
}
