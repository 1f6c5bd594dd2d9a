package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/mrz1836/postmark"
)

const PostmarkProviderName = "postmark"

// Postmark API error codes that are worth retrying later.
const (
	postmarkCodeAccountPending = 412
	postmarkCodeRateLimited    = 429
)

type PostmarkSettings struct {
	ServerToken  string
	AccountToken string
	From         string
	Tag          string
}

type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

var _ Adapter = (*PostmarkAdapter)(nil)

type PostmarkAdapter struct {
	client postmarkSender
	from   string
	tag    string
}

// NewPostmarkAdapter requires both tokens and a sender so a misconfigured
// tenant fails on first use instead of at send time.
func NewPostmarkAdapter(settings PostmarkSettings) (*PostmarkAdapter, error) {
	if err := requireSetting(domain.ChannelEmail, PostmarkProviderName, "postmark server token", settings.ServerToken); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelEmail, PostmarkProviderName, "postmark account token", settings.AccountToken); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelEmail, PostmarkProviderName, "sender address", settings.From); err != nil {
		return nil, err
	}

	client := postmark.NewClient(settings.ServerToken, settings.AccountToken)
	return newPostmarkAdapterWithClient(client, settings), nil
}

func newPostmarkAdapterWithClient(client postmarkSender, settings PostmarkSettings) *PostmarkAdapter {
	return &PostmarkAdapter{client: client, from: settings.From, tag: settings.Tag}
}

func (a *PostmarkAdapter) Name() string { return PostmarkProviderName }

func (a *PostmarkAdapter) Channel() domain.Channel { return domain.ChannelEmail }

func (a *PostmarkAdapter) Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error) {
	resp, err := a.client.SendEmail(ctx, postmark.Email{
		From:     a.from,
		To:       destination,
		Subject:  content.Subject,
		Tag:      a.tag,
		TextBody: content.Body,
		HTMLBody: content.HTMLBody,
	})
	if err != nil {
		return nil, requestError(PostmarkProviderName, err)
	}
	if resp.ErrorCode > 0 {
		return nil, &ProviderError{
			Provider:    PostmarkProviderName,
			Code:        fmt.Sprintf("%d", resp.ErrorCode),
			Message:     strings.TrimSpace(resp.Message),
			Transient:   resp.ErrorCode == postmarkCodeAccountPending || resp.ErrorCode == postmarkCodeRateLimited,
			RateLimited: resp.ErrorCode == postmarkCodeRateLimited,
		}
	}

	return &ProviderResponse{MessageID: resp.MessageID}, nil
}
