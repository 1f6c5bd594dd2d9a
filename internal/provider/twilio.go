package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	TwilioProviderName = "twilio"

	// https://www.twilio.com/docs/api/errors/20429
	twilioCodeTooManyRequests = 20429
)

type TwilioSettings struct {
	AccountSID string
	AuthToken  string
	From       string
}

type twilioMessageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

var _ Adapter = (*TwilioAdapter)(nil)

type TwilioAdapter struct {
	messages twilioMessageCreator
	from     string
}

func NewTwilioAdapter(settings TwilioSettings) (*TwilioAdapter, error) {
	if err := requireSetting(domain.ChannelSMS, TwilioProviderName, "twilio account sid", settings.AccountSID); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelSMS, TwilioProviderName, "twilio auth token", settings.AuthToken); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelSMS, TwilioProviderName, "sender number", settings.From); err != nil {
		return nil, err
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: settings.AccountSID,
		Password: settings.AuthToken,
	})

	return newTwilioAdapterWithClient(client.Api, settings.From), nil
}

func newTwilioAdapterWithClient(messages twilioMessageCreator, from string) *TwilioAdapter {
	return &TwilioAdapter{messages: messages, from: from}
}

func (a *TwilioAdapter) Name() string { return TwilioProviderName }

func (a *TwilioAdapter) Channel() domain.Channel { return domain.ChannelSMS }

// Send ignores ctx cancellation once the request is issued: the twilio SDK
// has no context aware variant of CreateMessage.
func (a *TwilioAdapter) Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, requestError(TwilioProviderName, err)
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(destination)
	params.SetFrom(a.from)
	params.SetBody(content.Body)

	message, err := a.messages.CreateMessage(params)
	if err != nil {
		return nil, twilioError(err)
	}

	resp := &ProviderResponse{StatusCode: http.StatusCreated}
	if message != nil && message.Sid != nil {
		resp.MessageID = *message.Sid
	}
	if message != nil && message.Status != nil {
		resp.Body = *message.Status
	}
	return resp, nil
}

func twilioError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return requestError(TwilioProviderName, err)
	}

	rateLimited := restErr.Status == http.StatusTooManyRequests || restErr.Code == twilioCodeTooManyRequests
	return &ProviderError{
		Provider:    TwilioProviderName,
		StatusCode:  restErr.Status,
		Code:        fmt.Sprintf("%d", restErr.Code),
		Message:     restErr.Message,
		Transient:   isTransientHTTPStatus(restErr.Status),
		RateLimited: rateLimited,
		Cause:       err,
	}
}
