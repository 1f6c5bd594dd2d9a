package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"firebase.google.com/go/v4/messaging"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/mrz1836/postmark"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/wneessen/go-mail"
)

type fakeMailSender struct {
	sendFn func(ctx context.Context, messages ...*mail.Msg) error
}

func (f *fakeMailSender) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	return f.sendFn(ctx, messages...)
}

func TestSMTPAdapterSendBuildsMessage(t *testing.T) {
	t.Parallel()

	var sent []*mail.Msg
	adapter := newSMTPAdapterWithSender(SMTPProviderName, "noreply@example.com", &fakeMailSender{
		sendFn: func(_ context.Context, messages ...*mail.Msg) error {
			sent = messages
			return nil
		},
	})

	resp, err := adapter.Send(context.Background(), "user@example.com", Content{Subject: "Welcome", Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("messages sent = %d, want 1", len(sent))
	}

	msg := sent[0]
	if resp.MessageID == "" {
		t.Fatal("expected a message id")
	}
	if got := msg.GetGenHeader(mail.HeaderSubject); !reflect.DeepEqual(got, []string{"Welcome"}) {
		t.Fatalf("subject = %v, want [Welcome]", got)
	}
	if to := msg.GetTo(); len(to) != 1 || to[0].Address != "user@example.com" {
		t.Fatalf("to = %v, want user@example.com", to)
	}
	if adapter.Channel() != domain.ChannelEmail {
		t.Fatalf("Channel() = %s, want email", adapter.Channel())
	}
}

func TestSMTPAdapterRejectsInvalidRecipient(t *testing.T) {
	t.Parallel()

	adapter := newSMTPAdapterWithSender(SMTPProviderName, "noreply@example.com", &fakeMailSender{
		sendFn: func(context.Context, ...*mail.Msg) error {
			t.Error("sender must not be called")
			return nil
		},
	})

	_, err := adapter.Send(context.Background(), "not-an-address", Content{Subject: "s", Body: "b"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.Transient {
		t.Fatal("invalid recipient must not be transient")
	}
}

func TestSMTPAdapterTransportFailureIsTransient(t *testing.T) {
	t.Parallel()

	adapter := newSMTPAdapterWithSender(SMTPProviderName, "noreply@example.com", &fakeMailSender{
		sendFn: func(context.Context, ...*mail.Msg) error { return errors.New("dial tcp: connection refused") },
	})

	_, err := adapter.Send(context.Background(), "user@example.com", Content{Subject: "s", Body: "b"})
	if err == nil || !IsTransient(err) {
		t.Fatalf("Send() error = %v, want transient error", err)
	}
}

func TestNewGmailAdapterRequiresAppPassword(t *testing.T) {
	t.Parallel()

	if _, err := NewGmailAdapter("me@gmail.com", "", ""); !IsConfigError(err) {
		t.Fatalf("NewGmailAdapter() error = %v, want config error", err)
	}
}

func TestNewSMTPAdapterRequiresHost(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPAdapter(SMTPSettings{From: "noreply@example.com"}); !IsConfigError(err) {
		t.Fatalf("NewSMTPAdapter() error = %v, want config error", err)
	}
}

type fakePostmark struct {
	sendFn func(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

func (f *fakePostmark) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	return f.sendFn(ctx, email)
}

func TestPostmarkAdapterSend(t *testing.T) {
	t.Parallel()

	var got postmark.Email
	adapter := newPostmarkAdapterWithClient(&fakePostmark{
		sendFn: func(_ context.Context, email postmark.Email) (postmark.EmailResponse, error) {
			got = email
			return postmark.EmailResponse{MessageID: "pm-1"}, nil
		},
	}, PostmarkSettings{From: "noreply@example.com", Tag: "gateway"})

	resp, err := adapter.Send(context.Background(), "user@example.com", Content{Subject: "Hi", Body: "text", HTMLBody: "<p>text</p>"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if resp.MessageID != "pm-1" {
		t.Fatalf("MessageID = %q, want pm-1", resp.MessageID)
	}
	want := postmark.Email{From: "noreply@example.com", To: "user@example.com", TextBody: "text", HTMLBody: "<p>text</p>", Tag: "gateway"}
	if got.From != want.From || got.To != want.To || got.TextBody != want.TextBody || got.HTMLBody != want.HTMLBody || got.Tag != want.Tag {
		t.Fatalf("email = %+v, want %+v", got, want)
	}
}

func TestPostmarkAdapterErrorCode(t *testing.T) {
	t.Parallel()

	adapter := newPostmarkAdapterWithClient(&fakePostmark{
		sendFn: func(context.Context, postmark.Email) (postmark.EmailResponse, error) {
			return postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}, nil
		},
	}, PostmarkSettings{From: "noreply@example.com"})

	_, err := adapter.Send(context.Background(), "user@example.com", Content{Subject: "Hi", Body: "text"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.Code != "406" {
		t.Fatalf("Code = %q, want 406", providerErr.Code)
	}
	if IsTransient(err) {
		t.Fatal("inactive recipient must not be transient")
	}
}

func TestNewPostmarkAdapterRequiresTokens(t *testing.T) {
	t.Parallel()

	if _, err := NewPostmarkAdapter(PostmarkSettings{ServerToken: "s", From: "noreply@example.com"}); !IsConfigError(err) {
		t.Fatalf("NewPostmarkAdapter() error = %v, want config error", err)
	}
}

type fakeTwilio struct {
	createFn func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

func (f *fakeTwilio) CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
	return f.createFn(params)
}

func TestTwilioAdapterSend(t *testing.T) {
	t.Parallel()

	var got *twilioapi.CreateMessageParams
	adapter := newTwilioAdapterWithClient(&fakeTwilio{
		createFn: func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
			got = params
			sid := "SM123"
			return &twilioapi.ApiV2010Message{Sid: &sid}, nil
		},
	}, "+15550000000")

	resp, err := adapter.Send(context.Background(), "+15551234567", Content{Body: "code 1234"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.MessageID != "SM123" {
		t.Fatalf("MessageID = %q, want SM123", resp.MessageID)
	}
	if got == nil || got.To == nil || *got.To != "+15551234567" || *got.From != "+15550000000" || *got.Body != "code 1234" {
		t.Fatalf("params = %+v, want to/from/body set", got)
	}
}

func TestTwilioAdapterRateLimited(t *testing.T) {
	t.Parallel()

	adapter := newTwilioAdapterWithClient(&fakeTwilio{
		createFn: func(*twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
			return nil, &twilioclient.TwilioRestError{Code: 20429, Status: 429, Message: "Too Many Requests"}
		},
	}, "+15550000000")

	_, err := adapter.Send(context.Background(), "+15551234567", Content{Body: "x"})
	if !IsRateLimited(err) || !IsTransient(err) {
		t.Fatalf("Send() error = %v, want rate limited transient error", err)
	}
}

func TestTwilioAdapterPermanentFailure(t *testing.T) {
	t.Parallel()

	adapter := newTwilioAdapterWithClient(&fakeTwilio{
		createFn: func(*twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
			return nil, &twilioclient.TwilioRestError{Code: 21211, Status: 400, Message: "invalid 'To' phone number"}
		},
	}, "+15550000000")

	_, err := adapter.Send(context.Background(), "12", Content{Body: "x"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.Code != "21211" {
		t.Fatalf("Code = %q, want 21211", providerErr.Code)
	}
	if IsTransient(err) {
		t.Fatal("invalid number must not be transient")
	}
}

type fakeAliyun struct {
	sendFn func(request *dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error)
}

func (f *fakeAliyun) SendSms(request *dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error) {
	return f.sendFn(request)
}

func aliyunResponse(code, message string) *dysmsapi.SendSmsResponse {
	return &dysmsapi.SendSmsResponse{
		StatusCode: tea.Int32(200),
		Body: &dysmsapi.SendSmsResponseBody{
			Code:      tea.String(code),
			Message:   tea.String(message),
			BizId:     tea.String("biz-1"),
			RequestId: tea.String("req-1"),
		},
	}
}

func TestAliyunAdapterSend(t *testing.T) {
	t.Parallel()

	var got *dysmsapi.SendSmsRequest
	settings := AliyunSettings{SignName: "Gateway", TemplateCode: "SMS_1"}
	adapter := newAliyunAdapterWithClient(&fakeAliyun{
		sendFn: func(request *dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error) {
			got = request
			return aliyunResponse("OK", "OK"), nil
		},
	}, settings)

	resp, err := adapter.Send(context.Background(), "13800000000", Content{Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.MessageID != "biz-1" {
		t.Fatalf("MessageID = %q, want biz-1", resp.MessageID)
	}

	if tea.StringValue(got.PhoneNumbers) != "13800000000" || tea.StringValue(got.SignName) != "Gateway" || tea.StringValue(got.TemplateCode) != "SMS_1" {
		t.Fatalf("request = %+v, want phone, sign name and template", got)
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(tea.StringValue(got.TemplateParam)), &params); err != nil {
		t.Fatalf("template param is not JSON: %v", err)
	}
	if !reflect.DeepEqual(params, map[string]string{"content": "hello"}) {
		t.Fatalf("template param = %v, want content=hello", params)
	}
}

func TestAliyunAdapterBusinessLimit(t *testing.T) {
	t.Parallel()

	adapter := newAliyunAdapterWithClient(&fakeAliyun{
		sendFn: func(*dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error) {
			return aliyunResponse("isv.BUSINESS_LIMIT_CONTROL", "limit"), nil
		},
	}, AliyunSettings{SignName: "s", TemplateCode: "t"})

	_, err := adapter.Send(context.Background(), "13800000000", Content{Body: "hello"})
	if !IsRateLimited(err) {
		t.Fatalf("Send() error = %v, want rate limited error", err)
	}
}

func TestAliyunAdapterSDKError(t *testing.T) {
	t.Parallel()

	adapter := newAliyunAdapterWithClient(&fakeAliyun{
		sendFn: func(*dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error) {
			return nil, &tea.SDKError{Code: tea.String("InvalidAccessKeyId.NotFound"), StatusCode: tea.Int(404), Message: tea.String("not found")}
		},
	}, AliyunSettings{SignName: "s", TemplateCode: "t"})

	_, err := adapter.Send(context.Background(), "13800000000", Content{Body: "hello"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.Code != "InvalidAccessKeyId.NotFound" {
		t.Fatalf("Code = %q, want InvalidAccessKeyId.NotFound", providerErr.Code)
	}
	if IsTransient(err) {
		t.Fatal("unknown access key must not be transient")
	}
}

type fakeFCM struct {
	sendFn        func(ctx context.Context, message *messaging.Message) (string, error)
	multicastFn   func(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	subscribeFn   func(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	unsubscribeFn func(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

func (f *fakeFCM) Send(ctx context.Context, message *messaging.Message) (string, error) {
	return f.sendFn(ctx, message)
}

func (f *fakeFCM) SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	return f.multicastFn(ctx, message)
}

func (f *fakeFCM) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	return f.subscribeFn(ctx, tokens, topic)
}

func (f *fakeFCM) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	return f.unsubscribeFn(ctx, tokens, topic)
}

func TestFCMAdapterSendRoutesTopicDestinations(t *testing.T) {
	t.Parallel()

	var got []*messaging.Message
	adapter := newFCMAdapterWithClient(&fakeFCM{
		sendFn: func(_ context.Context, message *messaging.Message) (string, error) {
			got = append(got, message)
			return "projects/p/messages/1", nil
		},
	})

	if _, err := adapter.Send(context.Background(), "device-token", Content{Subject: "t", Body: "b", Priority: domain.PriorityHigh}); err != nil {
		t.Fatalf("Send(token) error = %v", err)
	}
	resp, err := adapter.Send(context.Background(), TopicDestination("news"), Content{Subject: "t"})
	if err != nil {
		t.Fatalf("Send(topic) error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0].Token != "device-token" || got[0].Android.Priority != "high" {
		t.Fatalf("token message = %+v, want device token with high priority", got[0])
	}
	if got[1].Topic != "news" || got[1].Token != "" {
		t.Fatalf("topic message = %+v, want topic news without token", got[1])
	}
	if resp.MessageID != "projects/p/messages/1" {
		t.Fatalf("MessageID = %q", resp.MessageID)
	}
}

func TestFCMAdapterSendMulticastPartialFailure(t *testing.T) {
	t.Parallel()

	adapter := newFCMAdapterWithClient(&fakeFCM{
		multicastFn: func(_ context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			if !reflect.DeepEqual(message.Tokens, []string{"a", "b"}) {
				t.Errorf("tokens = %v, want [a b]", message.Tokens)
			}
			return &messaging.BatchResponse{
				SuccessCount: 1,
				FailureCount: 1,
				Responses: []*messaging.SendResponse{
					{Success: true, MessageID: "m-a"},
					{Success: false, Error: errors.New("registration token not registered")},
				},
			}, nil
		},
	})

	result, err := adapter.SendMulticast(context.Background(), []string{"a", "b"}, Content{Subject: "t"})
	if err != nil {
		t.Fatalf("SendMulticast() error = %v", err)
	}

	if result.SuccessCount != 1 || result.FailureCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", result.SuccessCount, result.FailureCount)
	}
	if result.Results[0] != (TargetResult{Token: "a", Success: true, MessageID: "m-a"}) {
		t.Fatalf("results[0] = %+v", result.Results[0])
	}
	if result.Results[1].Token != "b" || !strings.Contains(result.Results[1].Error, "not registered") || result.Results[1].Transient {
		t.Fatalf("results[1] = %+v, want permanent not registered failure", result.Results[1])
	}
}

func TestFCMAdapterSendMulticastKeepsEarlierBatchesWhenLaterBatchFails(t *testing.T) {
	t.Parallel()

	tokens := make([]string, fcmMulticastLimit+3)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}

	calls := 0
	adapter := newFCMAdapterWithClient(&fakeFCM{
		multicastFn: func(_ context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			calls++
			if calls == 2 {
				return nil, context.DeadlineExceeded
			}
			responses := make([]*messaging.SendResponse, len(message.Tokens))
			for i, token := range message.Tokens {
				responses[i] = &messaging.SendResponse{Success: true, MessageID: "m-" + token}
			}
			return &messaging.BatchResponse{SuccessCount: len(responses), Responses: responses}, nil
		},
	})

	result, err := adapter.SendMulticast(context.Background(), tokens, Content{Subject: "t"})
	if err != nil {
		t.Fatalf("SendMulticast() error = %v, want partial result", err)
	}
	if calls != 2 {
		t.Fatalf("batches = %d, want 2", calls)
	}
	if len(result.Results) != len(tokens) {
		t.Fatalf("results = %d, want %d", len(result.Results), len(tokens))
	}
	if result.SuccessCount != fcmMulticastLimit || result.FailureCount != 3 {
		t.Fatalf("counts = %d/%d, want %d/3", result.SuccessCount, result.FailureCount, fcmMulticastLimit)
	}
	if first := result.Results[0]; !first.Success || first.MessageID != "m-tok-0" {
		t.Fatalf("results[0] = %+v, want delivered", first)
	}
	for _, target := range result.Results[fcmMulticastLimit:] {
		if target.Success || target.Error == "" || !target.Transient {
			t.Fatalf("target %+v, want transient failure from the failed batch", target)
		}
	}
}

func TestFCMAdapterSendMulticastAllBatchesFailed(t *testing.T) {
	t.Parallel()

	adapter := newFCMAdapterWithClient(&fakeFCM{
		multicastFn: func(context.Context, *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			return nil, errors.New("unauthorized")
		},
	})

	result, err := adapter.SendMulticast(context.Background(), []string{"a"}, Content{Subject: "t"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || result != nil {
		t.Fatalf("SendMulticast() = %+v, %v; want nil result and *ProviderError", result, err)
	}
}

func TestFCMAdapterSubscribeTopicMapsErrors(t *testing.T) {
	t.Parallel()

	adapter := newFCMAdapterWithClient(&fakeFCM{
		subscribeFn: func(_ context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
			if topic != "news" {
				t.Errorf("topic = %q, want news", topic)
			}
			return &messaging.TopicManagementResponse{
				SuccessCount: 1,
				FailureCount: 1,
				Errors:       []*messaging.ErrorInfo{{Index: 1, Reason: "invalid-argument"}},
			}, nil
		},
	})

	result, err := adapter.SubscribeTopic(context.Background(), []string{"a", "b"}, "news")
	if err != nil {
		t.Fatalf("SubscribeTopic() error = %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0] != (TopicError{Index: 1, Token: "b", Reason: "invalid-argument"}) {
		t.Fatalf("errors = %+v, want token b invalid-argument", result.Errors)
	}
}

func TestNewFCMAdapterRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewFCMAdapter(context.Background(), FCMSettings{ProjectID: "p"}); !IsConfigError(err) {
		t.Fatalf("NewFCMAdapter() error = %v, want config error", err)
	}
}
