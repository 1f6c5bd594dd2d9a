package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

const (
	AliyunProviderName = "aliyun"

	aliyunEndpoint        = "dysmsapi.aliyuncs.com"
	aliyunCodeOK          = "OK"
	aliyunCodeRateLimited = "isv.BUSINESS_LIMIT_CONTROL"
	aliyunCodeThrottling  = "Throttling.User"
)

// AliyunSettings configures the Alibaba Cloud SMS service. Messages are sent
// through a pre-approved template; the body is passed as the "content"
// template parameter unless Content.Data supplies the parameters.
type AliyunSettings struct {
	RegionID        string
	AccessKeyID     string
	AccessKeySecret string
	SignName        string
	TemplateCode    string
}

type aliyunSMSClient interface {
	SendSms(request *dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error)
}

var _ Adapter = (*AliyunAdapter)(nil)

type AliyunAdapter struct {
	client       aliyunSMSClient
	signName     string
	templateCode string
}

func NewAliyunAdapter(settings AliyunSettings) (*AliyunAdapter, error) {
	required := []struct{ field, value string }{
		{"aliyun region", settings.RegionID},
		{"aliyun access key id", settings.AccessKeyID},
		{"aliyun access key secret", settings.AccessKeySecret},
		{"aliyun sign name", settings.SignName},
		{"aliyun template code", settings.TemplateCode},
	}
	for _, r := range required {
		if err := requireSetting(domain.ChannelSMS, AliyunProviderName, r.field, r.value); err != nil {
			return nil, err
		}
	}

	client, err := dysmsapi.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(settings.AccessKeyID),
		AccessKeySecret: tea.String(settings.AccessKeySecret),
		RegionId:        tea.String(settings.RegionID),
		Endpoint:        tea.String(aliyunEndpoint),
	})
	if err != nil {
		return nil, &ConfigError{Channel: domain.ChannelSMS, Provider: AliyunProviderName, Message: "failed to create client", Cause: err}
	}

	return newAliyunAdapterWithClient(client, settings), nil
}

func newAliyunAdapterWithClient(client aliyunSMSClient, settings AliyunSettings) *AliyunAdapter {
	return &AliyunAdapter{client: client, signName: settings.SignName, templateCode: settings.TemplateCode}
}

func (a *AliyunAdapter) Name() string { return AliyunProviderName }

func (a *AliyunAdapter) Channel() domain.Channel { return domain.ChannelSMS }

func (a *AliyunAdapter) Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, requestError(AliyunProviderName, err)
	}

	params := content.Data
	if len(params) == 0 {
		params = map[string]string{"content": content.Body}
	}
	templateParam, err := json.Marshal(params)
	if err != nil {
		return nil, &ProviderError{Provider: AliyunProviderName, Message: "invalid template parameters", Cause: err}
	}

	response, err := a.client.SendSms(&dysmsapi.SendSmsRequest{
		PhoneNumbers:  tea.String(destination),
		SignName:      tea.String(a.signName),
		TemplateCode:  tea.String(a.templateCode),
		TemplateParam: tea.String(string(templateParam)),
	})
	if err != nil {
		return nil, aliyunError(err)
	}
	if response == nil || response.Body == nil || response.Body.Code == nil {
		return nil, &ProviderError{Provider: AliyunProviderName, Message: "provider returned empty response", Transient: true}
	}

	body := response.Body
	code := tea.StringValue(body.Code)
	if code != aliyunCodeOK {
		limited := code == aliyunCodeRateLimited || code == aliyunCodeThrottling
		return nil, &ProviderError{
			Provider:    AliyunProviderName,
			StatusCode:  int(tea.Int32Value(response.StatusCode)),
			Code:        code,
			Message:     tea.StringValue(body.Message),
			Transient:   limited,
			RateLimited: limited,
		}
	}

	return &ProviderResponse{
		StatusCode: int(tea.Int32Value(response.StatusCode)),
		Body:       tea.StringValue(body.RequestId),
		MessageID:  tea.StringValue(body.BizId),
	}, nil
}

func aliyunError(err error) error {
	var sdkErr *tea.SDKError
	if !errors.As(err, &sdkErr) {
		return requestError(AliyunProviderName, err)
	}

	code := tea.StringValue(sdkErr.Code)
	status := tea.IntValue(sdkErr.StatusCode)
	limited := status == 429 || strings.HasPrefix(code, "Throttling") || code == aliyunCodeRateLimited
	return &ProviderError{
		Provider:    AliyunProviderName,
		StatusCode:  status,
		Code:        code,
		Message:     tea.StringValue(sdkErr.Message),
		Transient:   limited || isTransientHTTPStatus(status),
		RateLimited: limited,
		Cause:       err,
	}
}
