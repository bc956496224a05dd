// Package twilio implements the SMS and WhatsApp adapters and the voice
// caller on top of the Twilio REST API.
package twilio

import (
	"github.com/lalith-99/unifiedinbox/internal/config"
	twiliosdk "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// API is the subset of the Twilio 2010 API the adapters use.
// *openapi.ApiService satisfies it.
type API interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
	ListMessage(params *openapi.ListMessageParams) ([]openapi.ApiV2010Message, error)
	ListMedia(messageSid string, params *openapi.ListMediaParams) ([]openapi.ApiV2010Media, error)
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// NewAPI builds the REST client, or returns nil when credentials are absent.
func NewAPI(cfg config.TwilioConfig) API {
	if !cfg.Enabled() {
		return nil
	}
	client := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return client.Api
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
