package twilio

import (
	"context"
	"fmt"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// Caller places text-to-speech calls from the SMS number.
type Caller struct {
	api  API
	from string
}

func NewCaller(cfg config.TwilioConfig, api API) *Caller {
	return &Caller{api: api, from: cfg.PhoneNumber}
}

func (c *Caller) Configured() bool {
	return c.api != nil && c.from != ""
}

func (c *Caller) Call(ctx context.Context, to, text string) channel.SendResult {
	if !c.Configured() {
		return channel.Failed("voice calls are not configured: set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER")
	}
	doc, err := SayTwiML(text)
	if err != nil {
		return channel.Failed(fmt.Sprintf("build call script: %v", err))
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(models.NormalizePhone(to))
	params.SetFrom(c.from)
	params.SetTwiml(doc)

	call, err := c.api.CreateCall(params)
	if err != nil {
		return channel.Failed(err.Error())
	}
	return channel.Sent(str(call.Sid))
}

// SayTwiML renders a <Response><Say> document reading text aloud.
func SayTwiML(text string) (string, error) {
	say := &twiml.VoiceSay{Message: text, Voice: "alice"}
	return twiml.Voice([]twiml.Element{say})
}

// EmptyResponse is the TwiML body returned to messaging webhooks.
func EmptyResponse() string {
	doc, err := twiml.Messages(nil)
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	}
	return doc
}
