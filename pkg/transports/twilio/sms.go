package twilio

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxdesk/voxdesk/pkg/errorsx"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSSender sends booking confirmations over SMS.
type SMSSender struct {
	accountSID string
	authToken  string
	from       string
	client     messageCreator
}

func NewSMSSender(accountSID, authToken, from string) *SMSSender {
	return &SMSSender{accountSID: accountSID, authToken: authToken, from: from}
}

func (s *SMSSender) Send(ctx context.Context, to, body string) error {
	_ = ctx
	if to == "" || body == "" {
		return errors.New("to/body required")
	}
	if s.accountSID == "" || s.authToken == "" || s.from == "" {
		return errors.New("missing twilio sms config")
	}
	client := s.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.accountSID,
			Password: s.authToken,
		})
		client = rest.Api
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	if _, err := client.CreateMessage(params); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSinkSMS)
	}
	return nil
}
