package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type twilioSender struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSender builds a Sender over the Twilio messaging API. Returns nil
// when credentials are absent so the dispatcher degrades to logging only.
func NewTwilioSender(accountSID, authToken, from string) Sender {
	if strings.TrimSpace(accountSID) == "" || strings.TrimSpace(authToken) == "" {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &twilioSender{client: client, from: strings.TrimSpace(from)}
}

func (s *twilioSender) Send(ctx context.Context, msg Message) error {
	_ = ctx
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("missing_destination")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)
	_, err := s.client.Api.CreateMessage(params)
	return err
}
