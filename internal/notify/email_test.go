package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "agenda@example.com"}, nil)
	assert.Nil(t, sender)
}

func TestNewSendGridSender_FromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "agenda@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Agenda Online", sender.fromName)

	sender = NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "agenda@example.com", FromName: "Clínica Sol"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Clínica Sol", sender.fromName)
}

func TestSendGridSender_NilClient(t *testing.T) {
	var sender *SendGridSender
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "a@example.com"}))
}

type fakeSendGrid struct {
	status int
	err    error
	got    *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.got = email
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	api := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: api, fromEmail: "agenda@example.com", fromName: "Agenda Online", logger: logging.Default()}

	err := sender.Send(context.Background(), EmailMessage{To: "admin@example.com", Subject: "Oi", Body: "corpo"})
	require.NoError(t, err)
	require.NotNil(t, api.got)
	assert.Equal(t, "Oi", api.got.Subject)
	assert.Equal(t, "agenda@example.com", api.got.From.Address)

	api.status = 500
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com"}))

	api.err = errors.New("dial tcp: timeout")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com"}))
}

type fakeSES struct {
	got *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	sender := newSESSender(api, SESConfig{FromEmail: "agenda@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "admin@example.com", Subject: "Oi", Body: "texto"})
	require.NoError(t, err)
	require.NotNil(t, api.got)
	assert.Equal(t, "Agenda Online <agenda@example.com>", aws.ToString(api.got.FromEmailAddress))
	assert.Equal(t, []string{"admin@example.com"}, api.got.Destination.ToAddresses)
	assert.Equal(t, "texto", aws.ToString(api.got.Content.Simple.Body.Text.Data))
	assert.Nil(t, api.got.Content.Simple.Body.Html)

	api.err = errors.New("throttled")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com"}))
}

func TestNewSESSender_NilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

func TestStubEmailSender_RecordsMessages(t *testing.T) {
	stub := NewStubEmailSender(nil)
	require.NoError(t, stub.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "um"}))
	require.NoError(t, stub.Send(context.Background(), EmailMessage{To: "b@example.com", Subject: "dois"}))

	sent := stub.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "dois", sent[1].Subject)
}
