package notify

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/medibot/pkg/logging"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func TestSESSenderSend(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "noreply@clinic.example", FromName: "Clinic"}, logging.Default())
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "dana@example.com",
		Subject: "Appointment reminder",
		Body:    "Your appointment is tomorrow at 09:00.",
	})
	require.NoError(t, err)
	require.NotNil(t, fake.input)
	assert.Equal(t, "Clinic <noreply@clinic.example>", *fake.input.FromEmailAddress)
	assert.Equal(t, []string{"dana@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "Appointment reminder", *fake.input.Content.Simple.Subject.Data)
}

func TestNewSESSenderNilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}
