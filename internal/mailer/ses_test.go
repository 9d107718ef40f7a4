package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
)

type fakeSES struct {
	calls []*sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestNewSESSender_NotConfigured(t *testing.T) {
	_, err := NewSESSender(context.Background(), "", "secret", "us-east-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotConfigured))
}

func TestSESSender_NilClient(t *testing.T) {
	var s *SESSender
	_, err := s.Send(context.Background(), &Message{To: "a@example.com"})
	assert.True(t, errors.Is(err, appErrors.ErrNotConfigured))
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	s := &SESSender{client: fake}

	res, err := s.Send(context.Background(), &Message{
		To:           "jane@example.com",
		FromName:     "Cymasphere",
		FromEmail:    "support@cymasphere.com",
		ReplyTo:      "help@cymasphere.com",
		Subject:      "Hello",
		HTML:         "<p>Hi</p>",
		Text:         "Hi",
		CampaignID:   "c1",
		SubscriberID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-123", res.MessageID)

	require.Len(t, fake.calls, 1)
	in := fake.calls[0]
	assert.Equal(t, "Cymasphere <support@cymasphere.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"jane@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"help@cymasphere.com"}, in.ReplyToAddresses)
	assert.Equal(t, "Hi", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Len(t, in.EmailTags, 2)
}

func TestSESSender_InvalidRecipientSkipsProvider(t *testing.T) {
	fake := &fakeSES{}
	s := &SESSender{client: fake}

	_, err := s.Send(context.Background(), &Message{To: "not-an-address", FromEmail: "a@example.com"})
	assert.True(t, errors.Is(err, ErrInvalidRecipient))
	assert.Empty(t, fake.calls)
}

func TestSESSender_ProviderError(t *testing.T) {
	s := &SESSender{client: &fakeSES{err: errors.New("throttled")}}

	_, err := s.Send(context.Background(), &Message{To: "jane@example.com", FromEmail: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestMessageFrom(t *testing.T) {
	assert.Equal(t, "a@example.com", (&Message{FromEmail: "a@example.com"}).From())
	assert.Equal(t, "A <a@example.com>", (&Message{FromName: "A", FromEmail: "a@example.com"}).From())
}
