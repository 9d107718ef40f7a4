package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/logging"
)

// sesAPI is the part of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email via AWS SES using the SDK v2.
type SESSender struct {
	client sesAPI
}

// NewSESSender builds an SES client from static credentials. Missing
// credentials are reported as ErrNotConfigured.
func NewSESSender(ctx context.Context, accessKey, secretKey, region string) (*SESSender, error) {
	if accessKey == "" || secretKey == "" || region == "" {
		return nil, fmt.Errorf("ses: %w", appErrors.ErrNotConfigured)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESSender{client: sesv2.NewFromConfig(cfg)}, nil
}

func (s *SESSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("SES client not initialized: %w", appErrors.ErrNotConfigured)
	}
	if err := ValidateRecipient(msg.To); err != nil {
		return nil, err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.CampaignID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)})
	}
	if msg.SubscriberID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("subscriber_id"), Value: aws.String(msg.SubscriberID)})
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}

	logrus.WithFields(logrus.Fields{
		"to":         logging.RedactEmail(msg.To),
		"message_id": messageID,
	}).Debug("SES accepted message")

	return &Result{MessageID: messageID, SentAt: time.Now()}, nil
}

var _ Sender = (*SESSender)(nil)
