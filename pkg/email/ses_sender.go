// Package email sends operator alerts through Amazon SES.
package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sirupsen/logrus"
)

// ServiceInterface is implemented by every email transport.
type ServiceInterface interface {
	SendEmail(ctx context.Context, to []string, subject, plainTextContent, htmlContent string) error
}

// sesAPI is the subset of the SES client the sender calls.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESV2Sender implements ServiceInterface using AWS SES v2.
type SESV2Sender struct {
	client    sesAPI
	fromEmail string
	logger    logrus.FieldLogger
}

// NewSESV2Sender creates a new sender for Amazon SES.
// Credentials come from the default AWS chain (environment, shared config, IAM role).
func NewSESV2Sender(ctx context.Context, region, fromEmail string, logger logrus.FieldLogger) (*SESV2Sender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("email.NewSESV2Sender: %w", err)
	}
	return &SESV2Sender{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: fromEmail,
		logger:    logger,
	}, nil
}

// SendEmail sends one message with a text and an HTML part.
func (s *SESV2Sender) SendEmail(ctx context.Context, to []string, subject, plainTextContent, htmlContent string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: to,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(plainTextContent),
						Charset: aws.String("UTF-8"),
					},
					Html: &types.Content{
						Data:    aws.String(htmlContent),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("failed to send email via SES")
		return fmt.Errorf("email.SendEmail: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"recipients": len(to),
		"message_id": aws.ToString(out.MessageId),
	}).Info("email sent")
	return nil
}
