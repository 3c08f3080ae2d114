package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSClient abstracts SNS publish operations for dependency inversion.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender delivers notifications over SNS. Jurisdiction notifications go
// to the operations topic, provider notifications to the provider
// topic; subscribers filter on the recipientKey message attribute.
type Sender struct {
	client               SNSClient
	jurisdictionTopicARN string
	providerTopicARN     string
}

// NewSender creates a new Sender.
func NewSender(client SNSClient, jurisdictionTopicARN, providerTopicARN string) *Sender {
	return &Sender{
		client:               client,
		jurisdictionTopicARN: jurisdictionTopicARN,
		providerTopicARN:     providerTopicARN,
	}
}

// Send publishes one notification to the recipient's topic.
func (s *Sender) Send(ctx context.Context, recipient Recipient, subject, body string) error {
	var topicARN string
	switch recipient.Type {
	case RecipientJurisdiction:
		topicARN = s.jurisdictionTopicARN
	case RecipientProvider:
		topicARN = s.providerTopicARN
	default:
		return fmt.Errorf("unknown recipient type %q", recipient.Type)
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"recipientType": {DataType: aws.String("String"), StringValue: aws.String(recipient.Type)},
			"recipientKey":  {DataType: aws.String("String"), StringValue: aws.String(recipient.Key)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish notification to %s: %w", recipient.sk(), err)
	}
	return nil
}
