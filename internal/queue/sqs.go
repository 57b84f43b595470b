package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used by this package.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// SQSClient is a Client backed by a single SQS queue.
type SQSClient struct {
	api      SQSAPI
	queueURL string
}

var _ Client = (*SQSClient)(nil)

// NewSQSClient returns a client for the queue at queueURL.
func NewSQSClient(api SQSAPI, queueURL string) *SQSClient {
	return &SQSClient{api: api, queueURL: queueURL}
}

// QueueURL returns the queue URL.
func (c *SQSClient) QueueURL() string {
	return c.queueURL
}

// Send JSON-encodes body and sends it to the queue.
func (c *SQSClient) Send(ctx context.Context, body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding message body: %w", err)
	}

	out, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Receive long-polls the queue.
func (c *SQSClient) Receive(ctx context.Context, in ReceiveInput) ([]Message, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(in.MaxMessages),
		VisibilityTimeout:   int32(in.VisibilityTimeout.Seconds()),
		WaitTimeSeconds:     int32(in.WaitTime.Seconds()),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		if m.Body == nil {
			continue
		}
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(*m.Body),
			ReceiveCount:  count,
		})
	}
	return msgs, nil
}

// Delete removes msg using its receipt handle.
func (c *SQSClient) Delete(ctx context.Context, msg Message) error {
	if msg.ReceiptHandle == "" {
		return errors.New("message has no receipt handle")
	}
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", msg.ID, err)
	}
	return nil
}

// EnsureQueue returns cfg.URL when set. Otherwise it creates (or looks up) the
// queue named cfg.Name with the configured visibility timeout and retention,
// plus a "<name>-dlq" dead-letter queue when MaxReceiveCount is positive.
func EnsureQueue(ctx context.Context, api SQSAPI, cfg Config) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	attrs := map[string]string{
		string(types.QueueAttributeNameVisibilityTimeout):      strconv.Itoa(int(cfg.VisibilityTimeout.Seconds())),
		string(types.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(int(cfg.MessageRetention.Seconds())),
	}

	if cfg.MaxReceiveCount > 0 {
		dlq, err := api.CreateQueue(ctx, &sqs.CreateQueueInput{
			QueueName: aws.String(cfg.Name + "-dlq"),
			Attributes: map[string]string{
				string(types.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(int(cfg.MessageRetention.Seconds())),
			},
		})
		if err != nil {
			return "", fmt.Errorf("creating dead-letter queue for %s: %w", cfg.Name, err)
		}

		dlqAttrs, err := api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       dlq.QueueUrl,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		if err != nil {
			return "", fmt.Errorf("reading dead-letter queue arn for %s: %w", cfg.Name, err)
		}

		redrive, err := json.Marshal(map[string]string{
			"deadLetterTargetArn": dlqAttrs.Attributes[string(types.QueueAttributeNameQueueArn)],
			"maxReceiveCount":     strconv.Itoa(cfg.MaxReceiveCount),
		})
		if err != nil {
			return "", err
		}
		attrs[string(types.QueueAttributeNameRedrivePolicy)] = string(redrive)
	}

	out, err := api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(cfg.Name),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("creating queue %s: %w", cfg.Name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}
