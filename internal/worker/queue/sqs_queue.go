package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const (
	sqsWaitSeconds = 20
	// Renders run for hours; keep the message hidden for the SQS maximum.
	sqsVisibilitySeconds = 12 * 60 * 60
)

// SQSQueue long-polls an SQS queue. Messages are deleted on Ack, so a
// worker that dies mid-render lets the message reappear.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Push(ctx context.Context, m Message) error {
	body, err := encode(m)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}

func (q *SQSQueue) Pop(ctx context.Context) (*Delivery, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     sqsWaitSeconds,
		VisibilityTimeout:   sqsVisibilitySeconds,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	m := resp.Messages[0]
	return &Delivery{
		Body:    []byte(aws.ToString(m.Body)),
		receipt: aws.ToString(m.ReceiptHandle),
	}, nil
}

func (q *SQSQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil || d.receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to delete SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Ping(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
	})
	return err
}

// Close is a no-op; the SQS client holds no connections of its own.
func (q *SQSQueue) Close() error { return nil }
