// Package queue provides the SQS-based producer that dispatches notification
// payloads to the downstream delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"marketfront/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Notifier serializes NotificationMessages and sends them to the
// notification queue. Lifecycle processing never fails on a notification
// error; callers log and continue.
type Notifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewNotifier creates a Notifier targeting the given queue URL.
func NewNotifier(client SQSSender, queueURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Notify builds a NotificationMessage for the given kind and sends it.
// The data map carries kind-specific fields (invoice IDs, slot IDs, amounts).
func (n *Notifier) Notify(ctx context.Context, kind types.NotificationKind, tenantID, userID string, data map[string]string) error {
	msg := types.NotificationMessage{
		ID:        uuid.New().String(),
		Kind:      kind,
		TenantID:  tenantID,
		UserID:    userID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	return n.send(ctx, msg)
}

// send serializes the message to JSON and dispatches it to SQS.
func (n *Notifier) send(ctx context.Context, msg types.NotificationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal NotificationMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	_, err = n.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send notification to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "notification message sent",
		"queue_url", n.queueURL,
		"message_id", msg.ID,
		"kind", string(msg.Kind),
		"tenant_id", msg.TenantID,
		"user_id", msg.UserID,
	)

	return nil
}
