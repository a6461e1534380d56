package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfront/internal/types"
)

type fakeSQS struct {
	inputs  []*sqs.SendMessageInput
	sendErr error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_SendsNotificationMessage(t *testing.T) {
	client := &fakeSQS{}
	n := NewNotifier(client, "https://sqs.test/notifications", testLogger())

	err := n.Notify(context.Background(), types.NotifyPaymentReceipt, "tenant_1", "user_1", map[string]string{
		"invoice_id": "in_1",
		"amount":     "4900",
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	input := client.inputs[0]
	assert.Equal(t, "https://sqs.test/notifications", *input.QueueUrl)
	assert.Equal(t, string(types.NotifyPaymentReceipt), *input.MessageAttributes["kind"].StringValue)

	var msg types.NotificationMessage
	require.NoError(t, json.Unmarshal([]byte(*input.MessageBody), &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, types.NotifyPaymentReceipt, msg.Kind)
	assert.Equal(t, "tenant_1", msg.TenantID)
	assert.Equal(t, "user_1", msg.UserID)
	assert.Equal(t, "in_1", msg.Data["invoice_id"])
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestNotifier_SendFailure(t *testing.T) {
	client := &fakeSQS{sendErr: errors.New("queue unavailable")}
	n := NewNotifier(client, "https://sqs.test/notifications", testLogger())

	err := n.Notify(context.Background(), types.NotifyAccountSuspended, "tenant_1", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")
}
