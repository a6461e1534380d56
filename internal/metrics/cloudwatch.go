// Package metrics emits operational metrics for webhook processing and slot
// admission to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"marketfront/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the metrics surface used by the webhook handler and the
// admission controller. The noop implementation is used when metrics are
// disabled in config.
type Recorder interface {
	RecordWebhookEvent(ctx context.Context, eventType string, outcome string)
	RecordWebhookLatency(ctx context.Context, eventType string, duration time.Duration)
	RecordAdmission(ctx context.Context, family types.SlotFamily, result types.AdmissionResult)
}

// Webhook outcome dimension values.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// CloudWatchRecorder implements Recorder by publishing to CloudWatch.
//
// Metrics emitted:
//   - WebhookEvent: Dims {EventType, Outcome} -- on every webhook disposition
//   - WebhookLatency: Dims {EventType} -- dispatch duration in milliseconds
//   - SlotAdmission: Dims {Family, Result} -- on every admission decision
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Recorder = (*CloudWatchRecorder)(nil)

// NewCloudWatchRecorder creates a Recorder that publishes to the given
// CloudWatch namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordWebhookEvent emits a WebhookEvent count with EventType and Outcome
// dimensions.
func (m *CloudWatchRecorder) RecordWebhookEvent(ctx context.Context, eventType string, outcome string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("WebhookEvent"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("EventType"), Value: aws.String(eventType)},
			{Name: aws.String("Outcome"), Value: aws.String(outcome)},
		},
	})
}

// RecordWebhookLatency emits the dispatch duration in milliseconds.
func (m *CloudWatchRecorder) RecordWebhookLatency(ctx context.Context, eventType string, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("WebhookLatency"),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("EventType"), Value: aws.String(eventType)},
		},
	})
}

// RecordAdmission emits a SlotAdmission count with Family and Result
// dimensions.
func (m *CloudWatchRecorder) RecordAdmission(ctx context.Context, family types.SlotFamily, result types.AdmissionResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("SlotAdmission"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Family"), Value: aws.String(string(family))},
			{Name: aws.String("Result"), Value: aws.String(string(result))},
		},
	})
}

// put publishes a single datum. Metric failures are logged, never propagated.
func (m *CloudWatchRecorder) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

var _ Recorder = (*NoopRecorder)(nil)

func (NoopRecorder) RecordWebhookEvent(context.Context, string, string)                       {}
func (NoopRecorder) RecordWebhookLatency(context.Context, string, time.Duration)              {}
func (NoopRecorder) RecordAdmission(context.Context, types.SlotFamily, types.AdmissionResult) {}
