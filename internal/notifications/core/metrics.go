package core

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"gardennotify/internal/types"
)

// Metric names and dimensions emitted by the engine.
const (
	DefaultMetricNamespace = "GardenNotify"

	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricTickUsers       = "TickUsers"
	MetricTickFired       = "TickRulesFired"
	MetricTickReminders   = "TickRemindersDue"
	MetricTickDelivered   = "TickDelivered"
	MetricTickHeld        = "TickHeld"
	MetricTickFailed      = "TickFailed"
	MetricTickDuration    = "TickDuration"
	MetricAPILatency      = "APILatency"

	DimChannel = "Channel"
	DimResult  = "Result"
	DimRoute   = "Route"
	DimStatus  = "Status"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchNotificationMetrics implements NotificationMetrics.
var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

// CloudWatchNotificationMetrics implements NotificationMetrics by emitting
// metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Channel, Result} -- on every channel outcome
//   - DeliveryLatency: Dims {Channel} -- time taken for a send
//   - Tick*: No dims -- one batch per tick run
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics creates a new CloudWatchNotificationMetrics
// that publishes to namespace. An empty namespace uses DefaultMetricNamespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if namespace == "" {
		namespace = DefaultMetricNamespace
	}
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDelivery emits a DeliveryAttempt metric with Channel and Result dimensions.
//
//	Metric: DeliveryAttempt, Dims: {Channel: "email", Result: "success"}
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricDeliveryAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(DimChannel),
						Value: aws.String(string(channel)),
					},
					{
						Name:  aws.String(DimResult),
						Value: aws.String(string(result)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"channel", string(channel),
			"result", string(result),
		)
	}
}

// RecordLatency emits a send latency metric with the Channel dimension.
// Duration is recorded in milliseconds for CloudWatch precision.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricDeliveryLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(DimChannel),
						Value: aws.String(string(channel)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"channel", string(channel),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordTick emits the counters of one tick run in a single PutMetricData call.
func (m *CloudWatchNotificationMetrics) RecordTick(ctx context.Context, s TickSummary) {
	count := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
		}
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			count(MetricTickUsers, s.Users),
			count(MetricTickFired, s.Fired),
			count(MetricTickReminders, s.Reminders),
			count(MetricTickDelivered, s.Delivered),
			count(MetricTickHeld, s.Held),
			count(MetricTickFailed, s.Failed),
			{
				MetricName: aws.String(MetricTickDuration),
				Value:      aws.Float64(float64(s.Duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record tick metrics",
			"error", err.Error(),
			"users", s.Users,
		)
	}
}

// RecordRequest emits the latency of one operational API request, keyed by
// the chi route pattern rather than the raw path so user IDs do not explode
// the dimension space.
func (m *CloudWatchNotificationMetrics) RecordRequest(ctx context.Context, route string, status int, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimRoute), Value: aws.String(route)},
					{Name: aws.String(DimStatus), Value: aws.String(strconv.Itoa(status))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record request metric",
			"error", err.Error(),
			"route", route,
		)
	}
}

// NoopMetrics discards all metrics. Used when observability is disabled and
// in tests.
type NoopMetrics struct{}

var _ NotificationMetrics = NoopMetrics{}

func (NoopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NoopMetrics) RecordTick(context.Context, TickSummary)                         {}
func (NoopMetrics) RecordRequest(context.Context, string, int, time.Duration)       {}
