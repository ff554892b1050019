package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/zstd"

	"gardennotify/internal/types"
)

const (
	// AttrContentEncoding is the SQS message attribute naming the body encoding.
	AttrContentEncoding = "content-encoding"
	// EncodingZstdBase64 marks a body that is zstd-compressed then base64-encoded.
	EncodingZstdBase64 = "zstd+base64"

	// DefaultCompressThreshold is the JSON body size above which push messages
	// are compressed.
	DefaultCompressThreshold = 8 * 1024
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PushMessage is the body the push fan-out service consumes.
type PushMessage struct {
	MessageID string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	Endpoint  string         `json:"endpoint"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Severity  types.Severity `json:"severity"`
	TraceID   string         `json:"trace_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PushPublisher sends PushMessages to the push fan-out SQS queue. Bodies
// above the compression threshold are zstd-compressed and base64-encoded so
// large digests stay under the SQS payload limit.
type PushPublisher struct {
	client    SQSSender
	queueURL  string
	threshold int
	logger    types.Logger

	encoderPool sync.Pool
}

// NewPushPublisher creates a PushPublisher targeting queueURL. A threshold of
// zero or less uses DefaultCompressThreshold.
func NewPushPublisher(client SQSSender, queueURL string, threshold int, logger types.Logger) *PushPublisher {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	return &PushPublisher{
		client:    client,
		queueURL:  queueURL,
		threshold: threshold,
		logger:    logger,
		encoderPool: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
				if err != nil {
					// This should never fail with nil output and valid options.
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
	}
}

// Publish serializes msg and sends it to the push queue. It returns the SQS
// message ID.
func (p *PushPublisher) Publish(ctx context.Context, msg PushMessage) (string, error) {
	if msg.TraceID == "" {
		msg.TraceID = types.GetRequestID(ctx)
	}
	if msg.TraceID == "" {
		msg.TraceID = types.GetWorkerID(ctx)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("push publisher: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	if len(body) > p.threshold {
		input.MessageBody = aws.String(p.compress(body))
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			AttrContentEncoding: {
				DataType:    aws.String("String"),
				StringValue: aws.String(EncodingZstdBase64),
			},
		}
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamPushQueue,
			fmt.Sprintf("failed to send push message to %s", p.queueURL), err)
	}

	var sqsID string
	if out != nil && out.MessageId != nil {
		sqsID = *out.MessageId
	}

	p.logger.Info("push message published",
		"message_id", msg.MessageID,
		"user_id", msg.UserID,
		"sqs_message_id", sqsID,
		"compressed", len(input.MessageAttributes) > 0,
		"trace_id", msg.TraceID,
	)

	return sqsID, nil
}

func (p *PushPublisher) compress(body []byte) string {
	enc := p.encoderPool.Get().(*zstd.Encoder)
	defer p.encoderPool.Put(enc)
	return base64.StdEncoding.EncodeToString(enc.EncodeAll(body, nil))
}

// DecodePushBody reverses the publisher encoding. Consumers and tests use it.
func DecodePushBody(body string, encoding string) (PushMessage, error) {
	var msg PushMessage
	raw := []byte(body)
	if encoding == EncodingZstdBase64 {
		compressed, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return msg, fmt.Errorf("push body: base64: %w", err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return msg, fmt.Errorf("push body: zstd reader: %w", err)
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(compressed, nil)
		if err != nil {
			return msg, fmt.Errorf("push body: zstd decompression failed: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("push body: %w", err)
	}
	return msg, nil
}
