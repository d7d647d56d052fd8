// Package jobqueue carries job payloads and decision events over kafka.
package jobqueue

import (
	"context"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 10 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type producer struct {
	topicName   string
	kafkaWriter messageWriter
	logger      lumber.Logger
}

func newWriter(brokers, topic string, logger lumber.Logger) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:          strings.Split(brokers, ","),
		Topic:            topic,
		ErrorLogger:      kafka.LoggerFunc(logger.Errorf),
		Balancer:         &kafka.Hash{},
		CompressionCodec: kafka.Snappy.Codec(),
		RequiredAcks:     int(kafka.RequireOne), // will wait for acknowledgement from only master.
	})
}

// NewProducer returns a job queue producer for topic. Messages are keyed by job id.
func NewProducer(brokers, topic string, logger lumber.Logger) core.QueueProducer {
	writer := newWriter(brokers, topic, logger)
	logger.Infof("Kafka Producer connection created successfully for topic %s", writer.Topic)
	return &producer{
		logger:      logger,
		topicName:   writer.Topic,
		kafkaWriter: writer,
	}
}

func (p *producer) Enqueue(item interface{}) error {
	payload, ok := item.(*core.JobPayload)
	if !ok {
		p.logger.Errorf("Invalid job queue payload %v", item)
		return errs.ErrInvalidQueuePayload
	}
	rawMessage, err := json.Marshal(payload)
	if err != nil {
		p.logger.Errorf("failed to marshal message for orgID %s, jobID %s, error: %v", payload.OrgID, payload.JobID, err)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(payload.JobID), Value: rawMessage}
	if err = p.kafkaWriter.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorf("failed to write message in kafka topic %s, orgID %s, jobID %s, error: %v",
			p.topicName, payload.OrgID, payload.JobID, err)
		return errs.Transient(err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.kafkaWriter.Close()
}
