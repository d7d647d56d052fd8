package jobqueue

import (
	"context"
	"errors"
	"strings"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumer struct {
	topicName  string
	reader     messageReader
	dispatcher core.JobDispatcher
	logger     lumber.Logger
}

// NewConsumer returns a job queue consumer handing every payload to dispatcher.
func NewConsumer(brokers string, queue config.KafkaConsumerConfig, dispatcher core.JobDispatcher,
	logger lumber.Logger) core.QueueConsumer {
	// offset retention time is 24h
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               strings.Split(brokers, ","),
		Topic:                 queue.Topic,
		ErrorLogger:           kafka.LoggerFunc(logger.Errorf),
		GroupID:               queue.ConsumerGroup,
		WatchPartitionChanges: true,
		GroupBalancers:        []kafka.GroupBalancer{kafka.RoundRobinGroupBalancer{}}})
	logger.Infof("Kafka Consumer Group %s created successfully", reader.Config().GroupID)

	return &consumer{
		topicName:  reader.Config().Topic,
		reader:     reader,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run commits a message once it has been handed to the worker pool. Payloads that were
// already claimed or finished are dropped by the worker, so redelivery is harmless.
func (c *consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			c.logger.Errorf("Kafka FetchMessage of topic: %v failed: %v", c.topicName, err)
			continue
		}
		c.logger.Debugf("Kafka: Message received on partition: %d, offset: %d, topic: %s", msg.Partition, msg.Offset, msg.Topic)
		payload := new(core.JobPayload)
		if err := json.Unmarshal(msg.Value, payload); err != nil {
			c.logger.Errorf("failed to unmarshal job payload, error: %v", err)
		} else {
			c.dispatcher.Dispatch(ctx, payload)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Errorf("failed to commit offset %d of topic %s, error: %v", msg.Offset, c.topicName, err)
		}
	}

	if err := c.Close(); err != nil {
		c.logger.Errorf("failed to closed kafka reader, error: %v", err)
		return
	}
	c.logger.Debugf("Kafka consumer closed successfully for topic %s", c.topicName)
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
