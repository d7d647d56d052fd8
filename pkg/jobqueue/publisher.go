package jobqueue

import (
	"context"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/segmentio/kafka-go"
)

type decisionPublisher struct {
	topicName   string
	kafkaWriter messageWriter
	logger      lumber.Logger
}

// NewDecisionPublisher returns a publisher writing decision events keyed by test case.
func NewDecisionPublisher(brokers, topic string, logger lumber.Logger) core.DecisionPublisher {
	writer := newWriter(brokers, topic, logger)
	logger.Infof("Kafka Producer connection created successfully for topic %s", writer.Topic)
	return &decisionPublisher{topicName: writer.Topic, kafkaWriter: writer, logger: logger}
}

func (d *decisionPublisher) Publish(ctx context.Context, events []*core.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			return errs.ErrMarshalJSON
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Decision.TestCaseID),
			Value: raw,
			Headers: []kafka.Header{
				{Key: "correlation_id", Value: []byte(e.CorrelationID)},
				{Key: "org_id", Value: []byte(e.OrgID)},
			},
		})
	}
	if err := d.kafkaWriter.WriteMessages(ctx, msgs...); err != nil {
		d.logger.Errorf("failed to publish %d decisions on topic %s, error: %v", len(msgs), d.topicName, err)
		return errs.Transient(err)
	}
	return nil
}

func (d *decisionPublisher) Close() error {
	return d.kafkaWriter.Close()
}
