// Package events publishes settlement status transitions to Kafka for
// downstream reconciliation and audit consumers. Publishing is best-effort
// and asynchronous: a broker outage never blocks or fails a settlement.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/types"
)

// SettlementEvent is emitted on every settlement record transition.
type SettlementEvent struct {
	Key       string                 `json:"key"`
	Network   string                 `json:"network"`
	Status    types.SettlementStatus `json:"status"`
	TxHash    string                 `json:"txHash,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher emits settlement events.
type Publisher interface {
	PublishSettlementEvent(event SettlementEvent)
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSettlementEvent(SettlementEvent) {}
func (NoopPublisher) Close() error                           { return nil }

// KafkaPublisher publishes settlement events with a sarama async producer.
// Delivery failures are logged from a drain goroutine and otherwise dropped.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	log      logger.Logger
	drained  sync.WaitGroup
}

func NewKafkaPublisher(brokers []string, topic string, log logger.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}
	return newKafkaPublisher(producer, topic, log), nil
}

func newKafkaPublisher(producer sarama.AsyncProducer, topic string, log logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.NoopLogger{}
	}
	p := &KafkaPublisher{producer: producer, topic: topic, log: log}
	p.drained.Add(1)
	go p.drainErrors()
	return p
}

func (p *KafkaPublisher) drainErrors() {
	defer p.drained.Done()
	for perr := range p.producer.Errors() {
		fields := map[string]any{"error": perr.Err.Error()}
		if perr.Msg != nil {
			if key, err := perr.Msg.Key.Encode(); err == nil {
				fields["key"] = string(key)
			}
		}
		p.log.Warn("failed to publish settlement event", fields)
	}
}

func (p *KafkaPublisher) PublishSettlementEvent(event SettlementEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to marshal settlement event", map[string]any{"error": err.Error()})
		return
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(data),
	}
}

// Close flushes buffered messages and waits for the error drain to finish.
func (p *KafkaPublisher) Close() error {
	err := p.producer.Close()
	p.drained.Wait()
	return err
}
