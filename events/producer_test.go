package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vitwit/x402-tron-facilitator/types"
)

type captureLogger struct {
	mu    sync.Mutex
	warns []map[string]any
}

func (c *captureLogger) Debug(string, map[string]any) {}
func (c *captureLogger) Info(string, map[string]any)  {}
func (c *captureLogger) Error(string, map[string]any) {}

func (c *captureLogger) Warn(_ string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warns = append(c.warns, fields)
}

func (c *captureLogger) warnings() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.warns...)
}

func testEvent(key string) SettlementEvent {
	return SettlementEvent{
		Key:       key,
		Network:   "tron:nile",
		Status:    types.SettlementConfirmed,
		TxHash:    "7c2d4206",
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestPublishSettlementEvent(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(data []byte) error {
		var event SettlementEvent
		return json.Unmarshal(data, &event)
	})

	log := &captureLogger{}
	pub := newKafkaPublisher(producer, "settlements", log)
	pub.PublishSettlementEvent(testEvent("key-1"))

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if warns := log.warnings(); len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
}

func TestPublishDoesNotFailOnBrokerError(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	log := &captureLogger{}
	pub := newKafkaPublisher(producer, "settlements", log)
	pub.PublishSettlementEvent(testEvent("key-2"))

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	warns := log.warnings()
	if len(warns) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warns))
	}
	if warns[0]["key"] != "key-2" {
		t.Fatalf("warned key = %v, want key-2", warns[0]["key"])
	}
}
