package producers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDLQProducer_PublishToDLQ(t *testing.T) {
	dlqTopic := "c2b-confirmations-dlq"
	ctx := context.Background()

	t.Run("SuccessfulPublishToDLQ", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{logger: discardLogger(), writer: mockWriter, dlqTopic: dlqTopic}

		key := "RKTQDM7W6S"
		original := []byte(`{"TransID":"RKTQDM7W6S","TransAmount":"abc"}`)
		reason := "invalid amount"

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != key {
				return false
			}
			var payload map[string]string
			if err := json.Unmarshal(msgs[0].Value, &payload); err != nil {
				return false
			}
			return payload["original_key"] == key &&
				payload["original_value"] == string(original) &&
				payload["dlq_reason"] == reason &&
				payload["timestamp"] != "" &&
				string(msgs[0].Headers[0].Value) == reason
		})).Return(nil).Once()

		require.NoError(t, producer.PublishToDLQ(ctx, key, original, reason))
		mockWriter.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{logger: discardLogger(), writer: mockWriter, dlqTopic: dlqTopic}
		writerErr := errors.New("broker unavailable")

		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerErr).Once()

		err := producer.PublishToDLQ(ctx, "k", []byte("v"), "bad")
		assert.ErrorIs(t, err, writerErr)
		mockWriter.AssertExpectations(t)
	})

	t.Run("Disabled", func(t *testing.T) {
		producer := &DLQProducer{logger: discardLogger()}

		err := producer.PublishToDLQ(ctx, "k", []byte("v"), "bad")
		assert.ErrorIs(t, err, ErrDLQDisabled)
		assert.NoError(t, producer.Close())
	})
}

func TestDLQProducer_Close(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := &DLQProducer{logger: discardLogger(), writer: mockWriter, dlqTopic: "dlq"}
	closeErr := errors.New("close failed")

	mockWriter.On("Close").Return(closeErr).Once()

	assert.ErrorIs(t, producer.Close(), closeErr)
	mockWriter.AssertExpectations(t)
}
