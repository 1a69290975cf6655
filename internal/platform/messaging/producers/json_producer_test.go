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

func TestJSONProducer_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("EncodesValueUnderKey", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &JSONProducer{logger: discardLogger(), writer: mockWriter, topic: "sms-outbound"}
		value := map[string]string{"phone": "254722123456", "message": "Loan approved"}

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "254722123456" {
				return false
			}
			var decoded map[string]string
			return json.Unmarshal(msgs[0].Value, &decoded) == nil && decoded["message"] == "Loan approved"
		})).Return(nil).Once()

		require.NoError(t, producer.Publish(ctx, "254722123456", value))
		mockWriter.AssertExpectations(t)
	})

	t.Run("UnencodableValue", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &JSONProducer{logger: discardLogger(), writer: mockWriter, topic: "sms-outbound"}

		err := producer.Publish(ctx, "k", make(chan int))
		assert.Error(t, err)
		mockWriter.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
	})

	t.Run("WriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &JSONProducer{logger: discardLogger(), writer: mockWriter, topic: "c2b-confirmations"}
		writerErr := errors.New("leader not available")

		mockWriter.On("WriteMessages", ctx, mock.Anything).Return(writerErr).Once()

		assert.ErrorIs(t, producer.Publish(ctx, "k", struct{}{}), writerErr)
	})
}

func TestJSONProducer_Close(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := &JSONProducer{logger: discardLogger(), writer: mockWriter, topic: "t"}
	mockWriter.On("Close").Return(nil).Once()

	assert.NoError(t, producer.Close())
	mockWriter.AssertExpectations(t)
}

func TestEnsureTopic(t *testing.T) {
	t.Run("ExistingTopic", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", []string{"c2b"}).Return([]kafka.Partition{{Topic: "c2b"}}, nil).Once()

		require.NoError(t, ensureTopic(admin, "c2b", 3, 1, 0, discardLogger()))
		admin.AssertNotCalled(t, "CreateTopics", mock.Anything)
	})

	t.Run("MissingTopicIsCreatedWithDefaults", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", []string{"c2b"}).Return(nil, errors.New("unknown topic"))
		admin.On("CreateTopics", []kafka.TopicConfig{{Topic: "c2b", NumPartitions: 1, ReplicationFactor: 1}}).Return(nil).Once()

		require.NoError(t, ensureTopic(admin, "c2b", 0, 0, 0, discardLogger()))
		admin.AssertNumberOfCalls(t, "ReadPartitions", partitionReadAttempts)
		admin.AssertExpectations(t)
	})

	t.Run("CreateFails", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", mock.Anything).Return([]kafka.Partition{}, nil)
		admin.On("CreateTopics", mock.Anything).Return(errors.New("not authorized"))

		assert.Error(t, ensureTopic(admin, "c2b", 1, 1, 0, discardLogger()))
	})
}
