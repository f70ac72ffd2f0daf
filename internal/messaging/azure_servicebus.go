package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/config"
)

// EventStatusNoted is the subject of messages published after a ledger
// accepted status note.
const EventStatusNoted = "shipment.status_noted"

const receiveBatchSize = 10

// StatusNotedEvent announces one accepted status note
type StatusNotedEvent struct {
	TrackingID      string    `json:"trackingId"`
	Notes           string    `json:"notes"`
	Author          string    `json:"author"`
	TransactionHash string    `json:"transactionHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher publishes shipment events
type Publisher interface {
	PublishStatusNoted(ctx context.Context, event StatusNotedEvent) error
	Close() error
}

// Handler processes one message body. A returned error abandons the message
// so it is redelivered.
type Handler func(ctx context.Context, body []byte) error

// ServiceBusClient publishes and consumes shipment events on one queue
type ServiceBusClient struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	source    string
}

// NewServiceBusClient creates a new Azure Service Bus client
func NewServiceBusClient(cfg config.AzureConfig, source string) (*ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &ServiceBusClient{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		source:    source,
	}, nil
}

// PublishStatusNoted sends a status noted event. The transaction hash is
// the message id so duplicate detection on the queue can drop resends.
func (s *ServiceBusClient) PublishStatusNoted(ctx context.Context, event StatusNotedEvent) error {
	msg, err := newStatusNotedMessage(event, s.source)
	if err != nil {
		return err
	}

	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to publish %s for %s", EventStatusNoted, event.TrackingID)
	}
	return nil
}

func newStatusNotedMessage(event StatusNotedEvent, source string) (*azservicebus.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message body")
	}

	subject := EventStatusNoted
	contentType := "application/json"
	msg := &azservicebus.Message{
		Body:        data,
		Subject:     &subject,
		ContentType: &contentType,
		ApplicationProperties: map[string]interface{}{
			"source": source,
			"type":   EventStatusNoted,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}
	if event.TransactionHash != "" {
		id := event.TransactionHash
		msg.MessageID = &id
	}

	return msg, nil
}

// DecodeStatusNoted parses a status noted message body
func DecodeStatusNoted(body []byte) (StatusNotedEvent, error) {
	var event StatusNotedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, errors.Wrap(err, "failed to decode status noted event")
	}
	if event.TrackingID == "" {
		return event, errors.New("status noted event has no tracking id")
	}
	return event, nil
}

// ProcessMessages receives batches from the queue until ctx is done,
// completing handled messages and abandoning failed ones.
func (s *ServiceBusClient) ProcessMessages(ctx context.Context, handler Handler) error {
	receiver, err := s.client.NewReceiverForQueue(s.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	log.Info().Str("queue", s.queueName).Msg("Consuming shipment events")

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to receive messages")
		}

		for _, message := range messages {
			if err := handler(ctx, message.Body); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the Service Bus client
func (s *ServiceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}
