package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/ameyrk/momentum/notifications/email"
	cache "github.com/ameyrk/momentum/storage/cache"
	"github.com/streadway/amqp"
)

// Notification kinds. A broken notification is published by the daily reset
// pass when reconciliation zeroes a streak; a milestone notification is
// published by the toggle path when a streak reaches a milestone length.
const (
	KindStreakBroken = "streak_broken"
	KindMilestone    = "milestone"
)

// globalCount is used in the round robin algorithm to assign producers to
// each notification message.
var globalCount int

// NotificationProducerFactory is a struct for creating new NotificationProducer instances.
type NotificationProducerFactory struct{}

// NotificationConsumerFactory is a struct for creating new NotificationConsumer instances.
// It contains a Cache which is used to deduplicate deliveries.
type NotificationConsumerFactory struct {
	Cache cache.CacheInterface
}

// NotificationProducer manages the connection, channel, and queue of the
// AMQP message producer for streak notifications.
type NotificationProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
}

// NotificationConsumer manages the connection, channel, queue and cache of
// the AMQP message consumer for streak notifications.
type NotificationConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   cache.CacheInterface
}

// NotificationMessage is the content of a streak notification. Id doubles as
// the deduplication key: the scheduler delivers maintenance effects
// at-least-once, so the consumer must tolerate redelivery.
type NotificationMessage struct {
	Id        string `json:"id"`
	Kind      string `json:"kind"`
	To        string `json:"to"`
	HabitName string `json:"habit_name"`
	Streak    int    `json:"streak"`
}

// CreateProducer instantiates a new NotificationProducer with the given
// connection, channel, and queue.
func (f *NotificationProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &NotificationProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a new NotificationConsumer with the given
// connection, channel, queue, and cache.
func (f *NotificationConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &NotificationConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
	}, nil
}

// Publish publishes the given message body to the notification queue.
func (np *NotificationProducer) Publish(body []byte) error {
	err := np.channel.Publish(
		"",            // exchange
		np.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume sets up a consumer on the notification queue and launches a
// goroutine that continuously reads from it. Each message is unmarshalled,
// checked against the cache for a previous delivery, and either handed to the
// email sender or acknowledged as already processed. Transient failures are
// nacked and requeued.
func (nc *NotificationConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := nc.channel.Consume(
		nc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				message := &NotificationMessage{}
				if err := json.Unmarshal(d.Body, message); err != nil {
					log.Printf("failed to unmarshal notification message: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
					continue
				}

				// Fetch processed state from cache
				processed, err := nc.cache.Get(ctx, "notify_"+message.Id)
				if err != nil {
					// Ignore cache misses, handle other errors
					if err.Error() != "key does not exist" {
						log.Printf("error checking cache: %v", err)
						d.Nack(false, true)
						continue
					}
				}

				if processed != nil {
					d.Ack(false)
					continue
				}

				// First delivery of this message, send the email.
				if err := sendNotification(message); err != nil {
					log.Printf("failed to send notification: %v", err)
					d.Nack(false, true)
				} else {
					d.Ack(false)
					if err := nc.cache.Set(ctx, "notify_"+message.Id, true); err != nil {
						log.Printf("failed to set key in cache: %v", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

func sendNotification(message *NotificationMessage) error {
	switch message.Kind {
	case KindStreakBroken:
		return email.SendStreakBrokenEmail(message.To, message.HabitName, message.Streak)
	case KindMilestone:
		return email.SendMilestoneEmail(message.To, message.HabitName, message.Streak)
	default:
		return fmt.Errorf("unknown notification kind: %s", message.Kind)
	}
}

// BuildNotificationQueue initializes a new Queue for handling streak
// notification messages, with the given number of producers and consumers
// and a cache for delivery deduplication.
func BuildNotificationQueue(rabbitMQURL string, numProducers int, numConsumers int, dedupeCache cache.CacheInterface) *Queue {

	// Producer factories
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &NotificationProducerFactory{}
	}

	// Consumer factories
	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &NotificationConsumerFactory{Cache: dedupeCache}
	}

	// Initialize the queue
	queue := InitQueue(rabbitMQURL, "streakNotifications", prodFactories, consFactories)
	return queue
}

// InitNotificationCache initializes the cache storage used to deduplicate
// notification deliveries.
func InitNotificationCache(url string) cache.CacheInterface {
	c, err := cache.NewCache(url)
	if err != nil {
		log.Fatalf("Error connecting to cache: %v", err)
	}
	return c
}

// ProcessNotification serializes the notification message and publishes it
// onto the queue using one of the producers in a round-robin manner.
func ProcessNotification(msg *NotificationMessage, notifyQueue *Queue) error {

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal notification message: " + err.Error())
	}

	producerCount := len(notifyQueue.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	producer := notifyQueue.Producers[globalCount%producerCount]
	globalCount++

	if err := producer.Publish(body); err != nil {
		return errors.New("failed to publish notification message: " + err.Error())
	}

	return nil
}
