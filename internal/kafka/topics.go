package kafka

import (
	"context"
	"errors"
	"fmt"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicFor names the topic a notification type is published on, e.g. booking.new_offer.
func TopicFor(prefix string, t models.NotificationType) string {
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}

// NotificationTopics lists the topics for every notification type.
func NotificationTopics(prefix string) []string {
	topics := make([]string, 0, len(models.AllNotificationTypes))
	for _, t := range models.AllNotificationTypes {
		topics = append(topics, TopicFor(prefix, t))
	}
	return topics
}

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(ctx context.Context, brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		switch {
		case err == nil:
			log.LogKafka("CREATE", topic, "topic created")
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.Debug("KAFKA", fmt.Sprintf("Topic %s already exists", topic))
		default:
			// Continue trying to create other topics even if one fails
			log.Error("KAFKA", fmt.Sprintf("Error creating topic %s: %v", topic, err))
		}
	}

	// Wait a moment for topics to be fully created
	time.Sleep(1 * time.Second)
	return nil
}

// ListTopics returns a list of all existing topics
func ListTopics(ctx context.Context, brokers []string) ([]string, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, err
	}

	topicMap := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !topicMap[p.Topic] {
			topicMap[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

// MissingTopics returns the entries of wanted that are not in existing.
func MissingTopics(existing, wanted []string) []string {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	var missing []string
	for _, t := range wanted {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

// VerifyTopics checks that every wanted topic is present on the cluster.
func VerifyTopics(ctx context.Context, brokers []string, wanted []string, log *logger.Logger) error {
	existing, err := ListTopics(ctx, brokers)
	if err != nil {
		return fmt.Errorf("failed to list kafka topics: %w", err)
	}
	if missing := MissingTopics(existing, wanted); len(missing) > 0 {
		return fmt.Errorf("kafka topics missing: %v", missing)
	}
	log.Info("KAFKA", fmt.Sprintf("All %d notification topics present (%d on cluster)", len(wanted), len(existing)))
	return nil
}
