package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/frame/config"
)

type MessagingConfig struct {
	config.ConfigurationDefault

	// Token verification for the auth event on the message channel.
	// The token is issued by the identity service; this service only verifies it.
	AuthTokenSecret string `envDefault:"chatappmt" env:"AUTH_TOKEN_SECRET"`

	// Connection management
	MaxConnections       int `envDefault:"10000" env:"MAX_CONNECTIONS"`
	WriteDeadlineSeconds int `envDefault:"10"    env:"WRITE_DEADLINE_SECONDS"`

	// Retry queue bounds. When a receiver's backlog exceeds this depth the
	// oldest entry is dropped and published to the dead-letter queue.
	RetryQueueDepthPerReceiver int `envDefault:"1000" env:"RETRY_QUEUE_DEPTH_PER_RECEIVER"`

	// Notification fanout queues, sharded by receiver profile ID.
	QueueNotificationFanoutName string   `envDefault:"notification.fanout.%d"       env:"QUEUE_NOTIFICATION_FANOUT_NAME"`
	QueueNotificationFanoutURI  []string `envDefault:"mem://notification.fanout.0"  env:"QUEUE_NOTIFICATION_FANOUT_URI"`
	NotificationShardCount      int      `envDefault:"1"                            env:"NOTIFICATION_SHARD_COUNT"`

	// Dead-letter queue for retry backlog entries evicted by the depth cap.
	QueueDeadLetterName string `envDefault:"dead.letter.queue"       env:"QUEUE_DEAD_LETTER_NAME"`
	QueueDeadLetterURI  string `envDefault:"mem://dead.letter.queue" env:"QUEUE_DEAD_LETTER_URI"`
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *MessagingConfig) Validate() error {
	var errs []error

	if c.AuthTokenSecret == "" {
		errs = append(errs, errors.New("AuthTokenSecret cannot be empty"))
	}

	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("MaxConnections must be > 0"))
	}

	if c.WriteDeadlineSeconds <= 0 {
		errs = append(errs, errors.New("WriteDeadlineSeconds must be > 0"))
	}

	if c.RetryQueueDepthPerReceiver <= 0 {
		errs = append(errs, errors.New("RetryQueueDepthPerReceiver must be > 0"))
	}

	if err := c.ValidateSharding(); err != nil {
		errs = append(errs, err)
	}

	for i, uri := range c.QueueNotificationFanoutURI {
		if err := validateQueueURI(uri, fmt.Sprintf("QueueNotificationFanoutURI[%d]", i)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateQueueURI(c.QueueDeadLetterURI, "QueueDeadLetterURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateSharding checks that the notification shard layout is coherent.
func (c *MessagingConfig) ValidateSharding() error {
	if c.NotificationShardCount <= 0 {
		return errors.New("NotificationShardCount must be > 0")
	}

	if len(c.QueueNotificationFanoutURI) != c.NotificationShardCount {
		return fmt.Errorf("QueueNotificationFanoutURI count (%d) must match NotificationShardCount (%d)",
			len(c.QueueNotificationFanoutURI), c.NotificationShardCount)
	}

	return nil
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
