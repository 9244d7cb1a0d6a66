package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// While the client is not connected the message is handed to paho, which
// queues it until the connection is up, and Publish returns nil at once.
// While connected, Publish waits for the broker acknowledgment, bounded by
// ctx and a fixed publish timeout.
//
// Parameters:
//   - ctx: Bounds the wait for acknowledgment
//   - topic: The topic to publish to (e.g., "tivoremote:746000190000001/connected")
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if c.isClosed() {
		return ErrClosed
	}

	connected := c.IsConnected()
	token := c.client.Publish(topic, qos, retained, payload)
	if !connected {
		return nil
	}

	return waitToken(ctx, token, ErrPublishFailed)
}

// waitToken waits for a paho token, bounded by ctx and defaultPublishTimeout.
func waitToken(ctx context.Context, token pahomqtt.Token, failed error) error {
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: %w after %v", failed, ErrTimeout, defaultPublishTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", failed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}
