package mqtt

import (
	"context"
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// The subscription is tracked and applied on every (re)connect. When the
// client is currently connected it is also sent to the broker immediately
// and Subscribe waits for the SUBACK.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each message; must not block
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.isClosed() {
		return ErrClosed
	}

	// Track first so a connect racing with this call still applies it
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := waitToken(context.Background(), token, ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return err
	}

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// The topic is always removed from tracking. When connected, the broker is
// told as well; messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if c.isClosed() || !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	return waitToken(context.Background(), token, ErrUnsubscribeFailed)
}
