package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/mqtt"
)

// Subscriber is the narrow MQTT surface the command consumer needs.
// Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// commandTimeout bounds how long one bus command may occupy the handler
// goroutine. Scene switches wait for render loops to wind down, so this is
// generous relative to the scheduler's internal timeouts.
const commandTimeout = 30 * time.Second

// BindConsumer subscribes the dispatcher to the device command wildcard.
//
// Commands and status publications share the wildcard, so the handler
// filters out Core's own outbound traffic before dispatching. Handler
// errors are already logged and published by the dispatcher; they are not
// propagated to the MQTT layer.
func BindConsumer(bus Subscriber, topics mqtt.Topics, d *Dispatcher) error {
	handler := func(topic string, payload []byte) error {
		deviceID, section, action, ok := topics.ParseCommand(topic)
		if !ok {
			d.logger.Debug("ignoring unparseable topic", "topic", topic)
			return nil
		}
		if mqtt.OutboundAction(section, action) {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		// Dispatch publishes the outcome itself; the returned error is for
		// programmatic callers only.
		_ = d.Dispatch(ctx, NewEnvelope(deviceID, section, action, payload))
		return nil
	}

	if err := bus.Subscribe(topics.AllDeviceCommands(), 1, handler); err != nil {
		return fmt.Errorf("subscribing to device commands: %w", err)
	}
	return nil
}
