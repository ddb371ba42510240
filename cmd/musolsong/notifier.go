package main

import (
	"encoding/json"

	"github.com/musolsong/musolsong-core/internal/engine"
	"github.com/musolsong/musolsong-core/internal/infrastructure/logging"
	"github.com/musolsong/musolsong-core/internal/infrastructure/mqtt"
)

// mqttNotifier publishes engine progress events to the run's event
// topic so front-ends can follow a run live. Delivery is best effort;
// a failed publish never disturbs the run.
type mqttNotifier struct {
	broker *mqtt.Client
	topics mqtt.Topics
	log    *logging.Logger
}

func newMQTTNotifier(broker *mqtt.Client, log *logging.Logger) *mqttNotifier {
	return &mqttNotifier{broker: broker, log: log}
}

// Notify implements engine.Notifier.
func (n *mqttNotifier) Notify(event engine.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error("marshalling event", "type", event.Type, "error", err)
		return
	}
	if err := n.broker.Publish(n.topics.RunEvent(event.RunID), payload, 1, false); err != nil {
		n.log.Error("publishing event", "type", event.Type, "error", err)
	}
}
