package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/musolsong/musolsong-core/internal/device"
	"github.com/musolsong/musolsong-core/internal/infrastructure/mqtt"
)

// Broker is the subset of the MQTT client the instrument needs.
// *mqtt.Client satisfies it; tests substitute a fake.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// command is sent to the instrument bridge on the command topic.
type command struct {
	ID     string             `json:"id"`
	Action string             `json:"action"`
	Params map[string]float64 `json:"params,omitempty"`
}

// ackMessage arrives on the ack topic, correlated by command ID.
type ackMessage struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// statusMessage arrives on the status topic when a triggered operation
// finishes. State is "ready" or "fault".
type statusMessage struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

const (
	actionArm     = "arm"
	actionTrigger = "trigger"
	actionAbort   = "abort"

	stateReady = "ready"
	stateFault = "fault"

	commandQoS = byte(1)
)

// Instrument drives a real bench instrument through its MQTT bridge.
//
// Every command carries a fresh correlation ID and must be acknowledged
// within the configured ack timeout; a missing ack is treated as lost
// communication, a negative ack as a rejection. Completion of a
// triggered operation arrives asynchronously on the status topic.
type Instrument struct {
	role       device.Role
	broker     Broker
	topics     mqtt.Topics
	ackTimeout time.Duration
	log        Logger

	mu      sync.Mutex
	status  device.Status
	pending map[string]chan ackMessage
	readyCh chan statusMessage
}

// New creates an Instrument and subscribes to its bridge's ack and
// status topics. Call Close to release the subscriptions.
func New(role device.Role, broker Broker, ackTimeout time.Duration, logger Logger) (*Instrument, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	i := &Instrument{
		role:       role,
		broker:     broker,
		ackTimeout: ackTimeout,
		log:        logger,
		status:     device.StatusIdle,
		pending:    make(map[string]chan ackMessage),
		readyCh:    make(chan statusMessage, 1),
	}

	if err := broker.Subscribe(i.topics.InstrumentAck(string(role)), commandQoS, i.handleAck); err != nil {
		return nil, fmt.Errorf("remote: subscribe ack topic for %s: %w", role, err)
	}
	if err := broker.Subscribe(i.topics.InstrumentStatus(string(role)), commandQoS, i.handleStatus); err != nil {
		_ = broker.Unsubscribe(i.topics.InstrumentAck(string(role)))
		return nil, fmt.Errorf("remote: subscribe status topic for %s: %w", role, err)
	}
	return i, nil
}

// Close releases the instrument's MQTT subscriptions.
func (i *Instrument) Close() error {
	ackErr := i.broker.Unsubscribe(i.topics.InstrumentAck(string(i.role)))
	statusErr := i.broker.Unsubscribe(i.topics.InstrumentStatus(string(i.role)))
	if ackErr != nil {
		return ackErr
	}
	return statusErr
}

// Role implements device.Interface.
func (i *Instrument) Role() device.Role { return i.role }

// Status implements device.Interface.
func (i *Instrument) Status() device.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Arm implements device.Interface. An instrument already armed and not
// yet triggered is left as is; the bridge is not contacted again.
func (i *Instrument) Arm(ctx context.Context, params map[string]float64) error {
	i.mu.Lock()
	if i.status == device.StatusArmed {
		i.mu.Unlock()
		return nil
	}
	i.mu.Unlock()

	if err := i.send(ctx, actionArm, params); err != nil {
		return err
	}

	i.mu.Lock()
	i.status = device.StatusArmed
	i.mu.Unlock()
	return nil
}

// Trigger implements device.Interface.
func (i *Instrument) Trigger(ctx context.Context) error {
	i.mu.Lock()
	if i.status != device.StatusArmed {
		i.mu.Unlock()
		return device.NewError(i.role, device.KindRejected, "trigger without arm")
	}
	// Fresh channel so a stale ready from an earlier step cannot
	// satisfy this trigger's wait.
	i.readyCh = make(chan statusMessage, 1)
	i.mu.Unlock()

	if err := i.send(ctx, actionTrigger, nil); err != nil {
		return err
	}

	i.mu.Lock()
	i.status = device.StatusRunning
	i.mu.Unlock()
	return nil
}

// WaitReady implements device.Interface.
func (i *Instrument) WaitReady(ctx context.Context, timeout time.Duration) error {
	i.mu.Lock()
	ready := i.readyCh
	i.mu.Unlock()

	select {
	case msg := <-ready:
		i.mu.Lock()
		defer i.mu.Unlock()
		if msg.State == stateFault {
			i.status = device.StatusFaulted
			return device.NewError(i.role, device.KindHardwareFault, msg.Reason)
		}
		i.status = device.StatusIdle
		return nil
	case <-time.After(timeout):
		return device.ErrTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort implements device.Interface. A bridge that does not acknowledge
// the abort is reported as lost communication; the local state still
// returns to idle so a later sequence can start cleanly.
func (i *Instrument) Abort(ctx context.Context) error {
	err := i.send(ctx, actionAbort, nil)

	i.mu.Lock()
	i.status = device.StatusIdle
	i.mu.Unlock()

	if err != nil {
		i.log.Warn("abort not acknowledged", "role", i.role, "error", err)
	}
	return err
}

// send publishes a command and waits for its correlated ack.
func (i *Instrument) send(ctx context.Context, action string, params map[string]float64) error {
	cmd := command{ID: uuid.New().String(), Action: action, Params: params}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("remote: marshal %s command: %w", action, err)
	}

	ackCh := make(chan ackMessage, 1)
	i.mu.Lock()
	i.pending[cmd.ID] = ackCh
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		delete(i.pending, cmd.ID)
		i.mu.Unlock()
	}()

	if err := i.broker.Publish(i.topics.InstrumentCommand(string(i.role)), payload, commandQoS, false); err != nil {
		return &device.Error{Role: i.role, Kind: device.KindCommunicationLost, Reason: "publish " + action, Err: err}
	}

	i.log.Debug("command sent", "role", i.role, "action", action, "id", cmd.ID)

	select {
	case ack := <-ackCh:
		if !ack.OK {
			return device.NewError(i.role, device.KindRejected, ack.Reason)
		}
		return nil
	case <-time.After(i.ackTimeout):
		return device.NewError(i.role, device.KindCommunicationLost, action+" not acknowledged")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Instrument) handleAck(topic string, payload []byte) error {
	var ack ackMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("remote: decode ack on %s: %w", topic, err)
	}

	i.mu.Lock()
	ch, ok := i.pending[ack.ID]
	i.mu.Unlock()
	if !ok {
		i.log.Debug("ack for unknown command", "role", i.role, "id", ack.ID)
		return nil
	}

	select {
	case ch <- ack:
	default:
	}
	return nil
}

func (i *Instrument) handleStatus(topic string, payload []byte) error {
	var msg statusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("remote: decode status on %s: %w", topic, err)
	}

	i.mu.Lock()
	ready := i.readyCh
	i.mu.Unlock()

	select {
	case ready <- msg:
	default:
		i.log.Debug("status dropped, no waiter", "role", i.role, "state", msg.State)
	}
	return nil
}
