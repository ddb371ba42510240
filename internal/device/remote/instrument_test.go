package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/musolsong/musolsong-core/internal/device"
	"github.com/musolsong/musolsong-core/internal/infrastructure/mqtt"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockBroker captures publishes and lets tests deliver messages to the
// instrument's subscribed handlers.
type mockBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []publishedMessage
	ackAll    bool // auto-ack every command as accepted
	nackAll   bool // auto-ack every command as rejected
	failPub   bool
}

type publishedMessage struct {
	Topic   string
	Command command
}

func newMockBroker() *mockBroker {
	return &mockBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	if m.failPub {
		m.mu.Unlock()
		return errors.New("broker unavailable")
	}

	var cmd command
	_ = json.Unmarshal(payload, &cmd)
	m.published = append(m.published, publishedMessage{Topic: topic, Command: cmd})
	ackAll, nackAll := m.ackAll, m.nackAll
	m.mu.Unlock()

	if ackAll || nackAll {
		ack := ackMessage{ID: cmd.ID, OK: ackAll, Reason: "not in a valid state"}
		if ackAll {
			ack.Reason = ""
		}
		go m.deliverAck(ack)
	}
	return nil
}

func (m *mockBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockBroker) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockBroker) deliver(topic string, payload any) {
	m.mu.Lock()
	handler := m.handlers[topic]
	m.mu.Unlock()
	if handler == nil {
		return
	}
	data, _ := json.Marshal(payload)
	_ = handler(topic, data)
}

func (m *mockBroker) deliverAck(ack ackMessage) {
	var topics mqtt.Topics
	m.deliver(topics.InstrumentAck(string(device.RolePolarimeter)), ack)
}

func (m *mockBroker) deliverStatus(msg statusMessage) {
	var topics mqtt.Topics
	m.deliver(topics.InstrumentStatus(string(device.RolePolarimeter)), msg)
}

func (m *mockBroker) getPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]publishedMessage, len(m.published))
	copy(cpy, m.published)
	return cpy
}

// ─── Helper ─────────────────────────────────────────────────────────────────

func setupInstrument(t *testing.T, broker *mockBroker) *Instrument {
	t.Helper()
	inst, err := New(device.RolePolarimeter, broker, 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestInstrument_ArmTriggerReady(t *testing.T) {
	broker := newMockBroker()
	broker.ackAll = true
	inst := setupInstrument(t, broker)
	ctx := context.Background()

	params := map[string]float64{"angle": 45}
	if err := inst.Arm(ctx, params); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if got := inst.Status(); got != device.StatusArmed {
		t.Errorf("status after arm = %q, want %q", got, device.StatusArmed)
	}

	if err := inst.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if got := inst.Status(); got != device.StatusRunning {
		t.Errorf("status after trigger = %q, want %q", got, device.StatusRunning)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		broker.deliverStatus(statusMessage{State: stateReady})
	}()
	if err := inst.WaitReady(ctx, time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if got := inst.Status(); got != device.StatusIdle {
		t.Errorf("status after ready = %q, want %q", got, device.StatusIdle)
	}

	msgs := broker.getPublished()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 published commands, got %d", len(msgs))
	}
	if msgs[0].Command.Action != actionArm {
		t.Errorf("first action = %q, want %q", msgs[0].Command.Action, actionArm)
	}
	if msgs[0].Command.Params["angle"] != 45 {
		t.Errorf("arm params = %v, want angle 45", msgs[0].Command.Params)
	}
	if msgs[1].Command.Action != actionTrigger {
		t.Errorf("second action = %q, want %q", msgs[1].Command.Action, actionTrigger)
	}
	wantTopic := "musolsong/command/polarimeter"
	if msgs[0].Topic != wantTopic {
		t.Errorf("topic = %q, want %q", msgs[0].Topic, wantTopic)
	}
}

func TestInstrument_ArmIdempotentSkipsResend(t *testing.T) {
	broker := newMockBroker()
	broker.ackAll = true
	inst := setupInstrument(t, broker)
	ctx := context.Background()

	if err := inst.Arm(ctx, map[string]float64{"angle": 10}); err != nil {
		t.Fatalf("first Arm: %v", err)
	}
	if err := inst.Arm(ctx, map[string]float64{"angle": 10}); err != nil {
		t.Fatalf("second Arm: %v", err)
	}

	if got := len(broker.getPublished()); got != 1 {
		t.Errorf("published commands = %d, want 1", got)
	}
}

func TestInstrument_MissingAckIsCommunicationLost(t *testing.T) {
	broker := newMockBroker() // never acks
	inst := setupInstrument(t, broker)

	err := inst.Arm(context.Background(), nil)
	devErr, ok := device.AsError(err)
	if !ok {
		t.Fatalf("expected *device.Error, got: %v", err)
	}
	if devErr.Kind != device.KindCommunicationLost {
		t.Errorf("kind = %q, want %q", devErr.Kind, device.KindCommunicationLost)
	}
	if got := inst.Status(); got != device.StatusIdle {
		t.Errorf("status = %q, want %q", got, device.StatusIdle)
	}
}

func TestInstrument_NackIsRejected(t *testing.T) {
	broker := newMockBroker()
	broker.nackAll = true
	inst := setupInstrument(t, broker)

	err := inst.Arm(context.Background(), map[string]float64{"angle": 45})
	devErr, ok := device.AsError(err)
	if !ok {
		t.Fatalf("expected *device.Error, got: %v", err)
	}
	if devErr.Kind != device.KindRejected {
		t.Errorf("kind = %q, want %q", devErr.Kind, device.KindRejected)
	}
	if devErr.Reason != "not in a valid state" {
		t.Errorf("reason = %q, want bridge reason", devErr.Reason)
	}
}

func TestInstrument_PublishFailureIsCommunicationLost(t *testing.T) {
	broker := newMockBroker()
	broker.failPub = true
	inst := setupInstrument(t, broker)

	err := inst.Arm(context.Background(), nil)
	devErr, ok := device.AsError(err)
	if !ok {
		t.Fatalf("expected *device.Error, got: %v", err)
	}
	if devErr.Kind != device.KindCommunicationLost {
		t.Errorf("kind = %q, want %q", devErr.Kind, device.KindCommunicationLost)
	}
}

func TestInstrument_WaitReadyTimeout(t *testing.T) {
	broker := newMockBroker()
	broker.ackAll = true
	inst := setupInstrument(t, broker)
	ctx := context.Background()

	if err := inst.Arm(ctx, nil); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := inst.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	err := inst.WaitReady(ctx, 20*time.Millisecond)
	if !device.IsTimeout(err) {
		t.Fatalf("expected ErrTimedOut, got: %v", err)
	}
}

func TestInstrument_FaultStatusIsHardwareFault(t *testing.T) {
	broker := newMockBroker()
	broker.ackAll = true
	inst := setupInstrument(t, broker)
	ctx := context.Background()

	if err := inst.Arm(ctx, nil); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := inst.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		broker.deliverStatus(statusMessage{State: stateFault, Reason: "shutter jammed"})
	}()

	err := inst.WaitReady(ctx, time.Second)
	devErr, ok := device.AsError(err)
	if !ok {
		t.Fatalf("expected *device.Error, got: %v", err)
	}
	if devErr.Kind != device.KindHardwareFault {
		t.Errorf("kind = %q, want %q", devErr.Kind, device.KindHardwareFault)
	}
	if devErr.Reason != "shutter jammed" {
		t.Errorf("reason = %q, want %q", devErr.Reason, "shutter jammed")
	}
	if got := inst.Status(); got != device.StatusFaulted {
		t.Errorf("status = %q, want %q", got, device.StatusFaulted)
	}
}

func TestInstrument_StaleReadyDoesNotSatisfyNewTrigger(t *testing.T) {
	broker := newMockBroker()
	broker.ackAll = true
	inst := setupInstrument(t, broker)
	ctx := context.Background()

	if err := inst.Arm(ctx, nil); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	// A leftover ready from before the trigger must be discarded.
	broker.deliverStatus(statusMessage{State: stateReady})

	if err := inst.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	err := inst.WaitReady(ctx, 20*time.Millisecond)
	if !device.IsTimeout(err) {
		t.Fatalf("expected ErrTimedOut for stale ready, got: %v", err)
	}
}

func TestInstrument_AbortReturnsToIdle(t *testing.T) {
	broker := newMockBroker()
	broker.ackAll = true
	inst := setupInstrument(t, broker)
	ctx := context.Background()

	if err := inst.Arm(ctx, nil); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := inst.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	if err := inst.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if got := inst.Status(); got != device.StatusIdle {
		t.Errorf("status after abort = %q, want %q", got, device.StatusIdle)
	}
}
