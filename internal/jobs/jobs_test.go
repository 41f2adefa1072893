package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/transport"
	logx "evsched/pkg/logx"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []*transport.Message
	fail error
}

func (s *recordingSink) Push(_ context.Context, _ uuid.UUID, _ domain.EntityID, msg *transport.Message, cb transport.Callback) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	if s.fail != nil {
		cb.Failure(msg, s.fail)
		return
	}
	cb.Success(msg)
}

func (s *recordingSink) last(t *testing.T) *transport.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		t.Fatal("no message pushed")
	}
	return s.msgs[len(s.msgs)-1]
}

func event(t *testing.T, typ, config string) *domain.Event {
	t.Helper()
	d := domain.Definition{
		ID:            uuid.New(),
		TenantID:      uuid.New(),
		Type:          typ,
		Enabled:       true,
		Configuration: json.RawMessage(config),
	}
	key, err := domain.KeyFor(d)
	if err != nil {
		t.Fatalf("KeyFor: %v", err)
	}
	act, err := domain.ParseAction(d)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	fired := time.UnixMilli(1700000000000)
	return &domain.Event{Key: key, Definition: d, Action: act, FiredAt: fired, IdempotencyKey: domain.IdempotencyKeyFor(key, fired)}
}

const deviceID = "7f0c3c7e-4bb4-4b55-9d7e-2a1b8c8d3e01"

func TestAttributeJobPushesScopedMessage(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	d := NewStandardDispatcher(Env{Sink: sink, Log: logx.Nop()})
	ev := event(t, domain.TypeUpdateAttribute, `{
		"originatorId":{"singleEntity":{"entityType":"ASSET","id":"`+deviceID+`"}},
		"msgBody":{"on":true,"level":3},
		"metadata":{"scope":"SHARED_SCOPE"}}`)

	if err := d.Execute(context.Background(), ev); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msg := sink.last(t)
	if msg.Type != domain.ActionPostAttributes {
		t.Fatalf("type = %q, want %q", msg.Type, domain.ActionPostAttributes)
	}
	if got := msg.Metadata[transport.MetaScope]; got != "SHARED_SCOPE" {
		t.Fatalf("scope = %q, want SHARED_SCOPE", got)
	}
	if got := msg.Metadata[transport.MetaIdempotencyKey]; got != ev.IdempotencyKey {
		t.Fatalf("idempotency key = %q, want %q", got, ev.IdempotencyKey)
	}
	if msg.Originator.Type != domain.EntityAsset || msg.Originator.ID.String() != deviceID {
		t.Fatalf("originator = %+v", msg.Originator)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("data: %v", err)
	}
	if body["on"] != true {
		t.Fatalf("data = %s", msg.Data)
	}
}

func TestRPCJobMetadata(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	d := NewStandardDispatcher(Env{Sink: sink, ServiceID: "evsched-test"})
	ev := event(t, domain.TypeSendRPCRequest, `{
		"originatorId":{"singleEntity":{"entityType":"DEVICE","id":"`+deviceID+`"}},
		"msgBody":{"method":"setGpio","params":{"pin":4}},
		"metadata":{"oneway":"true"}}`)

	if err := d.Execute(context.Background(), ev); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msg := sink.last(t)
	tests := map[string]string{
		transport.MetaOriginServiceID: "evsched-test",
		transport.MetaOneway:          "true",
		transport.MetaPersistent:      "false",
		transport.MetaTimeout:         "5000",
	}
	for k, want := range tests {
		if got := msg.Metadata[k]; got != want {
			t.Fatalf("metadata[%s] = %q, want %q", k, got, want)
		}
	}
	if _, err := uuid.Parse(msg.Metadata[transport.MetaRequestUUID]); err != nil {
		t.Fatalf("requestUUID: %v", err)
	}
	var body rpcBody
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("data: %v", err)
	}
	if body.Method != "setGpio" || string(body.Params) != `{"pin":4}` {
		t.Fatalf("body = %+v", body)
	}
}

func TestRPCJobRejectsAsset(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	d := NewStandardDispatcher(Env{Sink: sink})
	ev := event(t, domain.TypeSendRPCRequest, `{
		"originatorId":{"singleEntity":{"entityType":"ASSET","id":"`+deviceID+`"}},
		"msgBody":{"method":"reboot"}}`)

	err := d.Execute(context.Background(), ev)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want %v", err, ErrMalformed)
	}
	if len(sink.msgs) != 0 {
		t.Fatalf("pushed %d messages, want 0", len(sink.msgs))
	}
}

func TestCronJobDelegatesByActionType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		config string
		want   domain.ActionType
		err    error
	}{
		{
			name:   "attributes",
			config: `{"actionType":"POST_ATTRIBUTES_REQUEST","originatorId":{"singleEntity":{"entityType":"DEVICE","id":"` + deviceID + `"}},"msgBody":{"x":1}}`,
			want:   domain.ActionPostAttributes,
		},
		{
			name:   "rpc",
			config: `{"actionType":"RPC_CALL_FROM_SERVER_TO_DEVICE","originatorId":{"singleEntity":{"entityType":"DEVICE","id":"` + deviceID + `"}},"msgBody":{"method":"m"}}`,
			want:   domain.ActionRPCToDevice,
		},
		{
			name:   "unknown action",
			config: `{"actionType":"TELEMETRY","originatorId":{"singleEntity":{"entityType":"DEVICE","id":"` + deviceID + `"}}}`,
			err:    ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &recordingSink{}
			d := NewStandardDispatcher(Env{Sink: sink})
			err := d.Execute(context.Background(), event(t, domain.TypeCronJob, tt.config))
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := sink.last(t).Type; got != tt.want {
				t.Fatalf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnknownTypeIsUnhandled(t *testing.T) {
	t.Parallel()
	d := NewStandardDispatcher(Env{Sink: &recordingSink{}})
	ev := event(t, "sendEmail", `{"originatorId":{"singleEntity":{"entityType":"DEVICE","id":"`+deviceID+`"}}}`)
	if err := d.Execute(context.Background(), ev); !errors.Is(err, domain.ErrUnhandled) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnhandled)
	}
}

func TestPushFailureIsReportedNotReturned(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	sink := &recordingSink{fail: errors.New("broker down")}
	d := NewStandardDispatcher(Env{Sink: sink, Bus: bus})
	ev := event(t, domain.TypeUpdateAttribute, `{"originatorId":{"singleEntity":{"entityType":"DEVICE","id":"`+deviceID+`"}},"msgBody":{}}`)
	if err := d.Execute(context.Background(), ev); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.PushFailed {
			t.Fatalf("event = %s, want %s", e.Type, eventbus.PushFailed)
		}
		pe, ok := e.Data.(PushEvent)
		if !ok || pe.Error != "broker down" {
			t.Fatalf("data = %#v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no push event")
	}
}

func TestDispatcherTypes(t *testing.T) {
	t.Parallel()
	got := NewStandardDispatcher(Env{}).Types()
	want := []string{domain.TypeCronJob, domain.TypeSendRPCRequest, domain.TypeUpdateAttribute}
	if len(got) != len(want) {
		t.Fatalf("Types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types = %v, want %v", got, want)
		}
	}
}
