package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
	logx "evsched/pkg/logx"
)

func testMessage() *Message {
	return &Message{
		ID:         uuid.New(),
		Type:       domain.ActionPostAttributes,
		TenantID:   uuid.New(),
		Originator: domain.EntityID{Type: domain.EntityDevice, ID: uuid.New()},
		Metadata:   map[string]string{MetaScope: domain.DefaultScope},
		Data:       []byte(`{"a":1}`),
		Timestamp:  time.Now(),
	}
}

func TestLogSinkReportsSuccess(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewLogSink(logx.NewWriter(&buf, "info"))
	msg := testMessage()

	ok := false
	s.Push(context.Background(), msg.TenantID, msg.Originator, msg, Callback{
		OnSuccess: func(*Message) { ok = true },
		OnFailure: func(_ *Message, err error) { t.Fatalf("unexpected failure: %v", err) },
	})
	if !ok {
		t.Fatal("OnSuccess not called")
	}
	if !strings.Contains(buf.String(), `"msg_type":"POST_ATTRIBUTES_REQUEST"`) {
		t.Fatalf("log output missing msg_type: %s", buf.String())
	}
}

func TestRateLimitedFailsOnCancelledContext(t *testing.T) {
	t.Parallel()
	calls := 0
	next := SinkFunc(func(_ context.Context, _ uuid.UUID, _ domain.EntityID, msg *Message, cb Callback) {
		calls++
		cb.Success(msg)
	})
	s := NewRateLimited(next, 1, 1)
	msg := testMessage()

	s.Push(context.Background(), msg.TenantID, msg.Originator, msg, Callback{})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got error
	s.Push(ctx, msg.TenantID, msg.Originator, msg, Callback{OnFailure: func(_ *Message, err error) { got = err }})
	if got == nil || !errors.Is(got, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", got)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRateLimitedDisabled(t *testing.T) {
	t.Parallel()
	next := NewLogSink(logx.Nop())
	if got := NewRateLimited(next, 0, 0); got != Sink(next) {
		t.Fatal("expected unwrapped sink when rate is 0")
	}
}

func TestCallbackNilSafe(t *testing.T) {
	t.Parallel()
	var cb Callback
	cb.Success(testMessage())
	cb.Failure(testMessage(), errors.New("x"))
}
