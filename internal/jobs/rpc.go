package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"evsched/internal/domain"
	"evsched/internal/transport"
)

// RPCJob pushes RPC_CALL_FROM_SERVER_TO_DEVICE messages. Only DEVICE
// originators are accepted.
type RPCJob struct{ p pusher }

func NewRPCJob(env Env) *RPCJob {
	return &RPCJob{p: newPusher(env, domain.TypeSendRPCRequest)}
}

func (j *RPCJob) Type() string { return domain.TypeSendRPCRequest }

func (j *RPCJob) Supports(ev *domain.Event) bool {
	return ev != nil && ev.Action.Type == domain.ActionRPCToDevice
}

type rpcBody struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (j *RPCJob) Execute(ctx context.Context, ev *domain.Event) error {
	rpc := ev.Action.RPC
	if rpc == nil {
		return fmt.Errorf("%w: %s: no rpc payload", ErrMalformed, ev.Key)
	}
	if ev.Action.Originator.Type != domain.EntityDevice {
		return fmt.Errorf("%w: %s: rpc needs a DEVICE originator, got %q", ErrMalformed, ev.Key, ev.Action.Originator.Type)
	}

	data, err := json.Marshal(rpcBody{Method: rpc.Method, Params: rpc.Params})
	if err != nil {
		return fmt.Errorf("%w: %s: encode rpc body: %v", ErrMalformed, ev.Key, err)
	}
	msg := j.p.message(ev, domain.ActionRPCToDevice, data)
	msg.Metadata[transport.MetaRequestUUID] = uuid.NewString()
	msg.Metadata[transport.MetaOriginServiceID] = j.p.env.ServiceID
	msg.Metadata[transport.MetaOneway] = strconv.FormatBool(rpc.Oneway)
	msg.Metadata[transport.MetaPersistent] = strconv.FormatBool(rpc.Persistent)
	msg.Metadata[transport.MetaTimeout] = strconv.FormatInt(rpc.Timeout.Milliseconds(), 10)
	j.p.push(ctx, ev, msg)
	return nil
}
