package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType names the kind of originator entity.
type EntityType string

const (
	EntityDevice EntityType = "DEVICE"
	EntityAsset  EntityType = "ASSET"
)

// EntityID is the originator a firing acts on.
type EntityID struct {
	Type EntityType `json:"entityType"`
	ID   uuid.UUID  `json:"id"`
}

// ActionType selects the downstream message a firing produces.
type ActionType string

const (
	ActionNone           ActionType = ""
	ActionPostAttributes ActionType = "POST_ATTRIBUTES_REQUEST"
	ActionRPCToDevice    ActionType = "RPC_CALL_FROM_SERVER_TO_DEVICE"
)

const (
	DefaultScope      = "SERVER_SCOPE"
	DefaultRPCTimeout = 5000 * time.Millisecond
)

// AttributeUpdate is the payload of an attribute push.
type AttributeUpdate struct {
	Scope string
	Body  json.RawMessage // msgBody as configured, always a JSON object
}

// RPCCall is the payload of a server-to-device RPC.
type RPCCall struct {
	Method     string
	Params     json.RawMessage
	Timeout    time.Duration
	Persistent bool
	Oneway     bool
}

// Action is a tagged union: exactly one of Attributes / RPC is set, matching Type.
// Type is ActionNone when the definition's type carries no known action; the
// dispatcher drops those at execution.
type Action struct {
	Type       ActionType
	Originator EntityID
	Attributes *AttributeUpdate
	RPC        *RPCCall
}

type configurationJSON struct {
	OriginatorID struct {
		SingleEntity *struct {
			EntityType string `json:"entityType"`
			ID         string `json:"id"`
		} `json:"singleEntity"`
	} `json:"originatorId"`
	ActionType string                     `json:"actionType"`
	MsgBody    json.RawMessage            `json:"msgBody"`
	Metadata   map[string]json.RawMessage `json:"metadata"`
}

func decodeConfiguration(d Definition) (configurationJSON, error) {
	var c configurationJSON
	raw := bytes.TrimSpace(d.Configuration)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return c, defErr(d.ID, "configuration", "missing")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, defErr(d.ID, "configuration", "decode: %v", err)
	}
	return c, nil
}

// ParseOriginator extracts configuration.originatorId.singleEntity.
func ParseOriginator(d Definition) (EntityID, error) {
	c, err := decodeConfiguration(d)
	if err != nil {
		return EntityID{}, err
	}
	se := c.OriginatorID.SingleEntity
	if se == nil {
		return EntityID{}, defErr(d.ID, "configuration.originatorId.singleEntity", "missing")
	}
	id, err := uuid.Parse(strings.TrimSpace(se.ID))
	if err != nil {
		return EntityID{}, defErr(d.ID, "configuration.originatorId.singleEntity.id", "%v", err)
	}
	et := EntityType(strings.ToUpper(strings.TrimSpace(se.EntityType)))
	if et == "" {
		et = EntityDevice
	}
	return EntityID{Type: et, ID: id}, nil
}

// ActionTypeFor maps an event type tag to the action it performs.
// CRON_JOB events carry their action type in the configuration instead.
func ActionTypeFor(eventType string) ActionType {
	switch eventType {
	case TypeUpdateAttribute:
		return ActionPostAttributes
	case TypeSendRPCRequest:
		return ActionRPCToDevice
	default:
		return ActionNone
	}
}

// ParseAction decodes the configuration of d into its typed action.
func ParseAction(d Definition) (Action, error) {
	c, err := decodeConfiguration(d)
	if err != nil {
		return Action{}, err
	}
	org, err := ParseOriginator(d)
	if err != nil {
		return Action{}, err
	}

	at := ActionTypeFor(d.Type)
	if d.Type == TypeCronJob {
		at = ActionType(strings.TrimSpace(c.ActionType))
	}

	a := Action{Type: at, Originator: org}
	switch at {
	case ActionPostAttributes:
		au, err := parseAttributes(d.ID, c)
		if err != nil {
			return Action{}, err
		}
		a.Attributes = au
	case ActionRPCToDevice:
		rpc, err := parseRPC(d.ID, c)
		if err != nil {
			return Action{}, err
		}
		a.RPC = rpc
	default:
		a.Type = ActionNone
	}
	return a, nil
}

func parseAttributes(id uuid.UUID, c configurationJSON) (*AttributeUpdate, error) {
	body := bytes.TrimSpace(c.MsgBody)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		body = []byte("{}")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, defErr(id, "configuration.msgBody", "must be a JSON object: %v", err)
	}
	scope := metaString(c.Metadata, "scope")
	if scope == "" {
		scope = DefaultScope
	}
	return &AttributeUpdate{Scope: scope, Body: json.RawMessage(body)}, nil
}

func parseRPC(id uuid.UUID, c configurationJSON) (*RPCCall, error) {
	var body struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if raw := bytes.TrimSpace(c.MsgBody); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, defErr(id, "configuration.msgBody", "decode: %v", err)
		}
	}
	method := strings.TrimSpace(body.Method)
	if method == "" {
		return nil, defErr(id, "configuration.msgBody.method", "required")
	}
	params := bytes.TrimSpace(body.Params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		params = []byte("{}")
	}

	timeout := DefaultRPCTimeout
	if ms, ok := metaInt(c.Metadata, "timeout"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return &RPCCall{
		Method:     method,
		Params:     json.RawMessage(params),
		Timeout:    timeout,
		Persistent: metaBool(c.Metadata, "persistent"),
		Oneway:     metaBool(c.Metadata, "oneway"),
	}, nil
}

// Metadata values are written both as native JSON and as strings.

func metaString(m map[string]json.RawMessage, k string) string {
	raw, ok := m[k]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func metaInt(m map[string]json.RawMessage, k string) (int64, bool) {
	raw, ok := m[k]
	if !ok {
		return 0, false
	}
	var n flexInt
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return int64(n), true
}

func metaBool(m map[string]json.RawMessage, k string) bool {
	raw, ok := m[k]
	if !ok {
		return false
	}
	var b flexBool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return bool(b)
}

// flexInt accepts 5000, 5000.0 and "5000".
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}

// flexBool accepts true and "true".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f = flexBool(v)
	return nil
}

func formatMillis(ms int64) string { return strconv.FormatInt(ms, 10) }
