package queue

import (
	"context"
	"time"
)

// RoutingKeyPrefix is prepended to every routing key the backend emits.
const RoutingKeyPrefix = "pithos."

// Event types.
const (
	EventDiskspace = "diskspace"
	EventObject    = "object"
	EventSharing   = "sharing"
)

// Message is one event about a change in the store.
type Message struct {
	RoutingKey string         `json:"routing_key"`
	Account    string         `json:"account"`
	InstanceID string         `json:"instance_id"`
	EventType  string         `json:"event_type"`
	Payload    any            `json:"payload"`
	Details    map[string]any `json:"details,omitempty"`
	Time       time.Time      `json:"time"`
}

// Publisher delivers messages. Delivery is best effort.
type Publisher interface {
	Send(ctx context.Context, msg Message) error
}

// RoutingKey builds the routing key for a resource, e.g.
// RoutingKey("resource.diskspace") is "pithos.resource.diskspace".
func RoutingKey(resource string) string {
	return RoutingKeyPrefix + resource
}

// DiskspaceMessage reports a size change of account. Payload is the delta
// in bytes and details carry the new total.
func DiskspaceMessage(instanceID string, account string, delta int64, details map[string]any) Message {
	return Message{
		RoutingKey: RoutingKey("resource.diskspace"),
		Account:    account,
		InstanceID: instanceID,
		EventType:  EventDiskspace,
		Payload:    delta,
		Details:    details,
		Time:       time.Now().UTC(),
	}
}

// ObjectMessage reports a change to the object at path.
func ObjectMessage(instanceID string, account string, path string, details map[string]any) Message {
	return Message{
		RoutingKey: RoutingKey("object"),
		Account:    account,
		InstanceID: instanceID,
		EventType:  EventObject,
		Payload:    path,
		Details:    details,
		Time:       time.Now().UTC(),
	}
}

// SharingMessage reports a permission change on path.
func SharingMessage(instanceID string, account string, path string, details map[string]any) Message {
	return Message{
		RoutingKey: RoutingKey("sharing"),
		Account:    account,
		InstanceID: instanceID,
		EventType:  EventSharing,
		Payload:    path,
		Details:    details,
		Time:       time.Now().UTC(),
	}
}
