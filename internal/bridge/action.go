// Package bridge classifies local topics and relays them over the overlay.
package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Action is the bridging direction required for a topic.
type Action int

const (
	// ActionNoOp: the topic has local publishers and subscribers.
	ActionNoOp Action = iota
	// ActionPublish: no local publisher, so remote publications are injected
	// locally.
	ActionPublish
	// ActionSubscribe: no local subscriber, so local publications are shipped
	// outward.
	ActionSubscribe
)

// ErrUnknownAction is returned by ParseAction.
var ErrUnknownAction = errors.New("unknown bridge action")

func (a Action) String() string {
	switch a {
	case ActionNoOp:
		return "noop"
	case ActionPublish:
		return "publish"
	case ActionSubscribe:
		return "subscribe"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction reads a configured action. An empty value means no bridge.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "noop", "none":
		return ActionNoOp, nil
	case "publish", "pub":
		return ActionPublish, nil
	case "subscribe", "sub":
		return ActionSubscribe, nil
	default:
		return ActionNoOp, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// TopicDescriptor names a local topic.
type TopicDescriptor struct {
	Name string
	Type string
}
