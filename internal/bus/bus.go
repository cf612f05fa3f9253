// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries daemon events (activity and transponder state changes)
// to in-process subscribers such as the API event stream.
package bus

import "context"

const (
	TopicActivityState    = "activity.state"
	TopicTransponderState = "transponder.state"
	TopicRecordingState   = "recording.state"
)

// Message is an opaque event payload.
type Message interface{}

type Subscriber interface {
	// C returns a read-only message channel.
	C() <-chan Message
	// Close unsubscribes.
	Close() error
}

type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
