// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/fieldworks/fieldsync/internal/conflict"
	"github.com/fieldworks/fieldsync/internal/models"
)

// Topics carried by the bus.
const (
	TopicNetworkStatus    = "network.status"
	TopicEntityChanged    = "entity.changed"
	TopicConflictDetected = "sync.conflict"
	TopicItemFailed       = "sync.item_failed"
)

// NetworkStatus announces a debounced connectivity transition.
type NetworkStatus struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// EntityChanged announces that the local store's copy of an entity moved,
// either by a confirmed sync or an optimistic local write.
type EntityChanged struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Revision   models.Revision `json:"revision"`
	Pending    bool            `json:"pending"`
}

// ConflictDetected carries a conflict record to subscribers. AwaitUser is
// set when the configured strategy needs an explicit user decision.
type ConflictDetected struct {
	ItemID    string          `json:"item_id"`
	Record    conflict.Record `json:"record"`
	AwaitUser bool            `json:"await_user"`
}

// ItemFailed announces a terminal failure on a queue item. The item is
// kept for inspection; this event is how the failure becomes visible.
type ItemFailed struct {
	ItemID     string `json:"item_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason"`
	Attempts   int    `json:"attempts"`
}

// Bus is a watermill gochannel Pub/Sub scoped to one process.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates the bus. Subscriber channels are buffered so a slow
// subscriber does not stall a drain pass.
func NewBus() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newLoggerAdapter()),
	}
}

// Close shuts the bus down; all subscriber channels are closed.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// Subscribe returns a channel of raw messages for topic. The
// subscription is removed when ctx is cancelled. Subscribers must Ack or
// Nack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

// PublishNetworkStatus publishes to TopicNetworkStatus.
func (b *Bus) PublishNetworkStatus(ev NetworkStatus) error {
	return b.publish(TopicNetworkStatus, ev)
}

// PublishEntityChanged publishes to TopicEntityChanged.
func (b *Bus) PublishEntityChanged(ev EntityChanged) error {
	return b.publish(TopicEntityChanged, ev)
}

// PublishConflictDetected publishes to TopicConflictDetected.
func (b *Bus) PublishConflictDetected(ev ConflictDetected) error {
	return b.publish(TopicConflictDetected, ev)
}

// PublishItemFailed publishes to TopicItemFailed.
func (b *Bus) PublishItemFailed(ev ItemFailed) error {
	return b.publish(TopicItemFailed, ev)
}

func (b *Bus) publish(topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Decode unmarshals a bus message payload into T.
func Decode[T any](msg *message.Message) (T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("decode event: %w", err)
	}
	return out, nil
}
