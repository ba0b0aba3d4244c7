package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/zelid/ports"
)

const (
	LoginTopic  = "zelid.login"
	LogoutTopic = "zelid.logout"
)

// SessionEvent is published when a session is created or revoked
type SessionEvent struct {
	Address string    `json:"address"`
	TokenID string    `json:"token_id"`
	At      time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, address string, tokenID string) error {
	return p.publish(ctx, LoginTopic, address, tokenID)
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	return p.publish(ctx, LogoutTopic, address, tokenID)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, address, tokenID string) error {
	payload, err := json.Marshal(SessionEvent{
		Address: address,
		TokenID: tokenID,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
