package game

import (
	"context"
	"fmt"
	"strings"
)

// EventType names a webhook event.
type EventType string

const (
	EventGameStarted     EventType = "game.started"
	EventGameFlip        EventType = "game.flip"
	EventGameLost        EventType = "game.lost"
	EventGameWon         EventType = "game.won"
	EventSettlementReady EventType = "settlement.ready"
)

// ParseEventType validates an event name.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(strings.TrimSpace(raw)) {
	case EventGameStarted, EventGameFlip, EventGameLost, EventGameWon, EventSettlementReady:
		return EventType(strings.TrimSpace(raw)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
}

// ParseEventTypes validates a list of event names, dropping duplicates.
func ParseEventTypes(raw []string) ([]EventType, error) {
	seen := make(map[EventType]struct{}, len(raw))
	events := make([]EventType, 0, len(raw))
	for _, value := range raw {
		eventType, err := ParseEventType(value)
		if err != nil {
			return nil, err
		}
		if _, duplicate := seen[eventType]; duplicate {
			continue
		}
		seen[eventType] = struct{}{}
		events = append(events, eventType)
	}
	return events, nil
}

// String returns the event name.
func (eventType EventType) String() string {
	return string(eventType)
}

// Event is a notification for a partner.
type Event struct {
	Type            EventType
	PartnerID       PartnerID
	SessionID       SessionID
	OccurredUnixUTC int64
	Payload         map[string]any
}

// EventPublisher delivers events asynchronously. Publish must not block on delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

func publish(ctx context.Context, publisher EventPublisher, event Event) {
	if publisher == nil {
		return
	}
	publisher.Publish(ctx, event)
}
