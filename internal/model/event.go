package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
)

// EventType identifies the kind of message received from the broker.
type EventType string

const (
	// MachineQueueUpdate is a status update published by the machine queue.
	MachineQueueUpdate EventType = "machine.queue.update"
)

// MessageMetadata describes the broker delivery of a message.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	CompanyID        string
}

// Event is a normalized input to the transition engine.
// The only implementations are ManualUpdate and QueueEvent.
type Event interface {
	// Source names where the event came from, for logs and metrics.
	Source() string
	isEvent()
}

// ManualUpdate is a field patch submitted by an API caller.
type ManualUpdate struct {
	FeedbackRef string
	Fields      FeedbackPatch
	Actor       string
	// AllowOverrun accepts produced+rejected above ordered without flagging it.
	AllowOverrun bool
}

func (ManualUpdate) Source() string { return "manual" }
func (ManualUpdate) isEvent()       {}

// NewManualUpdate validates the identifying fields of a manual patch.
func NewManualUpdate(ref string, fields FeedbackPatch, actor string) (ManualUpdate, error) {
	if strings.TrimSpace(ref) == "" {
		return ManualUpdate{}, fmt.Errorf("%w: feedback reference is required", apperrors.ErrInvalidEvent)
	}
	if fields.Status != nil {
		st, ok := NormalizeStatus(*fields.Status)
		if !ok {
			return ManualUpdate{}, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidEvent, *fields.Status)
		}
		normalized := string(st)
		fields.Status = &normalized
	}
	return ManualUpdate{FeedbackRef: ref, Fields: fields, Actor: actor}, nil
}

// QueueEvent is a production status update from the machine queue.
type QueueEvent struct {
	QueueID           string     `json:"queueId"`
	BatchID           string     `json:"batchId"`
	Status            string     `json:"status"`
	ProductName       string     `json:"productName,omitempty"`
	Quantity          *int       `json:"quantity,omitempty"`
	CompletedQuantity *int       `json:"completedQuantity,omitempty"`
	ActualStartTime   *time.Time `json:"actualStartTime,omitempty"`
	ActualEndTime     *time.Time `json:"actualEndTime,omitempty"`
}

func (QueueEvent) Source() string { return "queue" }
func (QueueEvent) isEvent()       {}

// Validate checks the identifying fields of a queue event.
func (e QueueEvent) Validate() error {
	var missing []string
	if strings.TrimSpace(e.QueueID) == "" {
		missing = append(missing, "queueId")
	}
	if strings.TrimSpace(e.BatchID) == "" {
		missing = append(missing, "batchId")
	}
	if strings.TrimSpace(e.Status) == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrInvalidEvent, strings.Join(missing, ", "))
	}
	if e.Quantity != nil && *e.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", apperrors.ErrInvalidEvent)
	}
	if e.CompletedQuantity != nil && *e.CompletedQuantity < 0 {
		return fmt.Errorf("%w: completedQuantity must not be negative", apperrors.ErrInvalidEvent)
	}
	return nil
}

// DecodeQueueMessage parses and validates a raw machine-queue payload.
func DecodeQueueMessage(data []byte) (QueueEvent, error) {
	var evt QueueEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return QueueEvent{}, fmt.Errorf("%w: malformed queue payload: %v", apperrors.ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return QueueEvent{}, err
	}
	return evt, nil
}
