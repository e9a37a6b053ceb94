// Package dto contains the realtime wire frames
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/services"
)

// ErrMalformedFrame is returned for frames that are not valid JSON envelopes
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the JSON envelope of every realtime message in both directions
//
//	{"type": "message", "data": {"content": "..."}}
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type decoder func(data json.RawMessage) (services.Command, error)

// customerDecoders and staffDecoders resolve the event names shared by both
// sides ("message", "typing") to the variant of the acting participant
var customerDecoders = map[string]decoder{
	"message": decodeAs[services.CustomerMessage],
	"typing":  decodeAs[services.CustomerTyping],
	"rate":    decodeAs[services.CustomerRate],
}

var staffDecoders = map[string]decoder{
	"message": decodeAs[services.StaffMessage],
	"typing":  decodeAs[services.StaffTyping],
}

// Staff-only events decode for anyone; the router rejects them for customers
var sharedDecoders = map[string]decoder{
	"takeOver":          decodeAs[services.StaffTakeOver],
	"release":           decodeAs[services.StaffRelease],
	"closeConversation": decodeAs[services.StaffClose],
	"markRead":          decodeAs[services.StaffMarkRead],
	"listConversations": decodeAs[services.StaffListConversations],
	"getStats":          decodeAs[services.StaffGetStats],
	"annotate":          decodeAs[services.StaffAnnotate],
}

// DecodeCommand parses a raw frame into the typed command for kind
func DecodeCommand(kind domain.ParticipantKind, raw []byte) (services.Command, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	byKind := customerDecoders
	if kind == domain.ParticipantStaff {
		byKind = staffDecoders
	}
	if dec, ok := byKind[frame.Type]; ok {
		return dec(frame.Data)
	}
	if dec, ok := sharedDecoders[frame.Type]; ok {
		return dec(frame.Data)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCommand, frame.Type)
}

func decodeAs[T services.Command](data json.RawMessage) (services.Command, error) {
	var cmd T
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	return cmd, nil
}

// EncodeEvent renders an outbound event as a frame
func EncodeEvent(event domain.OutboundEvent) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return json.Marshal(Frame{Type: event.Type, Data: data})
}
