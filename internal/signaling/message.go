// Package signaling defines the offer/answer/candidate messages peers
// exchange before a direct connection exists, and the channels that carry
// them: an in-process bus, a WebSocket relay client and Redis pub/sub.
package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeOffer      MessageType = "offer"
	TypeAnswer     MessageType = "answer"
	TypeCandidate  MessageType = "candidate"
	TypeDisconnect MessageType = "disconnect"
	TypeBusy       MessageType = "busy" // reply to an offer while another session is active
)

// Message is the JSON structure published on a signaling channel. Every
// listener receives every message and drops those whose Target is not its
// own address.
type Message struct {
	Type      MessageType                `json:"type"`
	Target    address.Address            `json:"target"`
	From      address.Address            `json:"from,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

var ErrInvalidMessage = errors.New("invalid signaling message")

// Validate checks the envelope: a known type, a target, a sender on every
// type except disconnect (where it is optional), and the payload matching
// the type.
func (m Message) Validate() error {
	if !m.Target.Valid() {
		return fmt.Errorf("%w: bad target %q", ErrInvalidMessage, m.Target)
	}
	if m.Type != TypeDisconnect && !m.From.Valid() {
		return fmt.Errorf("%w: %s without sender", ErrInvalidMessage, m.Type)
	}
	if m.From != "" && !m.From.Valid() {
		return fmt.Errorf("%w: bad sender %q", ErrInvalidMessage, m.From)
	}

	switch m.Type {
	case TypeOffer:
		if m.Offer == nil || m.Offer.Type != webrtc.SDPTypeOffer || m.Offer.SDP == "" {
			return fmt.Errorf("%w: offer without offer description", ErrInvalidMessage)
		}
	case TypeAnswer:
		if m.Answer == nil || m.Answer.Type != webrtc.SDPTypeAnswer || m.Answer.SDP == "" {
			return fmt.Errorf("%w: answer without answer description", ErrInvalidMessage)
		}
	case TypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate without descriptor", ErrInvalidMessage)
		}
	case TypeDisconnect, TypeBusy:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// NewOffer builds an offer message.
func NewOffer(target, from address.Address, desc webrtc.SessionDescription) Message {
	return Message{Type: TypeOffer, Target: target, From: from, Offer: &desc}
}

// NewAnswer builds an answer message.
func NewAnswer(target, from address.Address, desc webrtc.SessionDescription) Message {
	return Message{Type: TypeAnswer, Target: target, From: from, Answer: &desc}
}

// NewCandidate builds a candidate message.
func NewCandidate(target, from address.Address, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeCandidate, Target: target, From: from, Candidate: &c}
}

// NewDisconnect builds a disconnect message. from may be empty; receivers
// accept a disconnect without a sender from whoever they are talking to.
func NewDisconnect(target, from address.Address) Message {
	return Message{Type: TypeDisconnect, Target: target, From: from}
}

// NewBusy builds a busy reply to a caller.
func NewBusy(target, from address.Address) Message {
	return Message{Type: TypeBusy, Target: target, From: from}
}
