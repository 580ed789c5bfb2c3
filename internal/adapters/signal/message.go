package signal

import (
	"encoding/json"
	"fmt"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeInvite            Type = "invite"
	TypeAnswer            Type = "answer"
	TypeCandidate         Type = "ice-candidate"
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"
	TypeEnd               Type = "end"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInvite, TypeAnswer, TypeCandidate, TypeParticipantJoined, TypeParticipantLeft, TypeEnd:
		return true
	}
	return false
}

// Message is the wire envelope exchanged over the signaling channel.
type Message struct {
	Type        Type                 `json:"type"`
	SessionID   domain.SessionID     `json:"sessionId"`
	SenderID    domain.ParticipantID `json:"senderId"`
	Payload     json.RawMessage      `json:"payload"`
	RecipientID domain.ParticipantID `json:"recipientId,omitempty"`
}

// InvitePayload without an offer rings the recipient. With an offer it
// opens or renegotiates the sender's link.
type InvitePayload struct {
	Kind             domain.CallKind            `json:"kind"`
	Mode             domain.CallMode            `json:"mode"`
	OfferDescription *webrtc.SessionDescription `json:"offerDescription,omitempty"`
	Renegotiation    bool                       `json:"renegotiation,omitempty"`
}

// AnswerPayload without a description accepts the call.
type AnswerPayload struct {
	AnswerDescription *webrtc.SessionDescription `json:"answerDescription,omitempty"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// JoinedPayload announces a participant. Replays carry updated device flags.
type JoinedPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	DisplayName   string               `json:"displayName"`
	AvatarRef     string               `json:"avatarRef"`
	IsMuted       *bool                `json:"isMuted,omitempty"`
	IsCameraOn    *bool                `json:"isCameraOn,omitempty"`
}

type LeftPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type EndPayload struct {
	Reason domain.EndReason `json:"reason"`
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// Encode builds a frame for payload v.
func Encode(t Type, sid domain.SessionID, sender, recipient domain.ParticipantID, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Message{
		Type:        t,
		SessionID:   sid,
		SenderID:    sender,
		Payload:     raw,
		RecipientID: recipient,
	})
}

// Decode parses and validates an envelope. Payload checks happen in
// DecodePayload.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, violation("bad json: %v", err)
	}
	if !m.Type.Valid() {
		return m, violation("unknown type %q", m.Type)
	}
	if m.SessionID == "" {
		return m, violation("%s without sessionId", m.Type)
	}
	if m.SenderID == "" {
		return m, violation("%s without senderId", m.Type)
	}
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return m, violation("%s without payload", m.Type)
	}
	return m, nil
}

// DecodePayload unmarshals and validates the payload matching m.Type.
func DecodePayload(m Message) (any, error) {
	switch m.Type {
	case TypeInvite:
		var p InvitePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, violation("invite payload: %v", err)
		}
		if !p.Kind.Valid() || !p.Mode.Valid() {
			return nil, violation("invite kind %q mode %q", p.Kind, p.Mode)
		}
		if p.OfferDescription != nil && p.OfferDescription.Type != webrtc.SDPTypeOffer {
			return nil, violation("invite carries %s description", p.OfferDescription.Type)
		}
		return p, nil

	case TypeAnswer:
		var p AnswerPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, violation("answer payload: %v", err)
		}
		if p.AnswerDescription != nil && p.AnswerDescription.Type != webrtc.SDPTypeAnswer {
			return nil, violation("answer carries %s description", p.AnswerDescription.Type)
		}
		return p, nil

	case TypeCandidate:
		var p CandidatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, violation("candidate payload: %v", err)
		}
		if p.Candidate.Candidate == "" {
			return nil, violation("empty candidate")
		}
		return p, nil

	case TypeParticipantJoined:
		var p JoinedPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, violation("participant-joined payload: %v", err)
		}
		if err := p.ParticipantID.Validate(); err != nil {
			return nil, violation("participant-joined: %v", err)
		}
		return p, nil

	case TypeParticipantLeft:
		var p LeftPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, violation("participant-left payload: %v", err)
		}
		if err := p.ParticipantID.Validate(); err != nil {
			return nil, violation("participant-left: %v", err)
		}
		return p, nil

	case TypeEnd:
		var p EndPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, violation("end payload: %v", err)
		}
		if !p.Reason.Valid() {
			return nil, violation("end reason %q", p.Reason)
		}
		return p, nil
	}
	return nil, violation("unknown type %q", m.Type)
}
