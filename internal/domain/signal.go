package domain

import "fmt"

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is the wire form of an SDP offer or answer. Offers
// carry the sender's politeness so both peers settle glare the same way.
type SessionDescription struct {
	Type   SDPType `json:"type"`
	SDP    string  `json:"sdp"`
	Polite *bool   `json:"polite,omitempty"`
}

// ICECandidate is the wire form of a trickled candidate. Mid and line index
// are sent as null when unknown.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// SignalData carries exactly one of SDP or Candidate.
type SignalData struct {
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
}

// SignalMessage is what peers exchange through the relay.
type SignalMessage struct {
	RoomID     RoomID     `json:"roomId"`
	SenderRole Role       `json:"senderRole"`
	SignalData SignalData `json:"signalData"`
}

func NewDescriptionSignal(room RoomID, from Role, sd SessionDescription) SignalMessage {
	return SignalMessage{RoomID: room, SenderRole: from, SignalData: SignalData{SDP: &sd}}
}

func NewCandidateSignal(room RoomID, from Role, c ICECandidate) SignalMessage {
	return SignalMessage{RoomID: room, SenderRole: from, SignalData: SignalData{Candidate: &c}}
}

func (m SignalMessage) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("%w: empty room", ErrInvalidSignal)
	}
	if !m.SenderRole.Valid() {
		return fmt.Errorf("%w: sender role %q", ErrInvalidSignal, m.SenderRole)
	}
	hasSDP := m.SignalData.SDP != nil
	hasCand := m.SignalData.Candidate != nil
	if hasSDP == hasCand {
		return fmt.Errorf("%w: want exactly one of sdp or candidate", ErrInvalidSignal)
	}
	if hasSDP {
		switch m.SignalData.SDP.Type {
		case SDPOffer, SDPAnswer:
		default:
			return fmt.Errorf("%w: sdp type %q", ErrInvalidSignal, m.SignalData.SDP.Type)
		}
		if m.SignalData.SDP.SDP == "" {
			return fmt.Errorf("%w: empty sdp", ErrInvalidSignal)
		}
	}
	return nil
}

// Relay frame events.
const (
	EventJoin     = "joinVideoCall"
	EventLeave    = "leaveVideoCall"
	EventSignal   = "signal"
	EventJoined   = "joined"
	EventPeerJoin = "peerJoined"
	EventPeerLeft = "peerLeft"
	EventRoomFull = "roomFull"
	EventError    = "error"
	EventPing     = "ping"
	EventPong     = "pong"
)

// Frame is the envelope of every relay websocket message. Which fields are
// set depends on Event.
type Frame struct {
	Event      string      `json:"event"`
	RoomID     RoomID      `json:"roomId,omitempty"`
	BookingID  BookingID   `json:"bookingId,omitempty"`
	SenderRole Role        `json:"senderRole,omitempty"`
	SignalData *SignalData `json:"signalData,omitempty"`
	Peers      []Role      `json:"peers,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func SignalFrame(m SignalMessage) Frame {
	data := m.SignalData
	return Frame{
		Event:      EventSignal,
		RoomID:     m.RoomID,
		SenderRole: m.SenderRole,
		SignalData: &data,
	}
}

// Signal extracts the signal message of an EventSignal frame.
func (f Frame) Signal() (SignalMessage, error) {
	if f.Event != EventSignal || f.SignalData == nil {
		return SignalMessage{}, fmt.Errorf("%w: frame %q carries no signal", ErrInvalidSignal, f.Event)
	}
	m := SignalMessage{RoomID: f.RoomID, SenderRole: f.SenderRole, SignalData: *f.SignalData}
	return m, m.Validate()
}
