// Package protocol defines the JSON frames exchanged over the signaling
// channel. Every frame is an object with a "type" discriminator; the
// remaining fields depend on the type.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeJoin         Type = "join"
	TypeRoomUsers    Type = "room-users"
	TypeUserJoined   Type = "user-joined"
	TypeUserLeft     Type = "user-left"
	TypeJoinVoice    Type = "join-voice"
	TypeLeaveVoice   Type = "leave-voice"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeRenegotiate  Type = "renegotiate"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeError        Type = "error"
)

// Error codes carried by Error frames.
const (
	CodeDuplicateJoin = "duplicate_join"
	CodeInvalidJoin   = "invalid_join"
	CodeRateLimited   = "rate_limited"
	CodeNotJoined     = "not_joined"
)

// Message is implemented only by the frame types of this package.
type Message interface {
	Kind() Type
	isMessage()
}

type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Join struct {
	Username string `json:"username" validate:"required,max=36"`
	RoomID   string `json:"roomId" validate:"required,max=64"`
}

// RoomUsers is the snapshot sent to a joiner. UserID is the joiner's own id.
type RoomUsers struct {
	Users  []UserInfo `json:"users"`
	UserID string     `json:"userId,omitempty"`
}

type UserJoined struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username"`
}

type UserLeft struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username"`
}

type JoinVoice struct {
	Username string `json:"username"`
}

type LeaveVoice struct {
	Username string `json:"username"`
}

// Offer carries an opaque session description. From and Username are
// stamped by the server; To optionally narrows the relay to one member.
type Offer struct {
	SDP      json.RawMessage `json:"sdp" validate:"required"`
	From     string          `json:"from,omitempty"`
	Username string          `json:"username,omitempty"`
	To       string          `json:"to,omitempty"`
}

type Answer struct {
	SDP      json.RawMessage `json:"sdp" validate:"required"`
	From     string          `json:"from,omitempty"`
	Username string          `json:"username,omitempty"`
	To       string          `json:"to,omitempty"`
}

type ICECandidate struct {
	Candidate json.RawMessage `json:"candidate" validate:"required"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
}

// Renegotiate asks the member that initiated a link to send a fresh offer.
// Only the initiating side of a link offers once the link is established.
type Renegotiate struct {
	From string `json:"from,omitempty"`
	To   string `json:"to" validate:"required"`
}

type Ping struct{}

type Pong struct{}

type Error struct {
	Code string `json:"error"`
}

func (Join) Kind() Type         { return TypeJoin }
func (RoomUsers) Kind() Type    { return TypeRoomUsers }
func (UserJoined) Kind() Type   { return TypeUserJoined }
func (UserLeft) Kind() Type     { return TypeUserLeft }
func (JoinVoice) Kind() Type    { return TypeJoinVoice }
func (LeaveVoice) Kind() Type   { return TypeLeaveVoice }
func (Offer) Kind() Type        { return TypeOffer }
func (Answer) Kind() Type       { return TypeAnswer }
func (ICECandidate) Kind() Type { return TypeICECandidate }
func (Renegotiate) Kind() Type  { return TypeRenegotiate }
func (Ping) Kind() Type         { return TypePing }
func (Pong) Kind() Type         { return TypePong }
func (Error) Kind() Type        { return TypeError }

func (Join) isMessage()         {}
func (RoomUsers) isMessage()    {}
func (UserJoined) isMessage()   {}
func (UserLeft) isMessage()     {}
func (JoinVoice) isMessage()    {}
func (LeaveVoice) isMessage()   {}
func (Offer) isMessage()        {}
func (Answer) isMessage()       {}
func (ICECandidate) isMessage() {}
func (Renegotiate) isMessage()  {}
func (Ping) isMessage()         {}
func (Pong) isMessage()         {}
func (Error) isMessage()        {}

func NewOffer(sd webrtc.SessionDescription, to string) (Offer, error) {
	raw, err := json.Marshal(sd)
	if err != nil {
		return Offer{}, err
	}
	return Offer{SDP: raw, To: to}, nil
}

func NewAnswer(sd webrtc.SessionDescription, to string) (Answer, error) {
	raw, err := json.Marshal(sd)
	if err != nil {
		return Answer{}, err
	}
	return Answer{SDP: raw, To: to}, nil
}

func NewICECandidate(c webrtc.ICECandidateInit, to string) (ICECandidate, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return ICECandidate{}, err
	}
	return ICECandidate{Candidate: raw, To: to}, nil
}

func (o Offer) Description() (webrtc.SessionDescription, error) {
	return description(o.SDP, webrtc.SDPTypeOffer)
}

func (a Answer) Description() (webrtc.SessionDescription, error) {
	return description(a.SDP, webrtc.SDPTypeAnswer)
}

func (c ICECandidate) Init() (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(c.Candidate, &init); err != nil {
		return init, wrapMalformed(err)
	}
	return init, nil
}

func description(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, wrapMalformed(err)
	}
	if sd.Type != want {
		return sd, wrapMalformed(errSDPType{got: sd.Type, want: want})
	}
	return sd, nil
}

type errSDPType struct{ got, want webrtc.SDPType }

func (e errSDPType) Error() string {
	return "sdp type " + e.got.String() + ", want " + e.want.String()
}
