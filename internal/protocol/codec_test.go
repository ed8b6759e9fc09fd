package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Type
		wantErr error
	}{
		{"join", `{"type":"join","username":"alice","roomId":"r1"}`, TypeJoin, nil},
		{"join without room", `{"type":"join","username":"alice"}`, "", ErrMalformed},
		{"join long name", `{"type":"join","username":"` + strings.Repeat("a", 37) + `","roomId":"r1"}`, "", ErrMalformed},
		{"offer", `{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`, TypeOffer, nil},
		{"offer without sdp", `{"type":"offer"}`, "", ErrMalformed},
		{"candidate", `{"type":"ice-candidate","candidate":{"candidate":"candidate:1"},"to":"b"}`, TypeICECandidate, nil},
		{"renegotiate", `{"type":"renegotiate","to":"b"}`, TypeRenegotiate, nil},
		{"renegotiate without target", `{"type":"renegotiate"}`, "", ErrMalformed},
		{"leave voice", `{"type":"leave-voice","username":"alice"}`, TypeLeaveVoice, nil},
		{"ping", `{"type":"ping"}`, TypePing, nil},
		{"not json", `hello`, "", ErrMalformed},
		{"missing type", `{"username":"alice"}`, "", ErrMalformed},
		{"unknown type", `{"type":"rename"}`, "", ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if m.Kind() != tt.want {
				t.Errorf("Kind() = %s, want %s", m.Kind(), tt.want)
			}
		})
	}
}

func TestEncodeTypeFirst(t *testing.T) {
	b, err := Encode(UserJoined{UserID: "u1", Username: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"user-joined","userId":"u1","username":"bob"}`
	if string(b) != want {
		t.Errorf("Encode() = %s, want %s", b, want)
	}

	b, err = Encode(Pong{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"pong"}` {
		t.Errorf("Encode(Pong) = %s", b)
	}
}

func TestEncodeOmitsEmptyTarget(t *testing.T) {
	offer, err := NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(offer)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), `"to"`) || strings.Contains(string(b), `"from"`) {
		t.Errorf("unexpected routing fields in %s", b)
	}
}

func TestSessionDescriptionHelpers(t *testing.T) {
	offer, err := NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, "b")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Encode(offer)
	m, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m.(Offer)
	if !ok {
		t.Fatalf("decoded %T, want Offer", m)
	}
	if got.To != "b" {
		t.Errorf("To = %q, want b", got.To)
	}
	sd, err := got.Description()
	if err != nil {
		t.Fatal(err)
	}
	if sd.Type != webrtc.SDPTypeOffer || sd.SDP != "v=0" {
		t.Errorf("Description() = %+v", sd)
	}

	wrong := Answer{SDP: got.SDP}
	if _, err := wrong.Description(); !errors.Is(err, ErrMalformed) {
		t.Errorf("answer carrying an offer: err = %v, want ErrMalformed", err)
	}
}

func TestCandidateInit(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	c, err := NewICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 1.2.3.4 5 typ host", SDPMid: &mid, SDPMLineIndex: &idx}, "")
	if err != nil {
		t.Fatal(err)
	}
	init, err := c.Init()
	if err != nil {
		t.Fatal(err)
	}
	if init.SDPMid == nil || *init.SDPMid != "0" {
		t.Errorf("SDPMid = %v", init.SDPMid)
	}
}
