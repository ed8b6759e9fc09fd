package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown message type")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func wrapMalformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// Encode renders m as a frame with "type" as its first field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 24)
	buf.WriteString(`{"type":`)
	kind, _ := json.Marshal(m.Kind())
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses and validates one frame. Failures wrap ErrMalformed or
// ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, wrapMalformed(err)
	}
	switch env.Type {
	case TypeJoin:
		return decodeAs[Join](data)
	case TypeRoomUsers:
		return decodeAs[RoomUsers](data)
	case TypeUserJoined:
		return decodeAs[UserJoined](data)
	case TypeUserLeft:
		return decodeAs[UserLeft](data)
	case TypeJoinVoice:
		return decodeAs[JoinVoice](data)
	case TypeLeaveVoice:
		return decodeAs[LeaveVoice](data)
	case TypeOffer:
		return decodeAs[Offer](data)
	case TypeAnswer:
		return decodeAs[Answer](data)
	case TypeICECandidate:
		return decodeAs[ICECandidate](data)
	case TypeRenegotiate:
		return decodeAs[Renegotiate](data)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeError:
		return decodeAs[Error](data)
	case "":
		return nil, wrapMalformed(errors.New("missing type"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[M Message](data []byte) (Message, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, wrapMalformed(err)
	}
	if err := validate.Struct(m); err != nil {
		return nil, wrapMalformed(err)
	}
	return m, nil
}
