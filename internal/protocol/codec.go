package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Encode serializes m as a single JSON object carrying its `type`.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	typ, _ := json.Marshal(m.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}

type envelope struct {
	Type MessageType `json:"type"`
}

func peekType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env.Type, nil
}

func decodeAs[T Message](data []byte) (T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type(), err)
	}
	return m, nil
}

// DecodeServer parses an envelope sent by the relay. Types outside the
// closed set yield ErrUnknownType, which callers ignore.
func DecodeServer(data []byte) (ServerMessage, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeSenderReady:
		return decodeAs[SenderReady](data)
	case TypeAnswer:
		m, err := decodeAs[Answer](data)
		if err == nil && m.Answer.SDP == "" {
			err = fmt.Errorf("%w: %s without sdp", ErrMalformed, typ)
		}
		return m, err
	case TypeOffer:
		m, err := decodeAs[Offer](data)
		if err == nil && m.Offer.SDP == "" {
			err = fmt.Errorf("%w: %s without sdp", ErrMalformed, typ)
		}
		return m, err
	case TypeAvailableStreams:
		return decodeAs[AvailableStreams](data)
	case TypeStreamAvailable:
		return decodeAs[StreamAvailable](data)
	case TypeStreamEnded:
		return decodeAs[StreamEnded](data)
	case TypeAudioData:
		return decodeAs[AudioData](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// DecodeClient parses an envelope sent by a session client.
func DecodeClient(data []byte) (ClientMessage, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeStartSending:
		return StartSending{}, nil
	case TypeStartReceiving:
		return decodeAs[StartReceiving](data)
	case TypeStopStream:
		return StopStream{}, nil
	case TypeGetAvailableStreams:
		return GetAvailableStreams{}, nil
	case TypeICECandidate:
		return decodeAs[ICECandidate](data)
	case TypeOffer:
		m, err := decodeAs[Offer](data)
		if err == nil && m.Offer.SDP == "" {
			err = fmt.Errorf("%w: %s without sdp", ErrMalformed, typ)
		}
		return m, err
	case TypeAnswer:
		m, err := decodeAs[Answer](data)
		if err == nil && m.Answer.SDP == "" {
			err = fmt.Errorf("%w: %s without sdp", ErrMalformed, typ)
		}
		return m, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}
