// Package protocol defines the JSON envelopes exchanged over the signaling
// channel. Each direction is a closed set: only the types declared here
// implement ClientMessage or ServerMessage.
package protocol

import (
	"time"

	"github.com/dkeye/voicestream/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MessageType is the `type` discriminator of every envelope.
type MessageType string

// Client -> relay.
const (
	TypeStartSending        MessageType = "start_sending"
	TypeStartReceiving      MessageType = "start_receiving"
	TypeStopStream          MessageType = "stop_stream"
	TypeGetAvailableStreams MessageType = "get_available_streams"
	TypeICECandidate        MessageType = "ice_candidate"
)

// Both directions.
const (
	TypeOffer  MessageType = "webrtc_offer"
	TypeAnswer MessageType = "webrtc_answer"
)

// Relay -> client.
const (
	TypeSenderReady      MessageType = "sender_ready"
	TypeAvailableStreams MessageType = "available_streams"
	TypeStreamAvailable  MessageType = "stream_available"
	TypeStreamEnded      MessageType = "stream_ended"
	TypeAudioData        MessageType = "audio_data"
	TypeError            MessageType = "error"
)

// Message is any envelope.
type Message interface {
	Type() MessageType
}

// ClientMessage is an envelope the session client sends.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is an envelope the relay sends.
type ServerMessage interface {
	Message
	serverMessage()
}

type StartSending struct{}

type StartReceiving struct {
	StreamID domain.StreamID `json:"stream_id,omitempty"`
}

type StopStream struct{}

type GetAvailableStreams struct{}

type ICECandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Offer carries an SDP offer. The relay offers to receivers, senders offer
// to the relay.
type Offer struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type SenderReady struct {
	ConnectionID string `json:"connection_id,omitempty"`
}

type AvailableStreams struct {
	Streams []domain.StreamID `json:"streams"`
}

type StreamAvailable struct {
	StreamID domain.StreamID `json:"stream_id"`
}

type StreamEnded struct {
	StreamID domain.StreamID `json:"stream_id"`
}

// AudioData is sender-side telemetry. Timestamp is unix seconds; every
// other field is passed through untouched in Fields.
type AudioData struct {
	Timestamp float64
	Fields    map[string]any
}

// Latency is the one-way delay implied by the sender timestamp.
func (a AudioData) Latency(now time.Time) time.Duration {
	if a.Timestamp <= 0 {
		return 0
	}
	sent := time.UnixMicro(int64(a.Timestamp * 1e6))
	return now.Sub(sent)
}

type Error struct {
	Message string `json:"message"`
}

func (StartSending) Type() MessageType        { return TypeStartSending }
func (StartReceiving) Type() MessageType      { return TypeStartReceiving }
func (StopStream) Type() MessageType          { return TypeStopStream }
func (GetAvailableStreams) Type() MessageType { return TypeGetAvailableStreams }
func (ICECandidate) Type() MessageType        { return TypeICECandidate }
func (Offer) Type() MessageType               { return TypeOffer }
func (Answer) Type() MessageType              { return TypeAnswer }
func (SenderReady) Type() MessageType         { return TypeSenderReady }
func (AvailableStreams) Type() MessageType    { return TypeAvailableStreams }
func (StreamAvailable) Type() MessageType     { return TypeStreamAvailable }
func (StreamEnded) Type() MessageType         { return TypeStreamEnded }
func (AudioData) Type() MessageType           { return TypeAudioData }
func (Error) Type() MessageType               { return TypeError }

func (StartSending) clientMessage()        {}
func (StartReceiving) clientMessage()      {}
func (StopStream) clientMessage()          {}
func (GetAvailableStreams) clientMessage() {}
func (ICECandidate) clientMessage()        {}
func (Offer) clientMessage()               {}
func (Answer) clientMessage()              {}

func (Offer) serverMessage()            {}
func (Answer) serverMessage()           {}
func (SenderReady) serverMessage()      {}
func (AvailableStreams) serverMessage() {}
func (StreamAvailable) serverMessage()  {}
func (StreamEnded) serverMessage()      {}
func (AudioData) serverMessage()        {}
func (Error) serverMessage()            {}
