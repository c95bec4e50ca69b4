// Package protocol defines the wire frames exchanged with the room server
// and the classification rules for inbound frames.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrNoMessageID    = errors.New("frame carries no message id")
)

// Control frame types understood by both sides.
const (
	TypeJoin           = "join"
	TypeExit           = "exit"
	TypeSuccess        = "success"
	TypeError          = "error"
	TypeInterrupt      = "interrupt"
	TypeStartCall      = "start_call"
	TypeStopCall       = "stop_call"
	TypePlayDone       = "play_done"
	TypeText           = "text"
	TypeUserAudioInput = "user_audio_input"
)

// EOFMarker is the sentinel text that terminates one turn's audio stream.
// It is a protocol marker, never literal chat content.
const EOFMarker = "EOF"

// DefaultSender is used when a frame names no speaking character.
const DefaultSender = "assistant"

// Kind classifies one inbound frame after decoding.
type Kind int

const (
	KindUnknown Kind = iota
	// KindJoinStatus is a success/error response to a join or exit request.
	KindJoinStatus
	// KindInterrupt cancels all in-flight and queued audio.
	KindInterrupt
	// KindUserTranscript is the server-side transcription of uploaded mic audio.
	KindUserTranscript
	// KindEOF terminates the audio stream of one turn.
	KindEOF
	// KindTTSChunk is a modern speech chunk: message_id + sender_name + audio.
	KindTTSChunk
	// KindLegacy is the fallback shape: audio and/or text with legacy-cased ids.
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindJoinStatus:
		return "join_status"
	case KindInterrupt:
		return "interrupt"
	case KindUserTranscript:
		return "user_transcript"
	case KindEOF:
		return "eof"
	case KindTTSChunk:
		return "tts_chunk"
	case KindLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// FlexID is a message id that may arrive as a JSON number or string.
// Numbers are kept textual so int64 ids survive without float mangling.
type FlexID string

// UnmarshalJSON accepts both `"123"` and `123`.
func (id *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string { return string(id) }

// Frame is the raw decode target for every inbound JSON frame. The server has
// emitted several generations of field casing for the message id and sender
// name; all observed aliases are declared here and resolved in a fixed
// priority order. Do not add aliases beyond these.
type Frame struct {
	Type     string `json:"type,omitempty"`
	RoleName string `json:"role_name,omitempty"`
	Content  string `json:"content,omitempty"`

	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"` // base64
	SenderName string `json:"sender_name,omitempty"`

	// message id and its legacy aliases, in resolution priority order
	MessageID       *FlexID `json:"message_id,omitempty"`
	LegacyMessageID *FlexID `json:"MessageID,omitempty"`
	LegacyMsgIDLow  *FlexID `json:"messageID,omitempty"`
	LegacyMsgID     *FlexID `json:"msgID,omitempty"`

	// legacy upper-cased sender
	LegacySenderName string `json:"SenderName,omitempty"`
	LegacyRoleName   string `json:"RoleName,omitempty"`
}

// Decode parses one inbound text payload.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &f, nil
}

// Classify applies the dispatch precedence, first match wins:
//  1. success/error with role_name -> join status
//  2. interrupt (type or content)
//  3. user_audio_input
//  4. message_id present and text == EOF -> eof
//  5. message_id + sender_name + audio -> modern TTS chunk
//  6. anything with audio or text -> legacy shape
func (f *Frame) Classify() Kind {
	switch {
	case (f.Type == TypeSuccess || f.Type == TypeError) && f.RoleName != "":
		return KindJoinStatus
	case f.Type == TypeInterrupt || f.Content == TypeInterrupt:
		return KindInterrupt
	case f.Type == TypeUserAudioInput:
		return KindUserTranscript
	case f.MessageID != nil && f.Text == EOFMarker:
		return KindEOF
	case f.MessageID != nil && f.SenderName != "" && f.Audio != "":
		return KindTTSChunk
	case f.Audio != "" || f.Text != "":
		return KindLegacy
	default:
		return KindUnknown
	}
}

// ResolveMessageID returns the stringified message id, trying the modern field
// first and then the legacy aliases in fixed priority order.
func (f *Frame) ResolveMessageID() (string, error) {
	for _, id := range []*FlexID{f.MessageID, f.LegacyMessageID, f.LegacyMsgIDLow, f.LegacyMsgID} {
		if id != nil {
			return id.String(), nil
		}
	}
	return "", ErrNoMessageID
}

// ResolveSender returns the speaking character name, tolerating the legacy
// upper-cased field and defaulting to "assistant".
func (f *Frame) ResolveSender() string {
	if f.SenderName != "" {
		return f.SenderName
	}
	if f.LegacySenderName != "" {
		return f.LegacySenderName
	}
	return DefaultSender
}

// ResolveRole returns the display name for user transcript frames.
func (f *Frame) ResolveRole(fallback string) string {
	if f.LegacyRoleName != "" {
		return f.LegacyRoleName
	}
	if f.RoleName != "" {
		return f.RoleName
	}
	return fallback
}

// DecodeAudio base64-decodes the frame's audio payload.
func (f *Frame) DecodeAudio() ([]byte, error) {
	if f.Audio == "" {
		return nil, fmt.Errorf("%w: empty audio field", ErrMalformedFrame)
	}
	data, err := base64.StdEncoding.DecodeString(f.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return data, nil
}

// Outbound control frames. Kept as small structs so marshaling is explicit
// about which fields each frame type carries.

// RoleFrame requests a character join or exit.
type RoleFrame struct {
	Type     string `json:"type"`
	RoleName string `json:"role_name"`
}

// Join builds a join request for one character.
func Join(role string) RoleFrame { return RoleFrame{Type: TypeJoin, RoleName: role} }

// Exit builds an exit request for one character.
func Exit(role string) RoleFrame { return RoleFrame{Type: TypeExit, RoleName: role} }

// TextFrame carries a user-typed chat message.
type TextFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// TextMessage builds a user chat message frame.
func TextMessage(content, sessionID string) TextFrame {
	return TextFrame{Type: TypeText, Content: content, SessionID: sessionID}
}

// CallFrame starts or stops a voice call for one session.
type CallFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// StartCall builds a start_call frame.
func StartCall(sessionID string) CallFrame {
	return CallFrame{Type: TypeStartCall, SessionID: sessionID}
}

// StopCall builds a stop_call frame.
func StopCall(sessionID string) CallFrame {
	return CallFrame{Type: TypeStopCall, SessionID: sessionID}
}

// InterruptFrame tells the server to abandon the in-flight turn.
type InterruptFrame struct {
	Type string `json:"type"`
}

// Interrupt builds an interrupt frame.
func Interrupt() InterruptFrame { return InterruptFrame{Type: TypeInterrupt} }

// PlayDoneFrame acknowledges that every audio chunk of one turn has finished
// playing. Content carries the stringified message id.
type PlayDoneFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// PlayDone builds a play_done acknowledgement for one turn.
func PlayDone(messageID string) PlayDoneFrame {
	return PlayDoneFrame{Type: TypePlayDone, Content: messageID}
}
