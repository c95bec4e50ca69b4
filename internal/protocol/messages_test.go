package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_JoinStatus(t *testing.T) {
	f, err := Decode([]byte(`{"type":"success","role_name":"hiyori"}`))
	require.NoError(t, err)
	assert.Equal(t, KindJoinStatus, f.Classify())

	f, err = Decode([]byte(`{"type":"error","role_name":"hiyori"}`))
	require.NoError(t, err)
	assert.Equal(t, KindJoinStatus, f.Classify())

	// success without a role name is not a join status
	f, err = Decode([]byte(`{"type":"success"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, f.Classify())
}

func TestClassify_Interrupt(t *testing.T) {
	f, err := Decode([]byte(`{"type":"interrupt"}`))
	require.NoError(t, err)
	assert.Equal(t, KindInterrupt, f.Classify())

	// interrupt may also arrive in the content field
	f, err = Decode([]byte(`{"content":"interrupt"}`))
	require.NoError(t, err)
	assert.Equal(t, KindInterrupt, f.Classify())
}

func TestClassify_UserTranscript(t *testing.T) {
	f, err := Decode([]byte(`{"type":"user_audio_input","content":"hello","role_name":"me"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUserTranscript, f.Classify())
}

func TestClassify_EOFBeforeTTSChunk(t *testing.T) {
	// An EOF frame has message_id and text but no audio.
	f, err := Decode([]byte(`{"message_id":42,"text":"EOF"}`))
	require.NoError(t, err)
	assert.Equal(t, KindEOF, f.Classify())

	id, err := f.ResolveMessageID()
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestClassify_TTSChunk(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	raw, _ := json.Marshal(map[string]any{
		"message_id":  7,
		"sender_name": "hiyori",
		"audio":       audio,
		"text":        "hel",
	})
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindTTSChunk, f.Classify())

	data, err := f.DecodeAudio()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "hiyori", f.ResolveSender())
}

func TestClassify_LegacyShapes(t *testing.T) {
	// audio without message_id
	audio := base64.StdEncoding.EncodeToString([]byte{9})
	f, err := Decode([]byte(`{"audio":"` + audio + `","SenderName":"Momo"}`))
	require.NoError(t, err)
	assert.Equal(t, KindLegacy, f.Classify())
	assert.Equal(t, "Momo", f.ResolveSender())

	// text-only legacy delta
	f, err = Decode([]byte(`{"text":"partial","msgID":3}`))
	require.NoError(t, err)
	assert.Equal(t, KindLegacy, f.Classify())
	id, err := f.ResolveMessageID()
	require.NoError(t, err)
	assert.Equal(t, "3", id)
}

func TestResolveMessageID_AliasPriority(t *testing.T) {
	// modern field wins over every alias
	f, err := Decode([]byte(`{"message_id":1,"MessageID":2,"messageID":3,"msgID":4}`))
	require.NoError(t, err)
	id, err := f.ResolveMessageID()
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	f, err = Decode([]byte(`{"MessageID":2,"messageID":3,"msgID":4}`))
	require.NoError(t, err)
	id, _ = f.ResolveMessageID()
	assert.Equal(t, "2", id)

	f, err = Decode([]byte(`{"messageID":3,"msgID":4}`))
	require.NoError(t, err)
	id, _ = f.ResolveMessageID()
	assert.Equal(t, "3", id)

	f, err = Decode([]byte(`{"msgID":4}`))
	require.NoError(t, err)
	id, _ = f.ResolveMessageID()
	assert.Equal(t, "4", id)

	f, err = Decode([]byte(`{"text":"x"}`))
	require.NoError(t, err)
	_, err = f.ResolveMessageID()
	assert.ErrorIs(t, err, ErrNoMessageID)
}

func TestResolveMessageID_StringAndLargeIDs(t *testing.T) {
	// int64 ids must not be mangled through float64
	f, err := Decode([]byte(`{"message_id":9007199254740993,"text":"EOF"}`))
	require.NoError(t, err)
	id, err := f.ResolveMessageID()
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", id)
}

func TestResolveSender_Default(t *testing.T) {
	f, err := Decode([]byte(`{"audio":"AA=="}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultSender, f.ResolveSender())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestOutboundFrames(t *testing.T) {
	data, err := json.Marshal(PlayDone("17"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"play_done","content":"17"}`, string(data))

	data, err = json.Marshal(Join("hiyori"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join","role_name":"hiyori"}`, string(data))

	data, err = json.Marshal(StartCall("s-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start_call","session_id":"s-1"}`, string(data))

	data, err = json.Marshal(TextMessage("hi", "s-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","content":"hi","session_id":"s-1"}`, string(data))

	data, err = json.Marshal(Interrupt())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"interrupt"}`, string(data))
}
