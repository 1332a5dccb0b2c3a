package ableton

import (
	"testing"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCommands = []Command{
	Play{}, Stop{}, Record{},
	SetTempo{BPM: 126.5},
	SetTrackVolume{TrackID: 3, Volume: 0.75},
	SetTrackPan{TrackID: 1, Pan: -0.5},
	SetTrackMute{TrackID: 0, Muted: true},
	SetTrackSolo{TrackID: 4, Soloed: false},
	ArmTrack{TrackID: 2, Armed: true},
	LaunchClip{TrackID: 1, ClipSlot: 5},
	StopClip{TrackID: 1, ClipSlot: 5},
	LaunchScene{SceneID: 7},
	SetDeviceParameter{TrackID: 1, DeviceID: 2, ParamID: 3, Value: 0.25},
	GetSessionInfo{}, ListTracks{},
	GetTrack{TrackID: 6},
	GetClip{TrackID: 6, ClipSlot: 1},
}

func TestEveryCommandHasDistinctAddress(t *testing.T) {
	seen := map[string]string{}
	for _, cmd := range allCommands {
		path := cmd.OSCPath()
		require.NotEmpty(t, path, cmd.Type())
		assert.Regexp(t, `^/live/`, path)
		if other, dup := seen[path]; dup {
			t.Errorf("%s and %s share address %s", other, cmd.Type(), path)
		}
		seen[path] = cmd.Type()
	}
}

func TestOSCEncodingPreservesArguments(t *testing.T) {
	for _, cmd := range allCommands {
		packet, err := Encode(cmd)
		require.NoError(t, err, cmd.Type())

		got, err := Decode(packet)
		require.NoError(t, err, cmd.Type())
		assert.Equal(t, cmd, got)
	}
}

func TestEncodeSendsBooleansAsIntegers(t *testing.T) {
	packet, err := Encode(SetTrackMute{TrackID: 2, Muted: true})
	require.NoError(t, err)

	msg, err := parseMessage(packet)
	require.NoError(t, err)
	assert.Equal(t, "/live/track/mute", msg.Address)
	assert.Equal(t, []any{int32(2), int32(1)}, msg.Arguments)
}

func TestDecodeRejectsUnknownAddress(t *testing.T) {
	packet, err := Encode(Play{})
	require.NoError(t, err)
	msg, err := parseMessage(packet)
	require.NoError(t, err)
	msg.Address = "/live/unknown"
	_, err = fromMessage(msg)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestDecodeRejectsMalformedArguments(t *testing.T) {
	tests := []struct {
		name string
		msg  *osc.Message
	}{
		{"id overflows int32", osc.NewMessage(pathTrackVolume, int64(1)<<40, float32(0.5))},
		{"trailing argument", osc.NewMessage(pathTrackVolume, int32(1), float32(0.5), int32(9))},
		{"argument on a bare command", osc.NewMessage(pathPlay, int32(1))},
		{"missing argument", osc.NewMessage(pathTrackPan, int32(1))},
		{"wrong type", osc.NewMessage(pathTempo, "fast")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromMessage(tt.msg)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}

	cmd, err := fromMessage(osc.NewMessage(pathTrackVolume, int64(3), float32(0.5)))
	require.NoError(t, err)
	assert.Equal(t, SetTrackVolume{TrackID: 3, Volume: 0.5}, cmd)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"set_track_volume","track_id":0,"volume":0.5}`))
	require.NoError(t, err)
	assert.Equal(t, SetTrackVolume{TrackID: 0, Volume: 0.5}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"play"}`))
	require.NoError(t, err)
	assert.Equal(t, Play{}, cmd)

	_, err = ParseCommand([]byte(`{"type":"explode"}`))
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = ParseCommand([]byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestMarshalCommandIncludesType(t *testing.T) {
	data, err := MarshalCommand(LaunchClip{TrackID: 1, ClipSlot: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"launch_clip","track_id":1,"clip_slot":2}`, string(data))

	back, err := ParseCommand(data)
	require.NoError(t, err)
	assert.Equal(t, LaunchClip{TrackID: 1, ClipSlot: 2}, back)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(SetTempo{BPM: 20}))
	assert.NoError(t, Validate(SetTempo{BPM: 999}))
	assert.ErrorIs(t, Validate(SetTempo{BPM: 19.5}), ErrInvalidCommand)
	assert.ErrorIs(t, Validate(SetTrackVolume{Volume: -0.1}), ErrInvalidCommand)
	assert.ErrorIs(t, Validate(SetTrackPan{Pan: 1.2}), ErrInvalidCommand)
	assert.ErrorIs(t, Validate(LaunchScene{SceneID: -1}), ErrInvalidCommand)
	assert.NoError(t, Validate(Play{}))
}
