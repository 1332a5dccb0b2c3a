// Package ableton speaks the OSC control protocol of the Orbit remote script
// running inside Ableton Live.
package ableton

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a command is executed before Connect.
	ErrNotConnected = errors.New("not connected to Ableton Live; connect first")

	// ErrUnimplementedCommand is returned for commands that have an OSC
	// address but no handler in the remote script.
	ErrUnimplementedCommand = errors.New("command not implemented")

	// ErrInvalidCommand wraps validation and decoding failures.
	ErrInvalidCommand = errors.New("invalid command")
)

// Command is one typed control command. The set of implementations is
// closed; see the types below.
type Command interface {
	// Type is the snake_case name used in the JSON form.
	Type() string
	// OSCPath is the OSC address the command is sent to.
	OSCPath() string
	isCommand()
}

const (
	pathPlay        = "/live/play"
	pathStop        = "/live/stop"
	pathRecord      = "/live/record"
	pathTempo       = "/live/tempo"
	pathTrackVolume = "/live/track/volume"
	pathTrackPan    = "/live/track/pan"
	pathTrackMute   = "/live/track/mute"
	pathTrackSolo   = "/live/track/solo"
	pathTrackArm    = "/live/track/arm"
	pathClipLaunch  = "/live/clip/launch"
	pathClipStop    = "/live/clip/stop"
	pathSceneLaunch = "/live/scene/launch"
	pathDeviceParam = "/live/device/param"
	pathGetSession  = "/live/get"
	pathListTracks  = "/live/tracks"
	pathGetTrack    = "/live/track/get"
	pathGetClip     = "/live/clip/get"
)

type (
	Play   struct{}
	Stop   struct{}
	Record struct{}

	SetTempo struct {
		BPM float32 `json:"bpm"`
	}

	SetTrackVolume struct {
		TrackID int32   `json:"track_id"`
		Volume  float32 `json:"volume"`
	}

	SetTrackPan struct {
		TrackID int32   `json:"track_id"`
		Pan     float32 `json:"pan"`
	}

	SetTrackMute struct {
		TrackID int32 `json:"track_id"`
		Muted   bool  `json:"muted"`
	}

	SetTrackSolo struct {
		TrackID int32 `json:"track_id"`
		Soloed  bool  `json:"soloed"`
	}

	ArmTrack struct {
		TrackID int32 `json:"track_id"`
		Armed   bool  `json:"armed"`
	}

	LaunchClip struct {
		TrackID  int32 `json:"track_id"`
		ClipSlot int32 `json:"clip_slot"`
	}

	StopClip struct {
		TrackID  int32 `json:"track_id"`
		ClipSlot int32 `json:"clip_slot"`
	}

	LaunchScene struct {
		SceneID int32 `json:"scene_id"`
	}

	SetDeviceParameter struct {
		TrackID  int32   `json:"track_id"`
		DeviceID int32   `json:"device_id"`
		ParamID  int32   `json:"param_id"`
		Value    float32 `json:"value"`
	}

	GetSessionInfo struct{}

	// ListTracks asks the remote script for name and mixer state of every track.
	ListTracks struct{}

	GetTrack struct {
		TrackID int32 `json:"track_id"`
	}

	GetClip struct {
		TrackID  int32 `json:"track_id"`
		ClipSlot int32 `json:"clip_slot"`
	}
)

func (Play) Type() string               { return "play" }
func (Stop) Type() string               { return "stop" }
func (Record) Type() string             { return "record" }
func (SetTempo) Type() string           { return "set_tempo" }
func (SetTrackVolume) Type() string     { return "set_track_volume" }
func (SetTrackPan) Type() string        { return "set_track_pan" }
func (SetTrackMute) Type() string       { return "set_track_mute" }
func (SetTrackSolo) Type() string       { return "set_track_solo" }
func (ArmTrack) Type() string           { return "arm_track" }
func (LaunchClip) Type() string         { return "launch_clip" }
func (StopClip) Type() string           { return "stop_clip" }
func (LaunchScene) Type() string        { return "launch_scene" }
func (SetDeviceParameter) Type() string { return "set_device_parameter" }
func (GetSessionInfo) Type() string     { return "get_session_info" }
func (ListTracks) Type() string         { return "list_tracks" }
func (GetTrack) Type() string           { return "get_track" }
func (GetClip) Type() string            { return "get_clip" }

func (Play) OSCPath() string               { return pathPlay }
func (Stop) OSCPath() string               { return pathStop }
func (Record) OSCPath() string             { return pathRecord }
func (SetTempo) OSCPath() string           { return pathTempo }
func (SetTrackVolume) OSCPath() string     { return pathTrackVolume }
func (SetTrackPan) OSCPath() string        { return pathTrackPan }
func (SetTrackMute) OSCPath() string       { return pathTrackMute }
func (SetTrackSolo) OSCPath() string       { return pathTrackSolo }
func (ArmTrack) OSCPath() string           { return pathTrackArm }
func (LaunchClip) OSCPath() string         { return pathClipLaunch }
func (StopClip) OSCPath() string           { return pathClipStop }
func (LaunchScene) OSCPath() string        { return pathSceneLaunch }
func (SetDeviceParameter) OSCPath() string { return pathDeviceParam }
func (GetSessionInfo) OSCPath() string     { return pathGetSession }
func (ListTracks) OSCPath() string         { return pathListTracks }
func (GetTrack) OSCPath() string           { return pathGetTrack }
func (GetClip) OSCPath() string            { return pathGetClip }

func (Play) isCommand()               {}
func (Stop) isCommand()               {}
func (Record) isCommand()             {}
func (SetTempo) isCommand()           {}
func (SetTrackVolume) isCommand()     {}
func (SetTrackPan) isCommand()        {}
func (SetTrackMute) isCommand()       {}
func (SetTrackSolo) isCommand()       {}
func (ArmTrack) isCommand()           {}
func (LaunchClip) isCommand()         {}
func (StopClip) isCommand()           {}
func (LaunchScene) isCommand()        {}
func (SetDeviceParameter) isCommand() {}
func (GetSessionInfo) isCommand()     {}
func (ListTracks) isCommand()         {}
func (GetTrack) isCommand()           {}
func (GetClip) isCommand()            {}

// Implemented reports whether the remote script handles cmd.
func Implemented(cmd Command) bool {
	switch cmd.(type) {
	case Record, StopClip, SetDeviceParameter, GetTrack, GetClip:
		return false
	}
	return true
}

// IsQuery reports whether cmd expects a reply on "<path>/response".
func IsQuery(cmd Command) bool {
	switch cmd.(type) {
	case GetSessionInfo, ListTracks, GetTrack, GetClip:
		return true
	}
	return false
}

// Validate checks the value ranges Live accepts.
func Validate(cmd Command) error {
	switch c := cmd.(type) {
	case SetTempo:
		if c.BPM < 20 || c.BPM > 999 {
			return fmt.Errorf("%w: tempo must be between 20 and 999 BPM (got %g)", ErrInvalidCommand, c.BPM)
		}
	case SetTrackVolume:
		if c.Volume < 0 || c.Volume > 1 {
			return fmt.Errorf("%w: volume must be between 0.0 and 1.0 (got %g)", ErrInvalidCommand, c.Volume)
		}
		return checkIndex("track_id", c.TrackID)
	case SetTrackPan:
		if c.Pan < -1 || c.Pan > 1 {
			return fmt.Errorf("%w: pan must be between -1.0 and 1.0 (got %g)", ErrInvalidCommand, c.Pan)
		}
		return checkIndex("track_id", c.TrackID)
	case SetTrackMute:
		return checkIndex("track_id", c.TrackID)
	case SetTrackSolo:
		return checkIndex("track_id", c.TrackID)
	case ArmTrack:
		return checkIndex("track_id", c.TrackID)
	case LaunchClip:
		if err := checkIndex("track_id", c.TrackID); err != nil {
			return err
		}
		return checkIndex("clip_slot", c.ClipSlot)
	case LaunchScene:
		return checkIndex("scene_id", c.SceneID)
	}
	return nil
}

func checkIndex(name string, v int32) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must be >= 0 (got %d)", ErrInvalidCommand, name, v)
	}
	return nil
}

// result is the synthetic payload returned after a fire-and-forget send.
func result(cmd Command) map[string]any {
	switch c := cmd.(type) {
	case Play:
		return map[string]any{"playing": true}
	case Stop:
		return map[string]any{"playing": false}
	case SetTempo:
		return map[string]any{"tempo": c.BPM}
	case SetTrackVolume:
		return map[string]any{"track_id": c.TrackID, "volume": c.Volume}
	case SetTrackPan:
		return map[string]any{"track_id": c.TrackID, "pan": c.Pan}
	case SetTrackMute:
		return map[string]any{"track_id": c.TrackID, "muted": c.Muted}
	case SetTrackSolo:
		return map[string]any{"track_id": c.TrackID, "soloed": c.Soloed}
	case ArmTrack:
		return map[string]any{"track_id": c.TrackID, "armed": c.Armed}
	case LaunchClip:
		return map[string]any{"track_id": c.TrackID, "clip_slot": c.ClipSlot, "launched": true}
	case LaunchScene:
		return map[string]any{"scene_id": c.SceneID, "launched": true}
	}
	return map[string]any{"sent": cmd.OSCPath()}
}

// ParseCommand decodes the JSON form of a command, e.g.
// {"type":"set_track_volume","track_id":0,"volume":0.5}.
func ParseCommand(data []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	switch head.Type {
	case "play":
		return Play{}, nil
	case "stop":
		return Stop{}, nil
	case "record":
		return Record{}, nil
	case "set_tempo":
		return decodeAs[SetTempo](data)
	case "set_track_volume":
		return decodeAs[SetTrackVolume](data)
	case "set_track_pan":
		return decodeAs[SetTrackPan](data)
	case "set_track_mute":
		return decodeAs[SetTrackMute](data)
	case "set_track_solo":
		return decodeAs[SetTrackSolo](data)
	case "arm_track":
		return decodeAs[ArmTrack](data)
	case "launch_clip":
		return decodeAs[LaunchClip](data)
	case "stop_clip":
		return decodeAs[StopClip](data)
	case "launch_scene":
		return decodeAs[LaunchScene](data)
	case "set_device_parameter":
		return decodeAs[SetDeviceParameter](data)
	case "get_session_info":
		return GetSessionInfo{}, nil
	case "list_tracks":
		return ListTracks{}, nil
	case "get_track":
		return decodeAs[GetTrack](data)
	case "get_clip":
		return decodeAs[GetClip](data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidCommand)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, head.Type)
	}
}

func decodeAs[T Command](data []byte) (Command, error) {
	var c T
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return c, nil
}

// MarshalCommand renders cmd in the form ParseCommand accepts.
func MarshalCommand(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = cmd.Type()
	return json.Marshal(fields)
}
