package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orbit-app/orbit/internal/ableton"
)

// Executor runs Ableton commands. *ableton.Connector satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd ableton.Command) (json.RawMessage, error)
}

// funcTool adapts a closure to Tool.
type funcTool struct {
	name   string
	desc   string
	params map[string]any
	run    func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *funcTool) Name() string               { return t.name }
func (t *funcTool) Description() string        { return t.desc }
func (t *funcTool) Parameters() map[string]any { return t.params }
func (t *funcTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	return t.run(ctx, args)
}

type trackArgs struct {
	TrackID int32 `json:"track_id"`
}

var trackOnly = object([]string{"track_id"}, map[string]any{
	"track_id": integer("The track number (0-based index)"),
})

// Ableton returns the tools that control Live through ex.
func Ableton(ex Executor) []Tool {
	send := func(ctx context.Context, cmd ableton.Command, ok, failed string) (string, error) {
		if _, err := ex.Execute(ctx, cmd); err != nil {
			return "", explain(failed, err)
		}
		return ok, nil
	}

	trackTool := func(name, desc string, build func(int32) ableton.Command, ok, failed string) Tool {
		return &funcTool{
			name:   name,
			desc:   desc,
			params: trackOnly,
			run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a trackArgs
				if err := decodeArgs(raw, &a); err != nil {
					return "", err
				}
				return send(ctx, build(a.TrackID),
					fmt.Sprintf(ok, a.TrackID), fmt.Sprintf(failed, a.TrackID))
			},
		}
	}

	return []Tool{
		&funcTool{
			name:   "play_ableton",
			desc:   "Start playback in Ableton Live.",
			params: object(nil, map[string]any{}),
			run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return send(ctx, ableton.Play{}, "Started playback in Ableton Live", "Failed to start playback")
			},
		},
		&funcTool{
			name:   "stop_ableton",
			desc:   "Stop playback in Ableton Live.",
			params: object(nil, map[string]any{}),
			run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return send(ctx, ableton.Stop{}, "Stopped playback in Ableton Live", "Failed to stop playback")
			},
		},
		&funcTool{
			name: "set_tempo",
			desc: "Set the song tempo in Ableton Live.",
			params: object([]string{"bpm"}, map[string]any{
				"bpm": number("The tempo in beats per minute (20-999 BPM)", 20, 999),
			}),
			run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a struct {
					BPM float32 `json:"bpm"`
				}
				if err := decodeArgs(raw, &a); err != nil {
					return "", err
				}
				return send(ctx, ableton.SetTempo{BPM: a.BPM},
					fmt.Sprintf("Set tempo to %g BPM", a.BPM), fmt.Sprintf("Failed to set tempo to %g BPM", a.BPM))
			},
		},
		&funcTool{
			name: "set_track_volume",
			desc: "Set the volume of a track in Ableton Live.",
			params: object([]string{"track_id", "volume"}, map[string]any{
				"track_id": integer("The track number (0-based index)"),
				"volume":   number("Volume level from 0.0 (silent) to 1.0 (max)", 0, 1),
			}),
			run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a struct {
					TrackID int32   `json:"track_id"`
					Volume  float32 `json:"volume"`
				}
				if err := decodeArgs(raw, &a); err != nil {
					return "", err
				}
				return send(ctx, ableton.SetTrackVolume{TrackID: a.TrackID, Volume: a.Volume},
					fmt.Sprintf("Set track %d volume to %.2f", a.TrackID, a.Volume),
					fmt.Sprintf("Failed to set track %d volume", a.TrackID))
			},
		},
		&funcTool{
			name: "set_track_pan",
			desc: "Set the stereo pan of a track in Ableton Live.",
			params: object([]string{"track_id", "pan"}, map[string]any{
				"track_id": integer("The track number (0-based index)"),
				"pan":      number("Pan from -1.0 (left) to 1.0 (right)", -1, 1),
			}),
			run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a struct {
					TrackID int32   `json:"track_id"`
					Pan     float32 `json:"pan"`
				}
				if err := decodeArgs(raw, &a); err != nil {
					return "", err
				}
				return send(ctx, ableton.SetTrackPan{TrackID: a.TrackID, Pan: a.Pan},
					fmt.Sprintf("Set track %d pan to %.2f", a.TrackID, a.Pan),
					fmt.Sprintf("Failed to set track %d pan", a.TrackID))
			},
		},
		trackTool("mute_track", "Mute a track in Ableton Live.",
			func(id int32) ableton.Command { return ableton.SetTrackMute{TrackID: id, Muted: true} },
			"Muted track %d", "Failed to mute track %d"),
		trackTool("unmute_track", "Unmute a track in Ableton Live.",
			func(id int32) ableton.Command { return ableton.SetTrackMute{TrackID: id, Muted: false} },
			"Unmuted track %d", "Failed to unmute track %d"),
		trackTool("solo_track", "Solo a track in Ableton Live.",
			func(id int32) ableton.Command { return ableton.SetTrackSolo{TrackID: id, Soloed: true} },
			"Soloed track %d", "Failed to solo track %d"),
		trackTool("unsolo_track", "Unsolo a track in Ableton Live.",
			func(id int32) ableton.Command { return ableton.SetTrackSolo{TrackID: id, Soloed: false} },
			"Unsoloed track %d", "Failed to unsolo track %d"),
		trackTool("arm_track", "Arm a track for recording in Ableton Live.",
			func(id int32) ableton.Command { return ableton.ArmTrack{TrackID: id, Armed: true} },
			"Armed track %d for recording", "Failed to arm track %d"),
		trackTool("disarm_track", "Disarm a track in Ableton Live.",
			func(id int32) ableton.Command { return ableton.ArmTrack{TrackID: id, Armed: false} },
			"Disarmed track %d", "Failed to disarm track %d"),
		&funcTool{
			name: "launch_clip",
			desc: "Launch a clip in Ableton Live's session view.",
			params: object([]string{"track_id", "clip_slot"}, map[string]any{
				"track_id":  integer("The track number (0-based index)"),
				"clip_slot": integer("The clip slot number (0-based index)"),
			}),
			run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a struct {
					TrackID  int32 `json:"track_id"`
					ClipSlot int32 `json:"clip_slot"`
				}
				if err := decodeArgs(raw, &a); err != nil {
					return "", err
				}
				return send(ctx, ableton.LaunchClip{TrackID: a.TrackID, ClipSlot: a.ClipSlot},
					fmt.Sprintf("Launched clip in track %d, slot %d", a.TrackID, a.ClipSlot),
					"Failed to launch clip")
			},
		},
		&funcTool{
			name: "launch_scene",
			desc: "Launch a scene in Ableton Live's session view.",
			params: object([]string{"scene_id"}, map[string]any{
				"scene_id": integer("The scene number (0-based index)"),
			}),
			run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var a struct {
					SceneID int32 `json:"scene_id"`
				}
				if err := decodeArgs(raw, &a); err != nil {
					return "", err
				}
				return send(ctx, ableton.LaunchScene{SceneID: a.SceneID},
					fmt.Sprintf("Launched scene %d", a.SceneID),
					fmt.Sprintf("Failed to launch scene %d", a.SceneID))
			},
		},
		&funcTool{
			name:   "get_live_info",
			desc:   "Get the current Live set state: tempo, playback and track count.",
			params: object(nil, map[string]any{}),
			run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return query(ctx, ex, ableton.GetSessionInfo{}, "Failed to get Live session info")
			},
		},
		&funcTool{
			name:   "list_tracks",
			desc:   "List every track in the Live set with its mixer state.",
			params: object(nil, map[string]any{}),
			run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return query(ctx, ex, ableton.ListTracks{}, "Failed to list tracks")
			},
		},
	}
}

func query(ctx context.Context, ex Executor, cmd ableton.Command, failed string) (string, error) {
	data, err := ex.Execute(ctx, cmd)
	if err != nil {
		return "", explain(failed, err)
	}
	return string(data), nil
}

func explain(failed string, err error) error {
	switch {
	case errors.Is(err, ableton.ErrNotConnected):
		return fmt.Errorf("%s: Ableton Live is not connected. Ask the user to connect Orbit to Live first", failed)
	case errors.Is(err, ableton.ErrQueryTimeout):
		return fmt.Errorf("%s. Make sure Ableton Live is running and the Orbit remote script is loaded", failed)
	default:
		return fmt.Errorf("%s: %w", failed, err)
	}
}
