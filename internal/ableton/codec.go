package ableton

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/hypebeast/go-osc/osc"
)

// Encode serializes cmd as an OSC message. Ids are sent first as int32,
// followed by the payload; booleans travel as int32 0/1.
func Encode(cmd Command) ([]byte, error) {
	msg := osc.NewMessage(cmd.OSCPath())
	msg.Append(args(cmd)...)
	return msg.MarshalBinary()
}

func args(cmd Command) []any {
	switch c := cmd.(type) {
	case SetTempo:
		return []any{c.BPM}
	case SetTrackVolume:
		return []any{c.TrackID, c.Volume}
	case SetTrackPan:
		return []any{c.TrackID, c.Pan}
	case SetTrackMute:
		return []any{c.TrackID, flag(c.Muted)}
	case SetTrackSolo:
		return []any{c.TrackID, flag(c.Soloed)}
	case ArmTrack:
		return []any{c.TrackID, flag(c.Armed)}
	case LaunchClip:
		return []any{c.TrackID, c.ClipSlot}
	case StopClip:
		return []any{c.TrackID, c.ClipSlot}
	case LaunchScene:
		return []any{c.SceneID}
	case SetDeviceParameter:
		return []any{c.TrackID, c.DeviceID, c.ParamID, c.Value}
	case GetTrack:
		return []any{c.TrackID}
	case GetClip:
		return []any{c.TrackID, c.ClipSlot}
	}
	return nil
}

func flag(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Decode parses an OSC packet produced by Encode back into a Command.
func Decode(packet []byte) (Command, error) {
	msg, err := parseMessage(packet)
	if err != nil {
		return nil, err
	}
	return fromMessage(msg)
}

func parseMessage(packet []byte) (*osc.Message, error) {
	p, err := osc.ParsePacket(string(packet))
	if err != nil {
		return nil, fmt.Errorf("parsing osc packet: %w", err)
	}
	msg, ok := p.(*osc.Message)
	if !ok {
		return nil, fmt.Errorf("parsing osc packet: expected message, got %T", p)
	}
	return msg, nil
}

func fromMessage(msg *osc.Message) (Command, error) {
	a := argReader{args: msg.Arguments}
	var cmd Command
	switch msg.Address {
	case pathPlay:
		cmd = Play{}
	case pathStop:
		cmd = Stop{}
	case pathRecord:
		cmd = Record{}
	case pathTempo:
		cmd = SetTempo{BPM: a.float()}
	case pathTrackVolume:
		cmd = SetTrackVolume{TrackID: a.int(), Volume: a.float()}
	case pathTrackPan:
		cmd = SetTrackPan{TrackID: a.int(), Pan: a.float()}
	case pathTrackMute:
		cmd = SetTrackMute{TrackID: a.int(), Muted: a.int() != 0}
	case pathTrackSolo:
		cmd = SetTrackSolo{TrackID: a.int(), Soloed: a.int() != 0}
	case pathTrackArm:
		cmd = ArmTrack{TrackID: a.int(), Armed: a.int() != 0}
	case pathClipLaunch:
		cmd = LaunchClip{TrackID: a.int(), ClipSlot: a.int()}
	case pathClipStop:
		cmd = StopClip{TrackID: a.int(), ClipSlot: a.int()}
	case pathSceneLaunch:
		cmd = LaunchScene{SceneID: a.int()}
	case pathDeviceParam:
		cmd = SetDeviceParameter{TrackID: a.int(), DeviceID: a.int(), ParamID: a.int(), Value: a.float()}
	case pathGetSession:
		cmd = GetSessionInfo{}
	case pathListTracks:
		cmd = ListTracks{}
	case pathGetTrack:
		cmd = GetTrack{TrackID: a.int()}
	case pathGetClip:
		cmd = GetClip{TrackID: a.int(), ClipSlot: a.int()}
	default:
		return nil, fmt.Errorf("%w: unknown address %q", ErrInvalidCommand, msg.Address)
	}
	a.done()
	if a.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, msg.Address, a.err)
	}
	return cmd, nil
}

// argReader consumes OSC arguments in order and records the first mismatch.
type argReader struct {
	args []any
	pos  int
	err  error
}

func (r *argReader) next() any {
	if r.err != nil {
		return nil
	}
	if r.pos >= len(r.args) {
		r.err = fmt.Errorf("missing argument %d", r.pos)
		return nil
	}
	v := r.args[r.pos]
	r.pos++
	return v
}

func (r *argReader) int() int32 {
	switch v := r.next().(type) {
	case int32:
		return v
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			r.setErr(fmt.Errorf("argument %d: %d overflows int32", r.pos-1, v))
			return 0
		}
		return int32(v)
	default:
		r.fail("int32", v)
		return 0
	}
}

func (r *argReader) float() float32 {
	switch v := r.next().(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	case int32:
		return float32(v)
	default:
		r.fail("float32", v)
		return 0
	}
}

// done records an error if arguments are left over.
func (r *argReader) done() {
	if r.pos < len(r.args) {
		r.setErr(fmt.Errorf("unexpected argument %d of %d", r.pos, len(r.args)))
	}
}

func (r *argReader) fail(want string, got any) {
	r.setErr(fmt.Errorf("argument %d: expected %s, got %T", r.pos-1, want, got))
}

func (r *argReader) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

// replyData converts the arguments of a "<path>/response" message into JSON.
// The remote script answers with a single JSON string for structured data.
func replyData(args []any) (json.RawMessage, error) {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok && json.Valid([]byte(s)) {
			return json.RawMessage(s), nil
		}
	}
	if args == nil {
		args = []any{}
	}
	return json.Marshal(args)
}
