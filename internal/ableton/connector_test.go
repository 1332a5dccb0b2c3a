package ableton

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLive stands in for the remote script: it records decoded commands and
// answers queries when a reply is configured.
type fakeLive struct {
	conn     *net.UDPConn
	commands chan Command
	replies  map[string][]any
	silent   atomic.Bool
}

func newFakeLive(t *testing.T, replies map[string][]any) *fakeLive {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeLive{conn: conn, commands: make(chan Command, 16), replies: replies}
	stopped := make(chan struct{})
	go f.serve(stopped)
	t.Cleanup(func() {
		conn.Close()
		<-stopped
	})
	return f
}

func (f *fakeLive) serve(stopped chan<- struct{}) {
	defer close(stopped)
	buf := make([]byte, 65535)
	for {
		n, from, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cmd, err := Decode(buf[:n])
		if err != nil {
			continue
		}
		f.commands <- cmd
		if args, ok := f.replies[cmd.OSCPath()]; ok && !f.silent.Load() {
			msg := osc.NewMessage(cmd.OSCPath()+"/response", args...)
			data, _ := msg.MarshalBinary()
			_, _ = f.conn.WriteToUDP(data, from)
		}
	}
}

func (f *fakeLive) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func connected(t *testing.T, f *fakeLive, queryTimeout time.Duration) *Connector {
	t.Helper()
	c := NewConnector(Config{Host: "127.0.0.1", Port: f.port(), QueryTimeout: queryTimeout})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestExecuteRequiresConnection(t *testing.T) {
	c := NewConnector(Config{Host: "127.0.0.1", Port: 11000})

	for _, cmd := range []Command{Play{}, SetTempo{BPM: 120}, Record{}, GetSessionInfo{}} {
		_, err := c.Execute(context.Background(), cmd)
		assert.ErrorIs(t, err, ErrNotConnected, cmd.Type())
	}
	assert.Contains(t, ErrNotConnected.Error(), "Ableton Live")
	assert.Equal(t, Disconnected, c.State())
}

func TestConnectAndDisconnectAreIdempotent(t *testing.T) {
	f := newFakeLive(t, nil)
	c := NewConnector(Config{Host: "127.0.0.1", Port: f.port()})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.State())

	_, err := c.Execute(context.Background(), Play{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExecuteSendsCommandAndReturnsSyntheticResult(t *testing.T) {
	f := newFakeLive(t, nil)
	c := connected(t, f, 0)

	data, err := c.Execute(context.Background(), SetTempo{BPM: 120})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tempo":120}`, string(data))

	select {
	case got := <-f.commands:
		assert.Equal(t, SetTempo{BPM: 120}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("fake live never received the command")
	}

	data, err = c.Execute(context.Background(), SetTrackMute{TrackID: 2, Muted: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"track_id":2,"muted":true}`, string(data))
	assert.Equal(t, SetTrackMute{TrackID: 2, Muted: true}, <-f.commands)
}

func TestExecuteRejectsUnimplementedCommands(t *testing.T) {
	f := newFakeLive(t, nil)
	c := connected(t, f, 0)

	for _, cmd := range []Command{Record{}, StopClip{}, SetDeviceParameter{}, GetTrack{}, GetClip{}} {
		_, err := c.Execute(context.Background(), cmd)
		assert.ErrorIs(t, err, ErrUnimplementedCommand, cmd.Type())
	}
}

func TestExecuteValidatesRanges(t *testing.T) {
	f := newFakeLive(t, nil)
	c := connected(t, f, 0)

	_, err := c.Execute(context.Background(), SetTempo{BPM: 10})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = c.Execute(context.Background(), SetTrackVolume{TrackID: 0, Volume: 1.5})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestQueryWaitsForReply(t *testing.T) {
	f := newFakeLive(t, map[string][]any{
		pathGetSession: {`{"tempo":128.0,"is_playing":false,"track_count":4}`},
		pathListTracks: {"Drums", "Bass"},
	})
	c := connected(t, f, 2*time.Second)

	data, err := c.Execute(context.Background(), GetSessionInfo{})
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, 128.0, info["tempo"])

	data, err = c.Execute(context.Background(), ListTracks{})
	require.NoError(t, err)
	assert.JSONEq(t, `["Drums","Bass"]`, string(data))
}

func TestQueryTimesOut(t *testing.T) {
	f := newFakeLive(t, nil)
	c := connected(t, f, 50*time.Millisecond)

	_, err := c.Execute(context.Background(), GetSessionInfo{})
	assert.ErrorIs(t, err, ErrQueryTimeout)
}

func TestQueryHonoursCancellation(t *testing.T) {
	f := newFakeLive(t, nil)
	c := connected(t, f, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, ListTracks{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueryAfterReconnectGetsItsReply(t *testing.T) {
	f := newFakeLive(t, map[string][]any{
		pathGetSession: {`{"tempo":120.0}`},
	})
	f.silent.Store(true)
	c := connected(t, f, time.Minute)

	first := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), GetSessionInfo{})
		first <- err
	}()
	select {
	case <-f.commands:
	case <-time.After(2 * time.Second):
		t.Fatal("fake live never received the first query")
	}

	require.NoError(t, c.Disconnect())
	assert.ErrorIs(t, <-first, ErrNotConnected)

	c.pmu.Lock()
	assert.Empty(t, c.pending)
	c.pmu.Unlock()

	f.silent.Store(false)
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := c.Execute(ctx, GetSessionInfo{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tempo":120}`, string(data))
}
