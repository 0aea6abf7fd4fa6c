package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/atulpatil/drawbridge/internal/protocol"
	"github.com/atulpatil/drawbridge/internal/registry"
)

type fakePeer struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id, userID: "user-" + id}
}

func (p *fakePeer) ID() string     { return p.id }
func (p *fakePeer) UserID() string { return p.userID }

func (p *fakePeer) Enqueue(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.frames = append(p.frames, append([]byte(nil), frame...))
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// received decodes frames of the given type, in arrival order.
func (p *fakePeer) received(t *testing.T, frameType string) []protocol.Outbound {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []protocol.Outbound
	for _, frame := range p.frames {
		var f protocol.Outbound
		require.NoError(t, json.Unmarshal(frame, &f))
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

type opEntry struct {
	roomID, userID, payload string
}

type memLog struct {
	mu      sync.Mutex
	entries []opEntry
	err     error
}

func (l *memLog) AppendOperation(_ context.Context, roomID, userID, payload string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, opEntry{roomID, userID, payload})
	return nil
}

func (l *memLog) all() []opEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]opEntry(nil), l.entries...)
}

func setupRouter(t *testing.T) (*Router, *registry.Registry, *memLog) {
	t.Helper()

	reg := registry.New()
	ops := &memLog{}
	rt := NewRouter(reg, ops, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rt.Run(ctx)

	return rt, reg, ops
}

func TestChatReachesEveryMemberIncludingSender(t *testing.T) {
	rt, reg, _ := setupRouter(t)

	x, y, z := newFakePeer("x"), newFakePeer("y"), newFakePeer("z")
	for _, p := range []*fakePeer{x, y, z} {
		reg.Add(p)
	}
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))
	rt.Route(y, []byte(`{"type":"join-room","roomId":"42"}`))
	rt.Route(z, []byte(`{"type":"join-room","roomId":"43"}`))

	rt.Route(x, []byte(`{"type":"chat","roomId":"42","message":"hello"}`))

	require.Eventually(t, func() bool {
		return len(x.received(t, protocol.TypeChat)) == 1 &&
			len(y.received(t, protocol.TypeChat)) == 1
	}, time.Second, 5*time.Millisecond)

	for _, p := range []*fakePeer{x, y} {
		chats := p.received(t, protocol.TypeChat)
		require.Len(t, chats, 1, "peer %s", p.id)
		require.Equal(t, "42", chats[0].RoomID)
		require.Equal(t, "hello", chats[0].Message)
		require.Equal(t, "user-x", chats[0].UserID)
		require.NotEmpty(t, chats[0].Timestamp)
	}

	require.Empty(t, z.received(t, protocol.TypeChat))
}

func TestJoinConfirmationGoesToSourceOnly(t *testing.T) {
	rt, reg, _ := setupRouter(t)

	x, y := newFakePeer("x"), newFakePeer("y")
	reg.Add(x)
	reg.Add(y)
	rt.Route(y, []byte(`{"type":"join-room","roomId":"42"}`))

	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))

	joined := x.received(t, protocol.TypeRoomJoined)
	require.Len(t, joined, 1)
	require.Equal(t, "42", joined[0].RoomID)
	require.Len(t, y.received(t, protocol.TypeRoomJoined), 1, "only y's own confirmation")
}

func TestLeaveStopsDelivery(t *testing.T) {
	rt, reg, _ := setupRouter(t)

	x, y := newFakePeer("x"), newFakePeer("y")
	reg.Add(x)
	reg.Add(y)
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))
	rt.Route(y, []byte(`{"type":"join-room","roomId":"42"}`))
	rt.Route(x, []byte(`{"type":"leave-room","roomId":"42"}`))

	rt.Route(y, []byte(`{"type":"chat","roomId":"42","message":"anyone?"}`))

	require.Eventually(t, func() bool {
		return len(y.received(t, protocol.TypeChat)) == 1
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, x.received(t, protocol.TypeChat))
}

func TestNeverJoinedNeverReceives(t *testing.T) {
	rt, reg, _ := setupRouter(t)

	x, lurker := newFakePeer("x"), newFakePeer("lurker")
	reg.Add(x)
	reg.Add(lurker)
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))

	for i := 0; i < 5; i++ {
		rt.Route(x, []byte(`{"type":"chat","roomId":"42","message":"spam"}`))
	}

	require.Eventually(t, func() bool {
		return len(x.received(t, protocol.TypeChat)) == 5
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, lurker.frames)
}

func TestMalformedFrameAnswersSourceOnly(t *testing.T) {
	rt, reg, ops := setupRouter(t)

	x, y := newFakePeer("x"), newFakePeer("y")
	reg.Add(x)
	reg.Add(y)
	rt.Route(y, []byte(`{"type":"join-room","roomId":"42"}`))

	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"chat"}`),
		[]byte(`{"type":"chat","roomId":"42"}`),
		[]byte(`{"type":"join-room"}`),
		[]byte(`{"type":"mystery"}`),
	}
	for _, frame := range cases {
		rt.Route(x, frame)
	}

	require.Len(t, x.received(t, protocol.TypeError), len(cases))
	require.Empty(t, y.received(t, protocol.TypeChat))
	require.Empty(t, ops.all())
}

func TestBroadcastOrderIsConsistentAcrossMembers(t *testing.T) {
	rt, reg, _ := setupRouter(t)

	x, y := newFakePeer("x"), newFakePeer("y")
	reg.Add(x)
	reg.Add(y)
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))
	rt.Route(y, []byte(`{"type":"join-room","roomId":"42"}`))

	messages := []string{"one", "two", "three", "four"}
	for _, m := range messages {
		rt.Route(x, []byte(`{"type":"chat","roomId":"42","message":"`+m+`"}`))
	}

	require.Eventually(t, func() bool {
		return len(x.received(t, protocol.TypeChat)) == len(messages) &&
			len(y.received(t, protocol.TypeChat)) == len(messages)
	}, time.Second, 5*time.Millisecond)

	for _, p := range []*fakePeer{x, y} {
		chats := p.received(t, protocol.TypeChat)
		for i, m := range messages {
			require.Equal(t, m, chats[i].Message, "peer %s position %d", p.id, i)
		}
	}
}

func TestFullPeerQueueDoesNotAbortFanOut(t *testing.T) {
	rt, reg, _ := setupRouter(t)

	x, stuck := newFakePeer("x"), newFakePeer("stuck")
	stuck.full = true
	reg.Add(x)
	reg.Add(stuck)
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))
	reg.Join(stuck, "42")

	rt.Route(x, []byte(`{"type":"chat","roomId":"42","message":"hello"}`))

	require.Eventually(t, func() bool {
		return len(x.received(t, protocol.TypeChat)) == 1 && stuck.isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestChatIsAppendedToLog(t *testing.T) {
	rt, reg, ops := setupRouter(t)

	x := newFakePeer("x")
	reg.Add(x)
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))

	rt.Route(x, []byte(`{"type":"chat","roomId":"42","message":"hello"}`))

	require.Eventually(t, func() bool {
		return len(ops.all()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, opEntry{"42", "user-x", "hello"}, ops.all()[0])
}

func TestEmptyRoomChatIsStillLogged(t *testing.T) {
	rt, reg, ops := setupRouter(t)

	x := newFakePeer("x")
	reg.Add(x)

	// x never joined room 99; nobody is there to hear it.
	rt.Route(x, []byte(`{"type":"chat","roomId":"99","message":"echo"}`))

	require.Eventually(t, func() bool {
		return len(ops.all()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, opEntry{"99", "user-x", "echo"}, ops.all()[0])
	require.Empty(t, x.received(t, protocol.TypeChat))
}

func TestAppendFailureDoesNotAffectDelivery(t *testing.T) {
	rt, reg, ops := setupRouter(t)
	ops.err = context.DeadlineExceeded

	x := newFakePeer("x")
	reg.Add(x)
	rt.Route(x, []byte(`{"type":"join-room","roomId":"42"}`))

	rt.Route(x, []byte(`{"type":"chat","roomId":"42","message":"hello"}`))

	require.Eventually(t, func() bool {
		return len(x.received(t, protocol.TypeChat)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, ops.all())
}
