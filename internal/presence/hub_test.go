package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/metrics"
)

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case b, ok := <-c.Send():
			if !ok {
				return out
			}
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestHub_TypingExcludesSender(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	ctx := context.Background()

	x1 := NewClient("x", 8)
	x2 := NewClient("x", 8) // second tab of the typist
	y := NewClient("y", 8)
	z := NewClient("z", 8) // not in the room
	for _, c := range []*Client{x1, x2, y, z} {
		h.Register(c)
	}
	req.True(h.Join(x1, "c1"))
	req.True(h.Join(x2, "c1"))
	req.True(h.Join(y, "c1"))

	n, err := h.BroadcastTyping(ctx, "c1", "x", true)
	req.NoError(err)
	req.Equal(1, n)

	req.Empty(drain(x1))
	req.Empty(drain(x2))
	req.Empty(drain(z))
	frames := drain(y)
	req.Len(frames, 1)

	var env Envelope
	req.NoError(json.Unmarshal(frames[0], &env))
	req.Equal(EventUserTyping, env.Type)
	var p TypingPayload
	req.NoError(json.Unmarshal(env.Payload, &p))
	req.Equal(TypingPayload{UserID: "x", ConversationID: "c1", IsTyping: true}, p)
}

func TestHub_LeaveAndUnregister(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	ctx := context.Background()
	a := NewClient("a", 8)
	b := NewClient("b", 8)
	h.Register(a)
	h.Register(b)
	h.Join(a, "c1")
	h.Join(a, "c2")
	h.Join(b, "c1")

	h.Leave(a, "c1")
	req.False(h.IsMember(a, "c1"))
	req.Equal(0, h.BroadcastRoom(ctx, "c1", []byte("x"), "b"))

	h.Unregister(a)
	req.False(h.IsMember(a, "c2"))
	req.Equal(0, h.RoomSize("c2"))
	req.False(h.Online("a"))
	// closed queue
	_, ok := <-a.Send()
	req.False(ok)

	// no ghost membership after disconnect
	req.False(h.Join(a, "c1"))
	req.False(h.SendTo(a, []byte("late")))
	req.NotPanics(func() { h.Unregister(a) })
}

func TestHub_SendToUserReachesAllConnections(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	a1 := NewClient("a", 8)
	a2 := NewClient("a", 8)
	h.Register(a1)
	h.Register(a2)

	req.Equal(2, h.SendToUser(context.Background(), "a", []byte("ping")))
	req.Len(drain(a1), 1)
	req.Len(drain(a2), 1)
	req.Equal(0, h.SendToUser(context.Background(), "nobody", []byte("ping")))
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	req := require.New(t)
	m := metrics.New(prometheus.NewRegistry())
	h := NewHub(m, zap.NewNop())
	slow := NewClient("s", 1)
	h.Register(slow)
	h.Join(slow, "c1")

	req.Equal(1, h.BroadcastRoom(context.Background(), "c1", []byte("1"), ""))
	req.Equal(0, h.BroadcastRoom(context.Background(), "c1", []byte("2"), ""))
	req.Equal(1.0, testutil.ToFloat64(m.EventsDropped))
	req.Equal(1.0, testutil.ToFloat64(m.Connections))
}

func TestHub_Fanout(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	var rooms []string
	h.Fanout = func(_ context.Context, room string, _ []byte) { rooms = append(rooms, room) }
	h.BroadcastRoom(context.Background(), "c1", []byte("x"), "")
	h.SendToUser(context.Background(), "u1", []byte("x"))
	req.Equal([]string{"c1", "user:u1"}, rooms)
}

func TestHub_ConcurrentMembership(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient("u", 4)
			h.Register(c)
			h.Join(c, "room")
			h.BroadcastRoom(ctx, "room", []byte("hi"), "")
			if i%2 == 0 {
				h.Leave(c, "room")
			}
			h.Unregister(c)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, h.RoomSize("room"))
	require.False(t, h.Online("u"))
}
