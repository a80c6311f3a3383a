package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/auctionserver/broadcast"
	"github.com/wfunc/auctionserver/handler"
	"github.com/wfunc/auctionserver/models"
	"github.com/wfunc/auctionserver/network"
	"github.com/wfunc/auctionserver/room"
	"github.com/wfunc/auctionserver/session"
)

type tokenAuth map[string]models.PlayerData

func (a tokenAuth) Login(_ context.Context, token string) (*models.PlayerData, error) {
	p, ok := a[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &p, nil
}

type noopScheduler struct{}

func (noopScheduler) AddTimer(time.Duration, time.Duration, func()) int64 { return 1 }
func (noopScheduler) RemoveTimer(int64)                                   {}

type fixture struct {
	url      string
	registry *room.Registry
	sessions *session.Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	sessions := session.NewManager()
	reg := room.NewRegistry(room.Settings{MaxMembers: 4, InitialBid: 500, Duration: time.Minute}, noopScheduler{}, 100)
	auth := tokenAuth{
		"alice": {UserID: 1, Name: "Alice"},
		"bob":   {UserID: 2, Name: "Bob"},
	}

	gs := NewGameServer(opts, sessions, auth, nil, nil)
	gs.RegisterPlugin(handler.NewAuctionHandler(reg, broadcast.NewSessionBroadcaster(sessions), nil, nil, true))

	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)
	return &fixture{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		registry: reg,
		sessions: sessions,
	}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *fixture) dial(t *testing.T) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msgID uint16, w *network.Writer) {
	c.t.Helper()
	var data []byte
	if w != nil {
		var err error
		data, err = w.Finish()
		require.NoError(c.t, err)
	}
	packet, err := network.EncodePacket(msgID, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, packet))
}

// expect reads until msgID arrives and returns its payload.
func (c *client) expect(msgID uint16) *network.Reader {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		packet, err := network.DecodePacket(raw)
		require.NoError(c.t, err)
		if packet.MsgID == msgID {
			return network.NewReader(packet.Data)
		}
	}
}

func (c *client) login(token string) int64 {
	c.t.Helper()
	c.send(network.MsgTypeLogin, network.NewWriter().String(token))
	r := c.expect(network.MsgTypeLoginResponse)
	require.True(c.t, r.Bool(), "login %q", token)
	return r.Int64()
}

func TestServer_LoginRejectsUnknownToken(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.dial(t)

	c.send(network.MsgTypeLogin, network.NewWriter().String("mallory"))
	r := c.expect(network.MsgTypeLoginResponse)
	assert.False(t, r.Bool())

	c.send(network.MsgTypeAuctionCreate, network.NewWriter().String("r").Bool(true))
	r = c.expect(network.MsgTypeNotLoggedIn)
	assert.Equal(t, uint16(network.MsgTypeAuctionCreate), r.Uint16())
}

func TestServer_CreateJoinOverWebsocket(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.dial(t)
	bob := f.dial(t)
	assert.Equal(t, int64(1), alice.login("alice"))
	assert.Equal(t, int64(2), bob.login("bob"))

	alice.send(network.MsgTypeHeartbeat, nil)
	alice.send(network.MsgTypeAuctionCreate, network.NewWriter().String("").Bool(true))
	r := alice.expect(network.MsgTypeAuctionCreateSuccess)
	roomID := r.Uint16()
	assert.Equal(t, "Alice's Room", r.String())

	bob.send(network.MsgTypeAuctionJoin, network.NewWriter().Uint16(roomID))
	bob.expect(network.MsgTypeAuctionJoinSuccess)

	r = alice.expect(network.MsgTypeAuctionPlayerJoined)
	assert.Equal(t, int64(2), r.Int64())
	assert.Equal(t, "Bob", r.String())
}

func TestServer_DisconnectLeavesRoom(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.dial(t)
	bob := f.dial(t)
	alice.login("alice")
	bob.login("bob")

	alice.send(network.MsgTypeAuctionCreate, network.NewWriter().String("r").Bool(true))
	roomID := alice.expect(network.MsgTypeAuctionCreateSuccess).Uint16()
	bob.send(network.MsgTypeAuctionJoin, network.NewWriter().Uint16(roomID))
	bob.expect(network.MsgTypeAuctionJoinSuccess)

	require.NoError(t, alice.conn.Close())

	r := bob.expect(network.MsgTypeAuctionPlayerLeft)
	assert.Equal(t, int64(1), r.Int64())
	assert.Equal(t, int64(2), r.Int64(), "bob becomes host")

	_, seated := f.registry.RoomOf(1)
	assert.False(t, seated)
}

func TestServer_RateLimitDropsExcess(t *testing.T) {
	f := newFixture(t, Options{RateRPS: 0.001, RateBurst: 2})
	c := f.dial(t)
	c.login("alice")

	// The login used one token; one request remains before the bucket is empty.
	c.send(network.MsgTypeAuctionGetOpenRooms, nil)
	c.expect(network.MsgTypeAuctionOpenRooms)
	c.send(network.MsgTypeHeartbeat, nil)
	c.send(network.MsgTypeAuctionCreate, network.NewWriter().String("r").Bool(true))

	r := c.expect(network.MsgTypeThrottled)
	assert.Equal(t, uint16(network.MsgTypeAuctionCreate), r.Uint16())
	assert.Equal(t, network.ErrCodeThrottled, r.Uint8())
	require.NoError(t, r.Err())
	assert.Equal(t, 0, f.registry.Count())

	c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := c.conn.ReadMessage()
	assert.Error(t, err, "dropped heartbeat gets no reply")
}

type recordingPlugin struct {
	mu           sync.Mutex
	disconnected []int64
}

func (p *recordingPlugin) Block() uint16                                  { return 7 }
func (p *recordingPlugin) HandlePacket(*session.Session, *network.Packet) {}
func (p *recordingPlugin) HandleDisconnect(sess *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, sess.UserID())
}

func TestServer_DisconnectWaitsForLastSession(t *testing.T) {
	sessions := session.NewManager()
	gs := NewGameServer(Options{}, sessions, tokenAuth{}, nil, nil)
	plugin := &recordingPlugin{}
	gs.RegisterPlugin(plugin)

	first := session.NewSession("a", nil)
	first.Login(1, "Alice")
	second := session.NewSession("b", nil)
	second.Login(1, "Alice")
	sessions.Add(first)
	sessions.Add(second)

	sessions.Remove("a")
	gs.disconnect(first)
	assert.Empty(t, plugin.disconnected)

	sessions.Remove("b")
	gs.disconnect(second)
	assert.Equal(t, []int64{1}, plugin.disconnected)
}
