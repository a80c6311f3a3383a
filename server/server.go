package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/models"
	"github.com/wfunc/auctionserver/monitor"
	"github.com/wfunc/auctionserver/network"
	gameserver_rpc "github.com/wfunc/auctionserver/rpc"
	"github.com/wfunc/auctionserver/session"
	"golang.org/x/sync/errgroup"
)

const (
	loginTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Plugin owns one block of message ids.
type Plugin interface {
	Block() uint16
	HandlePacket(sess *session.Session, packet *network.Packet)
	// HandleDisconnect runs once the player's last session is gone.
	HandleDisconnect(sess *session.Session)
}

// Authenticator resolves a login token. services.AuthService implements it.
type Authenticator interface {
	Login(ctx context.Context, token string) (*models.PlayerData, error)
}

type Options struct {
	HTTPAddress       string
	MetricsAddress    string
	HeartbeatInterval time.Duration
	RateRPS           float64
	RateBurst         int
}

type GameServer struct {
	opts           Options
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	auth           Authenticator
	monitor        *monitor.Monitor
	rpcServer      *gameserver_rpc.Server
	plugins        map[uint16]Plugin
	shutdownChan   chan struct{}
}

// NewGameServer builds the server. monitor and rpcServer may be nil.
func NewGameServer(opts Options, sessions *session.Manager, auth Authenticator, mon *monitor.Monitor, rpcServer *gameserver_rpc.Server) *GameServer {
	return &GameServer{
		opts:           opts,
		sessionManager: sessions,
		auth:           auth,
		monitor:        mon,
		rpcServer:      rpcServer,
		plugins:        make(map[uint16]Plugin),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
}

// RegisterPlugin must be called before Run.
func (s *GameServer) RegisterPlugin(p Plugin) {
	s.plugins[p.Block()] = p
}

// Handler serves the websocket endpoint at /ws.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Run serves game, RPC and metrics listeners until ctx is cancelled or one of
// them fails, then shuts all of them down.
func (s *GameServer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              s.opts.HTTPAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{httpServer}
	if s.monitor != nil && s.opts.MetricsAddress != "" {
		servers = append(servers, s.monitor.NewServer(s.opts.MetricsAddress))
	}

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Log.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if s.rpcServer != nil {
		g.Go(s.rpcServer.Start)
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Log.Info("Shutting down game server")
		close(s.shutdownChan)
		s.sessionManager.CloseAll()
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warnf("Shutdown %s: %v", srv.Addr, err)
			}
		}
		return nil
	})

	return g.Wait()
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn))
}

func (s *GameServer) handleConnection(conn network.Connection) {
	sess := session.NewSession(uuid.New().String(), conn)
	sess.SetRateLimit(s.opts.RateRPS, s.opts.RateBurst)
	if s.opts.HeartbeatInterval > 0 {
		conn.SetHeartbeat(s.opts.HeartbeatInterval)
	}
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlinePlayers()
		s.disconnect(sess)
		conn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		packet, err := conn.ReadPacket()
		if err != nil {
			return
		}
		s.monitor.IncMessagesReceived()
		if !sess.Allow() {
			s.monitor.IncMessagesDropped()
			logger.Log.Debugf("Session %s rate limited, dropping message %d", sess.GetID(), packet.MsgID)
			s.replyThrottled(sess, packet.MsgID)
			continue
		}

		start := time.Now()
		s.handlePacket(sess, packet)
		s.monitor.ObserveMessageLatency(time.Since(start))
	}
}

// disconnect notifies plugins once the player has no session left.
func (s *GameServer) disconnect(sess *session.Session) {
	userID, _, ok := sess.Identity()
	if !ok || len(s.sessionManager.GetByUserID(userID)) > 0 {
		return
	}
	for _, p := range s.plugins {
		p.HandleDisconnect(sess)
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	block := network.Block(packet.MsgID)
	if block == network.SystemBlock {
		s.handleSystem(sess, packet)
		return
	}

	p, ok := s.plugins[block]
	if !ok {
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		return
	}
	p.HandlePacket(sess, packet)
}

func (s *GameServer) handleSystem(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
	case network.MsgTypeLogin:
		s.handleLogin(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

func (s *GameServer) handleLogin(sess *session.Session, packet *network.Packet) {
	r := network.NewReader(packet.Data)
	token := r.String()
	if r.Err() != nil {
		s.replyLogin(sess, false, 0, "")
		return
	}

	if userID, name, ok := sess.Identity(); ok {
		s.replyLogin(sess, true, userID, name)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()
	player, err := s.auth.Login(ctx, token)
	if err != nil {
		logger.Log.Infof("Login failed for session %s: %v", sess.GetID(), err)
		s.replyLogin(sess, false, 0, "")
		return
	}

	sess.Login(player.UserID, player.Name)
	logger.Log.Infof("Session %s logged in as player %d (%s)", sess.GetID(), player.UserID, player.Name)
	s.replyLogin(sess, true, player.UserID, player.Name)
}

func (s *GameServer) replyLogin(sess *session.Session, ok bool, userID int64, name string) {
	data, err := network.NewWriter().Bool(ok).Int64(userID).String(name).Finish()
	if err != nil {
		logger.Log.Errorf("Encode login response: %v", err)
		return
	}
	if err := sess.Send(network.MsgTypeLoginResponse, data); err != nil {
		logger.Log.Debugf("Send login response to session %s failed: %v", sess.GetID(), err)
	}
}

// replyThrottled tells the client a request was dropped. System packets are
// dropped silently.
func (s *GameServer) replyThrottled(sess *session.Session, msgID uint16) {
	if network.Block(msgID) == network.SystemBlock {
		return
	}
	data, err := network.NewWriter().Uint16(msgID).Uint8(network.ErrCodeThrottled).Finish()
	if err != nil {
		logger.Log.Errorf("Encode throttled reply: %v", err)
		return
	}
	if err := sess.Send(network.MsgTypeThrottled, data); err != nil {
		logger.Log.Debugf("Send throttled reply to session %s failed: %v", sess.GetID(), err)
	}
}
