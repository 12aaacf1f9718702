// Public Goods Game
//
// An instructor opens a session and shares its six-character code. Students
// join with the code, get split into fixed groups of four, and play a number
// of rounds. Each round every student splits an endowment between a private
// account and a group project whose total is multiplied and shared. From a
// configurable round on, a punishment stage lets students pay to reduce the
// earnings of group mates.
//
// Each browser talks to the server over one websocket at $prefix/ws using
// {type, gameId, data} envelopes; see $prefix/protocol.json for every command.
//
// Features:
// - One websocket endpoint for all sessions, each connection bound to one session
// - Connection ids from google/uuid double as player ids
// - Students who drop mid-game can reconnect with their previous id or name
// - Absent students forfeit (contribute nothing) after --player-timeout
// - Idle sessions are evicted after --session-timeout
// - QR code of the join link at $prefix/game/:gameid/qr, backed by go-qrcode

package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Seednode/publicgoods/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
	qrSize         = 320
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Outbound

	mu     sync.Mutex
	gameID string
	closed bool
}

func (c *Client) game() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

func (c *Client) bind(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gameID = gameID
}

// enqueue never blocks; a client that cannot keep up loses messages.
func (c *Client) enqueue(msg Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown stops the write pump once queued messages are flushed. It
// returns the session the client was bound to, if any.
func (c *Client) shutdown() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	gameID := c.gameID
	c.gameID = ""
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return gameID
}

// Gateway connects websocket clients to sessions. It is the Notifier of
// the registry it serves.
type Gateway struct {
	cfg      *Config
	log      *zap.Logger
	registry *game.Registry

	mu      sync.RWMutex
	clients map[string]*Client
}

func newGateway(cfg *Config, log *zap.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		log:     log,
		clients: make(map[string]*Client),
	}
}

func (g *Gateway) client(id string) *Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients[id]
}

func (g *Gateway) Notify(gameID, playerID string, ev game.Event) {
	c := g.client(playerID)
	if c == nil {
		return
	}
	if bound := c.game(); bound != "" && bound != gameID {
		return
	}

	if !c.enqueue(newOutbound(gameID, ev)) {
		g.log.Warn("GAMES: Dropped message",
			zap.String("game", gameID),
			zap.String("player", playerID),
			zap.String("type", ev.EventName()))
	}

	switch e := ev.(type) {
	case game.SessionClosed:
		c.shutdown()
	case game.ParticipantRemoved:
		if e.RemovedID == playerID {
			c.shutdown()
		}
	}
}

func (g *Gateway) attach(conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Outbound, sendBuffer),
	}

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	return c
}

func (g *Gateway) detach(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	if gameID := c.shutdown(); gameID != "" {
		if s, err := g.registry.Get(gameID); err == nil {
			s.Disconnect(c.id)
		}
	}
}

func (g *Gateway) reply(c *Client, gameID string, err error) {
	g.log.Debug("GAMES: Rejected command",
		zap.String("game", gameID),
		zap.String("player", c.id),
		zap.String("kind", game.KindOf(err).String()),
		zap.Error(err))

	c.enqueue(newOutbound(gameID, game.ReportError(err)))
}

// session resolves the session a bound client addresses.
func (g *Gateway) session(c *Client, gameID string) (*game.Session, error) {
	bound := c.game()
	if bound == "" {
		return nil, &game.Error{Kind: game.KindUnauthorized, Message: "register with a game before sending commands"}
	}
	if gameID != "" && game.NormalizeID(gameID) != bound {
		return nil, &game.Error{Kind: game.KindUnauthorized, Message: "this connection is registered with game " + bound}
	}
	return g.registry.Get(bound)
}

func (g *Gateway) dispatch(c *Client, msg Inbound) {
	if err := g.handle(c, msg); err != nil {
		gameID := c.game()
		if gameID == "" {
			gameID = game.NormalizeID(msg.GameID)
		}
		g.reply(c, gameID, err)
	}
}

func (g *Gateway) handle(c *Client, msg Inbound) error {
	if _, known := commandTypes[msg.Type]; !known {
		return invalidInput("unknown command %q", msg.Type)
	}

	switch msg.Type {
	case cmdCreateSession:
		var cmd CreateSessionCommand
		if err := decodeData(msg.Data, &cmd); err != nil {
			return err
		}
		if err := cmd.validate(); err != nil {
			return err
		}
		if bound := c.game(); bound != "" {
			return &game.Error{Kind: game.KindInvalidState, Message: "this connection is already registered with game " + bound}
		}

		s, err := g.registry.Host(c.id, cmd.Name)
		if err != nil {
			return err
		}
		c.bind(s.ID())

		g.log.Info("GAMES: Created game", zap.String("game", s.ID()), zap.String("host", c.id))

		return nil

	case cmdRegister:
		var cmd RegisterCommand
		if err := decodeData(msg.Data, &cmd); err != nil {
			return err
		}
		if err := cmd.validate(); err != nil {
			return err
		}

		s, err := g.registry.Get(msg.GameID)
		if err != nil {
			return err
		}
		if bound := c.game(); bound != "" && bound != s.ID() {
			return &game.Error{Kind: game.KindInvalidState, Message: "this connection is already registered with game " + bound}
		}

		err = s.Register(c.id, game.Registration{
			Role:           cmd.Role,
			Name:           cmd.Name,
			IsReconnection: cmd.IsReconnection,
			PreviousID:     cmd.PlayerID,
		})
		if err != nil {
			return err
		}
		c.bind(s.ID())

		return nil
	}

	s, err := g.session(c, msg.GameID)
	if err != nil {
		return err
	}

	switch msg.Type {
	case cmdCloseSession:
		return g.registry.Close(s.ID(), c.id)

	case cmdStartGame:
		cfg, err := startGameConfig(msg.Data)
		if err != nil {
			return err
		}
		return s.StartGame(c.id, cfg)

	case cmdNextRound:
		return s.NextRound(c.id)

	case cmdResetGame:
		return s.Reset(c.id)

	case cmdRemoveParticipant:
		var cmd RemoveParticipantCommand
		if err := decodeData(msg.Data, &cmd); err != nil {
			return err
		}
		if err := cmd.validate(); err != nil {
			return err
		}
		return s.RemoveParticipant(c.id, cmd.ParticipantID)

	case cmdSubmitContribution:
		var cmd SubmitContributionCommand
		if err := decodeData(msg.Data, &cmd); err != nil {
			return err
		}
		amount, err := cmd.amount()
		if err != nil {
			return err
		}
		return s.SubmitContribution(c.id, amount)

	case cmdSubmitPunishment:
		var cmd SubmitPunishmentCommand
		if err := decodeData(msg.Data, &cmd); err != nil {
			return err
		}
		if err := cmd.validate(); err != nil {
			return err
		}
		return s.SubmitPunishment(c.id, cmd.Punishments)
	}

	return nil
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		g.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("GAMES: Connection lost", zap.String("player", c.id), zap.Error(err))
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			g.reply(c, c.game(), invalidInput("malformed message: %v", err))
			continue
		}

		g.dispatch(c, msg)
	}
}

func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.log.Warn("SERVE: Websocket upgrade failed", zap.String("client", realIP(r)), zap.Error(err))
			return
		}

		c := g.attach(conn)

		g.log.Debug("SERVE: Websocket connected", zap.String("player", c.id), zap.String("client", realIP(r)))

		go g.writePump(c)
		g.readPump(c)
	}
}

// joinURL is the link students follow to join gameID. Request-supplied
// scheme and host are only trusted when well-formed.
func joinURL(cfg *Config, r *http.Request, gameID string) string {
	scheme := cfg.scheme()
	switch proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); proto {
	case "http", "https":
		scheme = proto
	}

	host := r.Host
	if !validHost(host) {
		host = net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	}

	return scheme + "://" + host + cfg.prefix + "/game/" + gameID
}

// validHost accepts host, host:port and bracketed IPv6 literals.
func validHost(host string) bool {
	if host == "" || len(host) > 255 {
		return false
	}
	for _, c := range host {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == ':', c == '[', c == ']':
		default:
			return false
		}
	}
	return true
}

func (g *Gateway) serveQR(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, err := g.registry.Get(ps.ByName("gameid"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		png, err := qrcode.Encode(joinURL(g.cfg, r, s.ID()), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(g.cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

func (g *Gateway) serveGame(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, err := g.registry.Get(ps.ByName("gameid"))
		if err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(g.cfg, w)
			w.WriteHeader(http.StatusNotFound)

			_, _ = w.Write([]byte(newPage(g.cfg, "Game not found", "No game with that code is running.")))
			return
		}

		snap := s.Snapshot()

		var body strings.Builder
		body.WriteString("<h1>Game " + snap.GameID + "</h1>")
		body.WriteString("<p>Status: " + string(snap.Status) + "</p>")
		body.WriteString(`<img alt="QR code" src="` + g.cfg.prefix + "/game/" + snap.GameID + `/qr">`)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(g.cfg, w)

		if _, err := w.Write([]byte(newPage(g.cfg, "Game "+snap.GameID, body.String()))); err != nil {
			errs <- err
		}
	}
}

// registerGoodsGame sets up routes so that:
//   - $prefix/ws              → websocket for every session
//   - $prefix/game/:gameid    → join page for that game
//   - $prefix/game/:gameid/qr → PNG QR code of the join page
func registerGoodsGame(cfg *Config, mux *httprouter.Router, g *Gateway, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", g.serveWS())
	mux.GET(cfg.prefix+"/game/:gameid", g.serveGame(errs))
	mux.GET(cfg.prefix+"/game/:gameid/qr", g.serveQR(errs))
}
