package hub

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 20 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 5 * time.Second
)

// Server hosts the websocket endpoint the remote hub connects to, and owns
// the available/configured entity registries.
type Server struct {
	router        chi.Router
	upgrader      websocket.Upgrader
	driverID      string
	driverVersion string
	authToken     string
	listener      Listener

	mu          sync.Mutex
	available   map[string]Entity
	order       []string
	configured  map[string]bool
	deviceState DeviceState
	conns       map[*wsConn]bool
}

type Option func(*Server)

// WithAuthToken requires remotes to authenticate before any other request.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

func WithDriverInfo(id, version string) Option {
	return func(s *Server) {
		s.driverID = id
		s.driverVersion = version
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		driverID:      "jellybridge",
		driverVersion: "1.0.0",
		available:     make(map[string]Entity),
		configured:    make(map[string]bool),
		deviceState:   DeviceDisconnected,
		conns:         make(map[*wsConn]bool),
	}
	for _, o := range opts {
		o(s)
	}
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Get("/ws", s.handleWS)
	s.router.Get("/api/health", s.handleHealth)
	return s
}

// SetListener wires the bridge in after construction. Must be called before
// the server starts accepting connections.
func (s *Server) SetListener(l Listener) {
	s.listener = l
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"device_state": s.DeviceState(),
	})
}

// Entity registries

func (s *Server) AddAvailableEntity(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.available[e.ID()]; !exists {
		s.order = append(s.order, e.ID())
	}
	s.available[e.ID()] = e
}

// ClearAvailableEntities drops every entity registration, including
// configured membership. Used by full re-initialization.
func (s *Server) ClearAvailableEntities() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = make(map[string]Entity)
	s.order = nil
	s.configured = make(map[string]bool)
}

func (s *Server) AvailableEntity(id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.available[id]
	return e, ok
}

func (s *Server) AvailableEntityIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

func (s *Server) IsConfigured(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured[id]
}

// Device state

func (s *Server) SetDeviceState(state DeviceState) {
	s.mu.Lock()
	changed := s.deviceState != state
	s.deviceState = state
	s.mu.Unlock()
	if changed {
		log.Printf("hub: device state -> %s", state)
	}
	s.broadcast(wsEvent{
		Kind:    "event",
		Msg:     "device_state",
		Cat:     "DEVICE",
		MsgData: map[string]any{"state": state},
	})
}

func (s *Server) DeviceState() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceState
}

// UpdateAttributes pushes an attribute change for a configured entity to all
// connected remotes. Changes for entities that are merely available are
// dropped, matching the hub's subscription semantics.
func (s *Server) UpdateAttributes(entityID string, attrs map[string]any) {
	if !s.IsConfigured(entityID) {
		return
	}
	s.broadcast(wsEvent{
		Kind: "event",
		Msg:  "entity_change",
		Cat:  "ENTITY",
		MsgData: map[string]any{
			"entity_id":   entityID,
			"entity_type": "media_player",
			"attributes":  attrs,
		},
	})
}

// Wire protocol

type wsMessage struct {
	Kind    string          `json:"kind"`
	ID      int             `json:"id,omitempty"`
	Msg     string          `json:"msg"`
	MsgData json.RawMessage `json:"msg_data,omitempty"`
}

type wsResponse struct {
	Kind    string `json:"kind"`
	ReqID   int    `json:"req_id"`
	Msg     string `json:"msg"`
	Code    int    `json:"code"`
	MsgData any    `json:"msg_data,omitempty"`
}

type wsEvent struct {
	Kind    string `json:"kind"`
	Msg     string `json:"msg"`
	Cat     string `json:"cat,omitempty"`
	MsgData any    `json:"msg_data,omitempty"`
}

type entityDef struct {
	EntityID    string            `json:"entity_id"`
	EntityType  string            `json:"entity_type"`
	DeviceClass string            `json:"device_class,omitempty"`
	Name        map[string]string `json:"name"`
	Features    []Feature         `json:"features"`
}

type wsConn struct {
	sock    *websocket.Conn
	writeMu sync.Mutex

	// authed is read by broadcasts while the read loop authenticates.
	mu     sync.Mutex
	authed bool
}

func (c *wsConn) isAuthed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *wsConn) setAuthed(v bool) {
	c.mu.Lock()
	c.authed = v
	c.mu.Unlock()
}

func (c *wsConn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return c.sock.WriteJSON(v)
}

func (s *Server) broadcast(event wsEvent) {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		if c.isAuthed() {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.send(event); err != nil {
			log.Printf("hub: pushing %s event: %v", event.Msg, err)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return
	}
	conn := &wsConn{sock: sock, authed: s.authToken == ""}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		sock.Close()
		if s.listener != nil {
			s.listener.HandleDisconnect(context.Background())
		}
	}()

	log.Printf("hub: remote connected from %s", r.RemoteAddr)

	if !conn.isAuthed() {
		conn.send(wsEvent{Kind: "event", Msg: "auth_required"})
	}

	sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	if conn.isAuthed() && s.listener != nil {
		go s.listener.HandleConnect(ctx)
	}

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			log.Printf("hub: remote disconnected: %v", err)
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.send(wsResponse{Kind: "resp", Msg: "result", Code: int(StatusBadRequest)})
			continue
		}
		s.dispatch(ctx, conn, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *wsConn, msg wsMessage) {
	if !conn.isAuthed() {
		if msg.Msg != "auth" {
			conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "authentication", Code: 401})
			return
		}
		var data struct {
			Token string `json:"token"`
		}
		json.Unmarshal(msg.MsgData, &data)
		if subtle.ConstantTimeCompare([]byte(data.Token), []byte(s.authToken)) != 1 {
			conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "authentication", Code: 401})
			return
		}
		conn.setAuthed(true)
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "authentication", Code: 200})
		if s.listener != nil {
			go s.listener.HandleConnect(ctx)
		}
		return
	}

	switch msg.Msg {
	case "auth":
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "authentication", Code: 200})

	case "get_driver_version":
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "driver_version", Code: 200, MsgData: map[string]any{
			"name":    s.driverID,
			"version": map[string]string{"driver": s.driverVersion},
		}})

	case "get_device_state":
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "device_state", Code: 200, MsgData: map[string]any{
			"state": s.DeviceState(),
		}})

	case "get_available_entities":
		s.mu.Lock()
		defs := make([]entityDef, 0, len(s.order))
		for _, id := range s.order {
			e := s.available[id]
			defs = append(defs, entityDef{
				EntityID:    e.ID(),
				EntityType:  "media_player",
				DeviceClass: "streaming_box",
				Name:        map[string]string{"en": e.Name()},
				Features:    e.Features(),
			})
		}
		s.mu.Unlock()
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "available_entities", Code: 200, MsgData: map[string]any{
			"available_entities": defs,
		}})

	case "subscribe_events":
		ids := parseEntityIDs(msg.MsgData)
		s.mu.Lock()
		for _, id := range ids {
			if _, ok := s.available[id]; ok {
				s.configured[id] = true
			}
		}
		s.mu.Unlock()
		if s.listener != nil {
			s.listener.HandleSubscribe(ctx, ids)
		}
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: 200})

	case "unsubscribe_events":
		ids := parseEntityIDs(msg.MsgData)
		s.mu.Lock()
		for _, id := range ids {
			delete(s.configured, id)
		}
		s.mu.Unlock()
		if s.listener != nil {
			s.listener.HandleUnsubscribe(ctx, ids)
		}
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: 200})

	case "get_entity_states":
		s.mu.Lock()
		states := make([]map[string]any, 0, len(s.configured))
		for _, id := range s.order {
			if !s.configured[id] {
				continue
			}
			states = append(states, map[string]any{
				"entity_id":   id,
				"entity_type": "media_player",
				"attributes":  s.available[id].Attributes(),
			})
		}
		s.mu.Unlock()
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "entity_states", Code: 200, MsgData: states})

	case "entity_command":
		var data struct {
			EntityID string         `json:"entity_id"`
			CmdID    string         `json:"cmd_id"`
			Params   map[string]any `json:"params"`
		}
		if err := json.Unmarshal(msg.MsgData, &data); err != nil {
			conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: int(StatusBadRequest)})
			return
		}
		entity, ok := s.AvailableEntity(data.EntityID)
		if !ok {
			conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: int(StatusNotFound)})
			return
		}
		// Commands settle and refresh before returning; keep the read
		// loop free while they do.
		go func() {
			code := entity.HandleCommand(ctx, Command(data.CmdID), data.Params)
			conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: int(code)})
		}()

	case "setup_driver":
		var data struct {
			SetupData map[string]string `json:"setup_data"`
		}
		json.Unmarshal(msg.MsgData, &data)
		go func() {
			result := SetupResult{Reason: SetupErrorOther}
			if s.listener != nil {
				result = s.listener.HandleSetup(ctx, data.SetupData)
			}
			if result.Complete {
				conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: 200})
				conn.send(wsEvent{Kind: "event", Msg: "driver_setup_change", Cat: "DEVICE", MsgData: map[string]any{
					"event_type": "STOP",
					"state":      "OK",
				}})
				return
			}
			conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: int(StatusBadRequest)})
			conn.send(wsEvent{Kind: "event", Msg: "driver_setup_change", Cat: "DEVICE", MsgData: map[string]any{
				"event_type": "STOP",
				"state":      "ERROR",
				"error":      result.Reason,
			}})
		}()

	default:
		conn.send(wsResponse{Kind: "resp", ReqID: msg.ID, Msg: "result", Code: int(StatusBadRequest)})
	}
}

func parseEntityIDs(raw json.RawMessage) []string {
	var data struct {
		EntityIDs []string `json:"entity_ids"`
	}
	json.Unmarshal(raw, &data)
	return data.EntityIDs
}
