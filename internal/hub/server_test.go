package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeEntity struct {
	id       string
	name     string
	mu       sync.Mutex
	attrs    map[string]any
	lastCmd  Command
	lastArgs map[string]any
	cmdCode  StatusCode
}

func (f *fakeEntity) ID() string          { return f.id }
func (f *fakeEntity) Name() string        { return f.name }
func (f *fakeEntity) Features() []Feature { return []Feature{FeaturePlayPause, FeatureVolume} }

func (f *fakeEntity) Attributes() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attrs
}

func (f *fakeEntity) HandleCommand(ctx context.Context, cmd Command, params map[string]any) StatusCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCmd = cmd
	f.lastArgs = params
	return f.cmdCode
}

type fakeListener struct {
	mu           sync.Mutex
	connects     int
	disconnects  int
	subscribed   []string
	unsubscribed []string
	setupData    map[string]string
	setupResult  SetupResult
}

func (f *fakeListener) HandleConnect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeListener) HandleDisconnect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeListener) HandleSubscribe(ctx context.Context, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, ids...)
}

func (f *fakeListener) HandleUnsubscribe(ctx context.Context, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, ids...)
}

func (f *fakeListener) HandleSetup(ctx context.Context, data map[string]string) SetupResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupData = data
	return f.setupResult
}

func newTestConn(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func request(t *testing.T, conn *websocket.Conn, id int, msg string, data any) {
	t.Helper()
	payload := map[string]any{"kind": "req", "id": id, "msg": msg}
	if data != nil {
		payload["msg_data"] = data
	}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("writing %s request: %v", msg, err)
	}
}

type rawReply struct {
	Kind    string          `json:"kind"`
	ReqID   int             `json:"req_id"`
	Msg     string          `json:"msg"`
	Code    int             `json:"code"`
	Cat     string          `json:"cat"`
	MsgData json.RawMessage `json:"msg_data"`
}

// readReply skips events until it sees a response.
func readReply(t *testing.T, conn *websocket.Conn) rawReply {
	t.Helper()
	for {
		var reply rawReply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("reading reply: %v", err)
		}
		if reply.Kind == "resp" {
			return reply
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, msg string) rawReply {
	t.Helper()
	for {
		var reply rawReply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("reading %s event: %v", msg, err)
		}
		if reply.Kind == "event" && reply.Msg == msg {
			return reply
		}
	}
}

func TestDriverVersion(t *testing.T) {
	s := NewServer(WithDriverInfo("jellybridge", "2.3.4"))
	conn := newTestConn(t, s)

	request(t, conn, 1, "get_driver_version", nil)
	reply := readReply(t, conn)
	if reply.Code != 200 || reply.Msg != "driver_version" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	var data struct {
		Name    string            `json:"name"`
		Version map[string]string `json:"version"`
	}
	if err := json.Unmarshal(reply.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if data.Name != "jellybridge" || data.Version["driver"] != "2.3.4" {
		t.Errorf("unexpected version payload: %+v", data)
	}
}

func TestAuthRequired(t *testing.T) {
	s := NewServer(WithAuthToken("secret"))
	conn := newTestConn(t, s)

	readEvent(t, conn, "auth_required")

	request(t, conn, 1, "get_device_state", nil)
	if reply := readReply(t, conn); reply.Code != 401 {
		t.Fatalf("expected 401 before auth, got %d", reply.Code)
	}

	request(t, conn, 2, "auth", map[string]string{"token": "wrong"})
	if reply := readReply(t, conn); reply.Code != 401 {
		t.Fatalf("expected 401 for bad token, got %d", reply.Code)
	}

	request(t, conn, 3, "auth", map[string]string{"token": "secret"})
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("expected 200 for good token, got %d", reply.Code)
	}

	request(t, conn, 4, "get_device_state", nil)
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("expected 200 after auth, got %d", reply.Code)
	}
}

func TestBroadcastDuringAuthentication(t *testing.T) {
	s := NewServer(WithAuthToken("secret"))
	conn := newTestConn(t, s)
	readEvent(t, conn, "auth_required")

	done := make(chan struct{})
	go func() {
		defer close(done)
		states := []DeviceState{DeviceConnecting, DeviceConnected}
		for i := 0; i < 50; i++ {
			s.SetDeviceState(states[i%2])
		}
	}()

	request(t, conn, 1, "auth", map[string]string{"token": "secret"})
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("auth during broadcasts: %d", reply.Code)
	}
	<-done

	request(t, conn, 2, "get_device_state", nil)
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("expected 200 after auth, got %d", reply.Code)
	}
}

func TestAvailableEntitiesAndSubscribe(t *testing.T) {
	s := NewServer()
	listener := &fakeListener{}
	s.SetListener(listener)
	s.AddAvailableEntity(&fakeEntity{id: "srv_media_player_a", name: "Android TV (Living Room)"})
	s.AddAvailableEntity(&fakeEntity{id: "srv_media_player_b", name: "Web (Kitchen)"})

	conn := newTestConn(t, s)

	request(t, conn, 1, "get_available_entities", nil)
	reply := readReply(t, conn)
	var data struct {
		Available []entityDef `json:"available_entities"`
	}
	if err := json.Unmarshal(reply.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Available) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(data.Available))
	}
	if data.Available[0].EntityID != "srv_media_player_a" {
		t.Errorf("expected stable ordering, got %s first", data.Available[0].EntityID)
	}
	if data.Available[0].Name["en"] != "Android TV (Living Room)" {
		t.Errorf("unexpected name: %v", data.Available[0].Name)
	}

	request(t, conn, 2, "subscribe_events", map[string]any{"entity_ids": []string{"srv_media_player_a"}})
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("subscribe failed: %d", reply.Code)
	}
	if !s.IsConfigured("srv_media_player_a") {
		t.Error("entity not configured after subscribe")
	}
	if s.IsConfigured("srv_media_player_b") {
		t.Error("unsubscribed entity is configured")
	}

	request(t, conn, 3, "unsubscribe_events", map[string]any{"entity_ids": []string{"srv_media_player_a"}})
	readReply(t, conn)
	if s.IsConfigured("srv_media_player_a") {
		t.Error("entity still configured after unsubscribe")
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.subscribed) != 1 || listener.subscribed[0] != "srv_media_player_a" {
		t.Errorf("listener subscribe callback: %v", listener.subscribed)
	}
	if len(listener.unsubscribed) != 1 {
		t.Errorf("listener unsubscribe callback: %v", listener.unsubscribed)
	}
}

func TestEntityCommand(t *testing.T) {
	s := NewServer()
	entity := &fakeEntity{id: "srv_media_player_a", name: "Player", cmdCode: StatusOK}
	s.AddAvailableEntity(entity)

	conn := newTestConn(t, s)

	request(t, conn, 1, "entity_command", map[string]any{
		"entity_id": "srv_media_player_a",
		"cmd_id":    "volume",
		"params":    map[string]any{"volume": 42},
	})
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("expected 200, got %d", reply.Code)
	}
	entity.mu.Lock()
	if entity.lastCmd != CmdVolume {
		t.Errorf("expected volume command, got %s", entity.lastCmd)
	}
	if entity.lastArgs["volume"] != float64(42) {
		t.Errorf("unexpected params: %v", entity.lastArgs)
	}
	entity.mu.Unlock()

	request(t, conn, 2, "entity_command", map[string]any{
		"entity_id": "missing",
		"cmd_id":    "play_pause",
	})
	if reply := readReply(t, conn); reply.Code != int(StatusNotFound) {
		t.Fatalf("expected 404 for unknown entity, got %d", reply.Code)
	}
}

func TestEntityChangePushedOnlyWhenConfigured(t *testing.T) {
	s := NewServer()
	s.AddAvailableEntity(&fakeEntity{id: "e1", name: "Player"})

	conn := newTestConn(t, s)

	// Not configured yet: nothing should arrive.
	s.UpdateAttributes("e1", map[string]any{AttrState: StatePlaying})

	request(t, conn, 1, "subscribe_events", map[string]any{"entity_ids": []string{"e1"}})
	readReply(t, conn)

	s.UpdateAttributes("e1", map[string]any{AttrState: StatePaused})

	event := readEvent(t, conn, "entity_change")
	var data struct {
		EntityID   string         `json:"entity_id"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.Unmarshal(event.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if data.EntityID != "e1" {
		t.Errorf("unexpected entity: %s", data.EntityID)
	}
	if data.Attributes[AttrState] != string(StatePaused) {
		t.Errorf("expected the post-subscribe state, got %v", data.Attributes[AttrState])
	}
}

func TestDeviceStateBroadcast(t *testing.T) {
	s := NewServer()
	conn := newTestConn(t, s)

	request(t, conn, 1, "get_device_state", nil)
	reply := readReply(t, conn)
	var data struct {
		State DeviceState `json:"state"`
	}
	if err := json.Unmarshal(reply.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if data.State != DeviceDisconnected {
		t.Fatalf("expected initial DISCONNECTED, got %s", data.State)
	}

	s.SetDeviceState(DeviceConnected)
	event := readEvent(t, conn, "device_state")
	if err := json.Unmarshal(event.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if data.State != DeviceConnected {
		t.Errorf("expected CONNECTED broadcast, got %s", data.State)
	}
}

func TestSetupDriver(t *testing.T) {
	s := NewServer()
	listener := &fakeListener{setupResult: SetupComplete()}
	s.SetListener(listener)
	conn := newTestConn(t, s)

	request(t, conn, 1, "setup_driver", map[string]any{
		"setup_data": map[string]string{"host": "http://jf.local", "username": "u", "password": "p"},
	})
	if reply := readReply(t, conn); reply.Code != 200 {
		t.Fatalf("expected 200, got %d", reply.Code)
	}
	event := readEvent(t, conn, "driver_setup_change")
	var data struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(event.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if data.State != "OK" {
		t.Errorf("expected OK setup state, got %s", data.State)
	}
	listener.mu.Lock()
	if listener.setupData["host"] != "http://jf.local" {
		t.Errorf("setup data not delivered: %v", listener.setupData)
	}
	listener.mu.Unlock()
}

func TestSetupDriverError(t *testing.T) {
	s := NewServer()
	listener := &fakeListener{setupResult: SetupError(SetupErrorAuthorization)}
	s.SetListener(listener)
	conn := newTestConn(t, s)

	request(t, conn, 1, "setup_driver", map[string]any{
		"setup_data": map[string]string{"host": "http://jf.local"},
	})
	if reply := readReply(t, conn); reply.Code == 200 {
		t.Fatal("expected non-200 for failed setup")
	}
	event := readEvent(t, conn, "driver_setup_change")
	var data struct {
		State string           `json:"state"`
		Error SetupErrorReason `json:"error"`
	}
	if err := json.Unmarshal(event.MsgData, &data); err != nil {
		t.Fatal(err)
	}
	if data.State != "ERROR" || data.Error != SetupErrorAuthorization {
		t.Errorf("unexpected setup error payload: %+v", data)
	}
}

func TestClearAvailableEntities(t *testing.T) {
	s := NewServer()
	s.AddAvailableEntity(&fakeEntity{id: "e1", name: "Player"})
	s.mu.Lock()
	s.configured["e1"] = true
	s.mu.Unlock()

	s.ClearAvailableEntities()

	if ids := s.AvailableEntityIDs(); len(ids) != 0 {
		t.Errorf("expected empty registry, got %v", ids)
	}
	if s.IsConfigured("e1") {
		t.Error("configured set should be cleared")
	}
}
