// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package api

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tourforge/tourforge/internal/auth"
	"github.com/tourforge/tourforge/internal/config"
	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/session"
	"github.com/tourforge/tourforge/internal/store"
	ws "github.com/tourforge/tourforge/internal/websocket"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// frame is one decoded outbound websocket message.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// testConn wraps a dialed websocket with send/expect helpers.
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (tc *testConn) send(action string, data interface{}) {
	tc.t.Helper()
	env := map[string]interface{}{"action": action}
	if data != nil {
		env["data"] = data
	}
	if err := tc.conn.WriteJSON(env); err != nil {
		tc.t.Fatalf("write %s: %v", action, err)
	}
}

func (tc *testConn) read() frame {
	tc.t.Helper()
	if err := tc.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		tc.t.Fatal(err)
	}
	var f frame
	if err := tc.conn.ReadJSON(&f); err != nil {
		tc.t.Fatalf("read: %v", err)
	}
	return f
}

// expect reads the next frame and fails unless it has the given type.
func (tc *testConn) expect(msgType string) frame {
	tc.t.Helper()
	f := tc.read()
	if f.Type != msgType {
		tc.t.Fatalf("got %s frame %s, want %s", f.Type, f.Data, msgType)
	}
	return f
}

func (tc *testConn) decodeData(f frame, v interface{}) {
	tc.t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		tc.t.Fatalf("decode %s data: %v", f.Type, err)
	}
}

// newTestServer wires the full stack against a temp database and
// returns a helper for dialing websocket clients.
func newTestServer(t *testing.T) (*httptest.Server, func() *testConn) {
	t.Helper()
	return newAuthTestServer(t, auth.Config{
		SessionLifetime: time.Hour,
		BcryptCost:      4,
		JWTSecret:       "test-secret",
	})
}

func newAuthTestServer(t *testing.T, authCfg auth.Config) (*httptest.Server, func() *testConn) {
	t.Helper()

	db, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	authMgr := auth.NewManager(db, auth.NewMemorySessionStore(), authCfg)
	registry := session.NewRegistry(db)
	hub := ws.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(hubDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-hubDone
	})

	cfg := &config.Config{}
	cfg.Security.RateLimitReqs = 1000
	cfg.Security.RateLimitWindow = time.Second

	router := NewRouter(cfg, hub, NewCommandHandler(authMgr, registry, db))
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)

	dial := func() *testConn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", url, err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		return &testConn{t: t, conn: conn}
	}
	return srv, dial
}

func TestCommandsRequireLogin(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()

	tc.send(ActionCreateTour, map[string]string{"name": "Museum"})
	f := tc.expect("error")
	var data struct {
		Message string `json:"message"`
	}
	tc.decodeData(f, &data)
	if data.Message != "not logged in" {
		t.Errorf("message = %q", data.Message)
	}
}

func TestRegisterLoginAndRestore(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()

	tc.send(ActionRegister, map[string]string{"username": "ada", "password": "hunter2"})
	tc.expect("success")

	tc.send(ActionLogin, map[string]string{"username": "ada", "password": "wrong"})
	tc.expect("error")

	tc.send(ActionLogin, map[string]string{"username": "ada", "password": "hunter2"})
	f := tc.expect("logged_in")
	var loggedIn struct {
		Username     string `json:"username"`
		RestoreToken string `json:"restore_token"`
	}
	tc.decodeData(f, &loggedIn)
	if loggedIn.Username != "ada" || loggedIn.RestoreToken == "" {
		t.Fatalf("logged_in = %+v", loggedIn)
	}

	// A second connection resumes with the restore token.
	tc2 := dial()
	tc2.send(ActionRestoreSession, map[string]string{"token": loggedIn.RestoreToken})
	f = tc2.expect("session_restored")
	var restored struct {
		Username string `json:"username"`
	}
	tc2.decodeData(f, &restored)
	if restored.Username != "ada" {
		t.Errorf("restored username = %q", restored.Username)
	}

	// Logout invalidates the token for later restores.
	tc.send(ActionLogout, nil)
	tc.expect("success")
	tc.send(ActionRestoreSession, map[string]string{"token": loggedIn.RestoreToken})
	tc.expect("error")
}

func TestActivityExtendsDurableSession(t *testing.T) {
	_, dial := newAuthTestServer(t, auth.Config{
		SessionLifetime: time.Second,
		BcryptCost:      4,
		JWTSecret:       "test-secret",
	})
	tc := dial()

	tc.send(ActionRegister, map[string]string{"username": "ada", "password": "hunter2"})
	tc.expect("success")
	tc.send(ActionLogin, map[string]string{"username": "ada", "password": "hunter2"})
	f := tc.expect("logged_in")
	var loggedIn struct {
		RestoreToken string `json:"restore_token"`
	}
	tc.decodeData(f, &loggedIn)

	// Keep issuing commands past the original lifetime. Each command
	// slides the session expiry forward.
	for i := 0; i < 5; i++ {
		time.Sleep(300 * time.Millisecond)
		tc.send(ActionShowTours, nil)
		tc.expect("tour_list")
	}

	tc2 := dial()
	tc2.send(ActionRestoreSession, map[string]string{"token": loggedIn.RestoreToken})
	tc2.expect("session_restored")
}

// login registers (if needed) and logs the connection in.
func login(t *testing.T, tc *testConn, username string) {
	t.Helper()
	tc.send(ActionRegister, map[string]string{"username": username, "password": "hunter2"})
	tc.read() // success or "already taken" error, both fine
	tc.send(ActionLogin, map[string]string{"username": username, "password": "hunter2"})
	tc.expect("logged_in")
}

func createTour(t *testing.T, tc *testConn, name string) int64 {
	t.Helper()
	tc.send(ActionCreateTour, map[string]string{"name": name})
	f := tc.expect("tour_created")
	var created struct {
		TourID int64 `json:"tour_id"`
	}
	tc.decodeData(f, &created)
	if created.TourID == 0 {
		t.Fatal("tour_created without id")
	}
	return created.TourID
}

func TestTourAuthoringFlow(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")

	tourID := createTour(t, tc, "Museum")

	tc.send(ActionShowTours, nil)
	f := tc.expect("tour_list")
	var list struct {
		Tours []store.TourInfo `json:"tours"`
	}
	tc.decodeData(f, &list)
	if len(list.Tours) != 1 || list.Tours[0].Name != "Museum" {
		t.Fatalf("tour_list = %+v", list.Tours)
	}

	// Opening the editor sends the snapshot pair once per connection.
	tc.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	tc.expect("tour_data")
	tc.expect("editor_ready")

	tc.send(ActionAddScene, map[string]string{"name": "Lobby", "file_path": "assets/lobby.jpg"})
	f = tc.expect("scene_added")
	var added struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	tc.decodeData(f, &added)
	if added.Name != "Lobby" || added.ID == 0 {
		t.Fatalf("scene_added = %+v", added)
	}

	tc.send(ActionAddScene, map[string]string{"name": "Hall", "file_path": "assets/hall.jpg"})
	tc.expect("scene_added")

	tc.send(ActionAddCloseup, map[string]interface{}{
		"name":            "Painting",
		"file_path":       "assets/painting.jpg",
		"parent_scene_id": added.ID,
		"position":        map[string]float64{"x": 12, "y": -4},
		"icon_index":      3,
	})
	f = tc.expect("closeup_added")
	var closeup struct {
		ConnectionID int64 `json:"connection_id"`
		Icon         int   `json:"icon_index"`
	}
	tc.decodeData(f, &closeup)
	if closeup.ConnectionID == 0 || closeup.Icon != 3 {
		t.Fatalf("closeup_added = %+v", closeup)
	}

	tc.send(ActionSetInitialScene, map[string]int64{"scene_id": added.ID})
	tc.expect("success")

	tc.send(ActionDeleteScene, map[string]int64{"scene_id": added.ID})
	tc.expect("scene_deleted")
}

func TestEditTourAgainSendsReadyOnly(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")
	tourID := createTour(t, tc, "Museum")

	tc.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	tc.expect("tour_data")
	tc.expect("editor_ready")

	tc.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	f := tc.read()
	if f.Type != "editor_ready" {
		t.Fatalf("second edit_tour sent %s first", f.Type)
	}
}

func TestSnapshotReplayOnNewConnection(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")
	tourID := createTour(t, tc, "Museum")

	tc.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	tc.expect("tour_data")
	tc.expect("editor_ready")
	tc.send(ActionAddScene, map[string]string{"name": "Lobby", "file_path": "assets/lobby.jpg"})
	tc.expect("scene_added")

	// A fresh connection opening the same tour gets the scene back in
	// its snapshot.
	tc2 := dial()
	login(t, tc2, "ada")
	tc2.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	f := tc2.expect("tour_data")
	var snapshot struct {
		TourID int64 `json:"tour_id"`
		Scenes []struct {
			Name string `json:"name"`
		} `json:"scenes"`
	}
	tc2.decodeData(f, &snapshot)
	if snapshot.TourID != tourID || len(snapshot.Scenes) != 1 || snapshot.Scenes[0].Name != "Lobby" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	tc2.expect("editor_ready")
}

func TestDeleteTour(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")
	tourID := createTour(t, tc, "Museum")

	tc.send(ActionDeleteTour, map[string]int64{"tour_id": tourID})
	tc.expect("tour_deleted")

	tc.send(ActionShowTours, nil)
	f := tc.expect("tour_list")
	var list struct {
		Tours []store.TourInfo `json:"tours"`
	}
	tc.decodeData(f, &list)
	if len(list.Tours) != 0 {
		t.Fatalf("tour_list after delete = %+v", list.Tours)
	}

	tc.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	tc.expect("error")
}

func TestEditorCommandWithoutTour(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")

	tc.send(ActionAddScene, map[string]string{"name": "Lobby", "file_path": "x.jpg"})
	f := tc.expect("error")
	var data struct {
		Message string `json:"message"`
	}
	tc.decodeData(f, &data)
	if !strings.Contains(data.Message, "edit_tour") {
		t.Errorf("message = %q", data.Message)
	}
}

func TestUnknownAction(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")

	tc.send("teleport", nil)
	f := tc.expect("error")
	var data struct {
		Message string `json:"message"`
	}
	tc.decodeData(f, &data)
	if !strings.Contains(data.Message, "unknown action") {
		t.Errorf("message = %q", data.Message)
	}
}

func TestReservedActionsAcknowledged(t *testing.T) {
	_, dial := newTestServer(t)
	tc := dial()
	login(t, tc, "ada")
	tourID := createTour(t, tc, "Museum")
	tc.send(ActionEditTour, map[string]int64{"tour_id": tourID})
	tc.expect("tour_data")
	tc.expect("editor_ready")

	tc.send(ActionAddFloorplan, map[string]string{"file_path": "plan.png"})
	tc.expect("success")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %s", body)
	}
}
