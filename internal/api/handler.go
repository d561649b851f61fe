// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package api

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/tourforge/tourforge/internal/auth"
	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/metrics"
	"github.com/tourforge/tourforge/internal/session"
	"github.com/tourforge/tourforge/internal/store"
	"github.com/tourforge/tourforge/internal/tour"
	ws "github.com/tourforge/tourforge/internal/websocket"
)

// Inbound action tags. One tag per editor command plus the
// session-lifecycle and tour-management actions.
const (
	ActionLogin          = "login"
	ActionRegister       = "register"
	ActionLogout         = "logout"
	ActionDisconnect     = "disconnect"
	ActionRestoreSession = "restore_session"

	ActionCreateTour = "create_tour"
	ActionShowTours  = "show_tours"
	ActionEditTour   = "edit_tour"
	ActionViewTour   = "view_tour"
	ActionDeleteTour = "delete_tour"

	ActionAddScene          = "add_scene"
	ActionSwapScene         = "swap_scene"
	ActionDeleteScene       = "delete_scene"
	ActionUpdateSceneName   = "update_scene_name"
	ActionAddCloseup        = "add_closeup"
	ActionAddConnection     = "add_connection"
	ActionEditConnection    = "edit_connection"
	ActionDeleteConnection  = "delete_connection"
	ActionSetInitialView    = "set_initial_view"
	ActionSetNorthDirection = "set_north_direction"
	ActionSetInitialScene   = "set_initial_scene"

	// Reserved actions. Accepted and acknowledged without any state
	// change so older clients keep working.
	ActionAddFloorplan        = "add_floorplan"
	ActionDeleteFloorplan     = "delete_floorplan"
	ActionAddFloorplanConn    = "add_floorplan_connection"
	ActionDeleteFloorplanConn = "delete_floorplan_connection"
	ActionChangeAddress       = "change_address"
)

// CommandHandler dispatches decoded websocket envelopes to the auth
// manager, the tour store and the editing-session registry. One
// instance serves every connection; per-connection state lives on the
// websocket client.
type CommandHandler struct {
	auth     *auth.Manager
	registry *session.Registry
	store    *store.DB
}

// NewCommandHandler wires the dispatcher to its collaborators.
func NewCommandHandler(authMgr *auth.Manager, registry *session.Registry, db *store.DB) *CommandHandler {
	return &CommandHandler{
		auth:     authMgr,
		registry: registry,
		store:    db,
	}
}

// Handle processes one inbound envelope. It is called from the
// client's read pump, so envelopes from one connection are handled
// strictly in arrival order.
func (h *CommandHandler) Handle(ctx context.Context, c *ws.Client, env ws.Envelope) {
	start := time.Now()
	failed := h.dispatch(ctx, c, env)
	metrics.ObserveCommand(env.Action, start, failed)
}

// Disconnected evicts every editing session for the dropped
// connection's user. The durable auth session survives so the client
// can resume with its restore token.
func (h *CommandHandler) Disconnected(c *ws.Client) {
	if username := c.Username(); username != "" {
		h.registry.Evict(username)
	}
}

// dispatch routes the envelope and reports whether it ended in an
// error event.
func (h *CommandHandler) dispatch(ctx context.Context, c *ws.Client, env ws.Envelope) bool {
	switch env.Action {
	case ActionLogin:
		return h.handleLogin(ctx, c, env.Data)
	case ActionRegister:
		return h.handleRegister(ctx, c, env.Data)
	case ActionLogout:
		return h.handleLogout(ctx, c)
	case ActionDisconnect:
		return h.handleDisconnect(ctx, c)
	case ActionRestoreSession:
		return h.handleRestoreSession(ctx, c, env.Data)
	}

	username := c.Username()
	if username == "" {
		h.sendError(c, "not logged in")
		return true
	}
	// Sliding expiry: any authenticated command keeps the durable
	// session alive.
	h.auth.Touch(ctx, c.SessionID())

	switch env.Action {
	case ActionCreateTour:
		return h.handleCreateTour(ctx, c, env.Data)
	case ActionShowTours:
		return h.handleShowTours(ctx, c)
	case ActionEditTour:
		return h.handleEditTour(ctx, c, env.Data)
	case ActionViewTour:
		return h.handleViewTour(ctx, c, env.Data)
	case ActionDeleteTour:
		return h.handleDeleteTour(ctx, c, env.Data)
	}

	return h.dispatchEditor(ctx, c, env)
}

// dispatchEditor routes editor commands into the client's active
// editing session. The snapshot pair (tour_data, editor_ready) is
// prepended on the first command of a tour per connection so a client
// that skipped edit_tour still gets the full graph first.
func (h *CommandHandler) dispatchEditor(ctx context.Context, c *ws.Client, env ws.Envelope) bool {
	run, ok := h.editorCommand(ctx, c, env)
	if !ok {
		h.sendError(c, "unknown action: "+env.Action)
		return true
	}
	if run == nil {
		// Payload failed to decode; the error event is already sent.
		return true
	}

	tourID := c.TourID()
	if tourID == 0 {
		h.sendError(c, "no tour selected, send edit_tour first")
		return true
	}

	events, err := h.registry.With(ctx, c.Username(), tourID, func(p *tour.Processor) []tour.Event {
		var evs []tour.Event
		if !c.MarkSnapshotSent(tourID) {
			evs = append(evs, p.Snapshot()...)
		}
		return append(evs, run(p)...)
	})
	if err != nil {
		h.sendError(c, "editing session unavailable: "+err.Error())
		return true
	}
	return h.sendEvents(c, events)
}

// editorCommand decodes the payload for an editor action and returns
// the closure to run under the session lock. A nil closure with ok ==
// true means the payload was malformed.
func (h *CommandHandler) editorCommand(ctx context.Context, c *ws.Client, env ws.Envelope) (func(*tour.Processor) []tour.Event, bool) {
	switch env.Action {
	case ActionAddScene:
		var req struct {
			Name     string `json:"name"`
			FilePath string `json:"file_path"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.AddScene(ctx, req.Name, req.FilePath)
		}, true

	case ActionSwapScene:
		var req struct {
			SceneID     int64  `json:"scene_id"`
			NewFilePath string `json:"new_file_path"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.SwapScene(ctx, req.SceneID, req.NewFilePath)
		}, true

	case ActionDeleteScene:
		var req struct {
			SceneID int64 `json:"scene_id"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.DeleteScene(ctx, req.SceneID)
		}, true

	case ActionUpdateSceneName:
		var req struct {
			SceneID int64  `json:"scene_id"`
			Name    string `json:"name"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.UpdateSceneName(ctx, req.SceneID, req.Name)
		}, true

	case ActionAddCloseup:
		var req struct {
			Name          string        `json:"name"`
			FilePath      string        `json:"file_path"`
			ParentSceneID int64         `json:"parent_scene_id"`
			Position      tour.Position `json:"position"`
			Icon          int           `json:"icon_index"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.AddCloseup(ctx, req.Name, req.FilePath, req.ParentSceneID, req.Position, req.Icon)
		}, true

	case ActionAddConnection:
		var req struct {
			StartSceneID int64         `json:"start_scene_id"`
			AssetID      int64         `json:"asset_id"`
			Position     tour.Position `json:"position"`
			Name         string        `json:"name"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.AddConnection(ctx, req.StartSceneID, req.AssetID, req.Position, req.Name)
		}, true

	case ActionEditConnection:
		var req struct {
			ConnectionID int64          `json:"connection_id"`
			TargetID     *int64         `json:"target_id"`
			Position     *tour.Position `json:"position"`
			Name         *string        `json:"name"`
			Icon         *int           `json:"icon_index"`
			FilePath     *string        `json:"file_path"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		patch := tour.ConnectionPatch{
			TargetID: req.TargetID,
			Position: req.Position,
			Name:     req.Name,
			Icon:     req.Icon,
			FilePath: req.FilePath,
		}
		return func(p *tour.Processor) []tour.Event {
			return p.EditConnection(ctx, req.ConnectionID, patch)
		}, true

	case ActionDeleteConnection:
		var req struct {
			ConnectionID int64 `json:"connection_id"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.DeleteConnection(ctx, req.ConnectionID)
		}, true

	case ActionSetInitialView:
		var req struct {
			SceneID  int64         `json:"scene_id"`
			Position tour.Position `json:"position"`
			FOV      *float64      `json:"fov"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.SetInitialView(ctx, req.SceneID, req.Position, req.FOV)
		}, true

	case ActionSetNorthDirection:
		var req struct {
			SceneID   int64   `json:"scene_id"`
			Direction float64 `json:"direction"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.SetNorthDirection(ctx, req.SceneID, req.Direction)
		}, true

	case ActionSetInitialScene:
		var req struct {
			SceneID int64 `json:"scene_id"`
		}
		if !h.decode(c, env, &req) {
			return nil, true
		}
		return func(p *tour.Processor) []tour.Event {
			return p.SetInitialScene(ctx, req.SceneID)
		}, true

	case ActionAddFloorplan, ActionDeleteFloorplan, ActionAddFloorplanConn,
		ActionDeleteFloorplanConn, ActionChangeAddress:
		action := env.Action
		return func(p *tour.Processor) []tour.Event {
			return p.Acknowledge(action)
		}, true
	}

	return nil, false
}

func (h *CommandHandler) handleLogin(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Username == "" {
		h.sendError(c, "malformed login data")
		return true
	}

	sess, token, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.sendError(c, "invalid username or password")
		} else {
			logging.Error().Err(err).Str("username", req.Username).Msg("login failed")
			h.sendError(c, "login failed")
		}
		return true
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	c.SetAuthenticated(sess.Username, sess.ID)
	c.Send(ws.Message{Type: "logged_in", Data: map[string]interface{}{
		"username":      sess.Username,
		"restore_token": token,
	}})
	return false
}

func (h *CommandHandler) handleRegister(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Username == "" || req.Password == "" {
		h.sendError(c, "malformed register data")
		return true
	}

	if err := h.auth.Register(ctx, req.Username, req.Password); err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "failure").Inc()
		if errors.Is(err, auth.ErrUsernameTaken) {
			h.sendError(c, "username already taken")
		} else {
			logging.Error().Err(err).Str("username", req.Username).Msg("registration failed")
			h.sendError(c, "registration failed")
		}
		return true
	}

	metrics.AuthAttempts.WithLabelValues("register", "success").Inc()
	h.sendSuccess(c, "account created")
	return false
}

func (h *CommandHandler) handleLogout(ctx context.Context, c *ws.Client) bool {
	username := c.Username()
	if username == "" {
		h.sendError(c, "not logged in")
		return true
	}

	h.registry.Evict(username)
	if err := h.auth.Logout(ctx, username); err != nil {
		logging.Error().Err(err).Str("username", username).Msg("logout failed")
	}
	c.ClearAuthenticated()
	h.sendSuccess(c, "logged out")
	return false
}

func (h *CommandHandler) handleDisconnect(_ context.Context, c *ws.Client) bool {
	h.sendSuccess(c, "goodbye")
	// Closing the connection ends the read pump, which runs the
	// Disconnected eviction path.
	c.Close()
	return false
}

func (h *CommandHandler) handleRestoreSession(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Token == "" {
		h.sendError(c, "malformed restore_session data")
		return true
	}

	sess, err := h.auth.Restore(ctx, req.Token)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("restore", "failure").Inc()
		h.sendError(c, "session restore failed")
		return true
	}

	metrics.AuthAttempts.WithLabelValues("restore", "success").Inc()
	c.SetAuthenticated(sess.Username, sess.ID)
	c.Send(ws.Message{Type: "session_restored", Data: map[string]interface{}{
		"username": sess.Username,
	}})
	return false
}

func (h *CommandHandler) handleCreateTour(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Name == "" {
		h.sendError(c, "malformed create_tour data")
		return true
	}

	tourID, err := h.store.CreateTour(ctx, c.Username(), req.Name)
	if err != nil {
		logging.Error().Err(err).Str("username", c.Username()).Msg("create tour failed")
		h.sendError(c, "could not create tour")
		return true
	}

	c.Send(ws.Message{Type: "tour_created", Data: map[string]interface{}{
		"tour_id": tourID,
		"name":    req.Name,
	}})
	return false
}

func (h *CommandHandler) handleShowTours(ctx context.Context, c *ws.Client) bool {
	tours, err := h.store.ListTours(ctx, c.Username())
	if err != nil {
		logging.Error().Err(err).Str("username", c.Username()).Msg("list tours failed")
		h.sendError(c, "could not list tours")
		return true
	}

	c.Send(ws.Message{Type: "tour_list", Data: map[string]interface{}{
		"tours": tours,
	}})
	return false
}

func (h *CommandHandler) handleEditTour(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	tourID, ok := h.decodeTourID(c, data)
	if !ok {
		return true
	}

	events, err := h.registry.With(ctx, c.Username(), tourID, func(p *tour.Processor) []tour.Event {
		if c.MarkSnapshotSent(tourID) {
			return []tour.Event{{Type: tour.EventEditorReady, Data: tour.EditorReady{State: "editing"}}}
		}
		return p.Snapshot()
	})
	if err != nil {
		h.sendError(c, "could not open tour for editing")
		return true
	}

	c.SetTour(tourID)
	return h.sendEvents(c, events)
}

func (h *CommandHandler) handleViewTour(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	tourID, ok := h.decodeTourID(c, data)
	if !ok {
		return true
	}

	events, err := h.registry.With(ctx, c.Username(), tourID, func(p *tour.Processor) []tour.Event {
		g := p.Graph()
		return []tour.Event{{Type: tour.EventTourData, Data: tour.TourData{
			TourID:         g.TourID,
			InitialSceneID: g.InitialSceneID(),
			Scenes:         g.Scenes(),
		}}}
	})
	if err != nil {
		h.sendError(c, "could not load tour")
		return true
	}
	return h.sendEvents(c, events)
}

func (h *CommandHandler) handleDeleteTour(ctx context.Context, c *ws.Client, data json.RawMessage) bool {
	tourID, ok := h.decodeTourID(c, data)
	if !ok {
		return true
	}

	if err := h.store.DeleteTour(ctx, c.Username(), tourID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, "tour not found")
		} else {
			logging.Error().Err(err).Int64("tour_id", tourID).Msg("delete tour failed")
			h.sendError(c, "could not delete tour")
		}
		return true
	}

	h.registry.Remove(c.Username(), tourID)
	if c.TourID() == tourID {
		c.SetTour(0)
	}
	c.Send(ws.Message{Type: "tour_deleted", Data: map[string]interface{}{
		"tour_id": tourID,
	}})
	return false
}

func (h *CommandHandler) decodeTourID(c *ws.Client, data json.RawMessage) (int64, bool) {
	var req struct {
		TourID int64 `json:"tour_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TourID == 0 {
		h.sendError(c, "malformed tour id")
		return 0, false
	}
	return req.TourID, true
}

// decode unmarshals an editor payload, reporting malformed data to the
// client.
func (h *CommandHandler) decode(c *ws.Client, env ws.Envelope, v interface{}) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.sendError(c, "malformed data for action "+env.Action)
		return false
	}
	return true
}

// sendEvents forwards processor events to the client and reports
// whether any was an error event.
func (h *CommandHandler) sendEvents(c *ws.Client, events []tour.Event) bool {
	failed := false
	for _, ev := range events {
		if ev.Type == tour.EventError {
			failed = true
		}
		c.Send(ws.Message{Type: ev.Type, Data: ev.Data})
	}
	return failed
}

func (h *CommandHandler) sendError(c *ws.Client, msg string) {
	c.Send(ws.Message{Type: tour.EventError, Data: tour.ErrorData{Message: msg}})
}

func (h *CommandHandler) sendSuccess(c *ws.Client, msg string) {
	c.Send(ws.Message{Type: tour.EventSuccess, Data: tour.SuccessData{Message: msg}})
}
