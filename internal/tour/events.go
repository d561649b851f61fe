// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package tour

// Event is one outbound message produced by the editor. The transport
// serializes it as {"type": Type, "data": Data}. Field names inside
// the payload structs are wire-stable; existing viewer clients depend
// on them.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Event type tags.
const (
	EventSceneAdded        = "scene_added"
	EventSceneSwapped      = "scene_swapped"
	EventSceneDeleted      = "scene_deleted"
	EventConnectionAdded   = "connection_added"
	EventConnectionEdited  = "connection_edited"
	EventConnectionDeleted = "connection_deleted"
	EventCloseupAdded      = "closeup_added"
	EventTourData          = "tour_data"
	EventEditorReady       = "editor_ready"
	EventError             = "error"
	EventSuccess           = "success"
)

// SceneAdded announces a newly stored scene.
type SceneAdded struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path"`
	ID       int64  `json:"id"`
}

// SceneSwapped announces a replaced scene asset.
type SceneSwapped struct {
	SceneID     int64  `json:"scene_id"`
	NewFilePath string `json:"new_file_path"`
}

// SceneDeleted announces a removed scene. It is followed by one
// ConnectionDeleted per connection removed by the cascade.
type SceneDeleted struct {
	SceneID int64 `json:"scene_id"`
}

// ConnectionAdded announces a newly stored transition.
type ConnectionAdded struct {
	ConnectionID int64    `json:"connection_id"`
	StartSceneID int64    `json:"start_scene_id"`
	AssetID      int64    `json:"asset_id"`
	Position     Position `json:"position"`
	Name         string   `json:"name,omitempty"`
}

// ConnectionEdited announces an updated connection.
type ConnectionEdited struct {
	ConnectionID int64 `json:"connection_id"`
}

// ConnectionDeleted announces a removed connection, whether deleted
// directly or as part of a scene-deletion cascade.
type ConnectionDeleted struct {
	ConnectionID int64 `json:"connection_id"`
}

// CloseupAdded announces a newly stored closeup.
type CloseupAdded struct {
	ConnectionID  int64    `json:"connection_id"`
	ParentSceneID int64    `json:"parent_scene_id"`
	Name          string   `json:"name"`
	FilePath      string   `json:"file_path"`
	Position      Position `json:"position"`
	Icon          int      `json:"icon_index"`
}

// TourData is the full snapshot sent on the first edit of a tour per
// connection, before EditorReady.
type TourData struct {
	TourID         int64   `json:"tour_id"`
	InitialSceneID int64   `json:"initial_scene_id,omitempty"`
	Scenes         []Scene `json:"scenes"`
}

// EditorReady signals that the server has a live editing session for
// the tour and will accept editor commands.
type EditorReady struct {
	State string `json:"state"`
}

// ErrorData carries a human-readable failure message for exactly one
// rejected command.
type ErrorData struct {
	Message string `json:"message"`
}

// SuccessData acknowledges a command that has no richer event.
type SuccessData struct {
	Message string `json:"message"`
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Data: ErrorData{Message: msg}}
}

func successEvent(msg string) Event {
	return Event{Type: EventSuccess, Data: SuccessData{Message: msg}}
}
