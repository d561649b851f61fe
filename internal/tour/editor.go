// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package tour

import (
	"context"
	"fmt"

	"github.com/tourforge/tourforge/internal/logging"
)

// Processor applies editor commands to one tour graph with
// write-through persistence. The contract for every command is the
// same: validate the target, issue the gateway call, and only on
// success apply the equivalent in-memory mutation. A failed gateway
// call leaves the graph exactly as it was and yields a single error
// event; the graph and the store never diverge on a failed write.
//
// All methods return the events for the initiating connection and
// never an error: persistence and validation failures are recovered
// here, at the command boundary.
type Processor struct {
	graph *Graph
	gw    Gateway
}

// NewProcessor wraps a graph with its persistence gateway.
func NewProcessor(g *Graph, gw Gateway) *Processor {
	return &Processor{graph: g, gw: gw}
}

// Graph exposes the underlying graph for snapshots and tests.
func (p *Processor) Graph() *Graph { return p.graph }

// AddScene stores a new scene and appends it to the graph. The first
// scene of an empty graph becomes the tour's initial scene, and that
// pointer is persisted as well.
func (p *Processor) AddScene(ctx context.Context, name, filePath string) []Event {
	id, err := p.gw.CreateScene(ctx, p.graph.TourID, name, filePath)
	if err != nil {
		return p.persistenceError("create scene", err)
	}
	events := []Event{{Type: EventSceneAdded, Data: SceneAdded{Name: name, FilePath: filePath, ID: id}}}
	if p.graph.InsertScene(Scene{ID: id, Name: name, FilePath: filePath}) {
		if err := p.gw.SetInitialScene(ctx, p.graph.TourID, id); err != nil {
			logging.Error().Err(err).Int64("tour_id", p.graph.TourID).Int64("scene_id", id).
				Msg("failed to persist initial scene")
			events = append(events, errorEvent("failed to store initial scene"))
		}
	}
	return events
}

// SwapScene replaces only the scene's image asset reference.
func (p *Processor) SwapScene(ctx context.Context, sceneID int64, newFilePath string) []Event {
	if _, ok := p.graph.FindScene(sceneID); !ok {
		return sceneNotFound(sceneID)
	}
	patch := ScenePatch{FilePath: &newFilePath}
	if err := p.gw.UpdateScene(ctx, sceneID, patch); err != nil {
		return p.persistenceError("swap scene", err)
	}
	p.graph.SwapSceneAsset(sceneID, newFilePath)
	return []Event{{Type: EventSceneSwapped, Data: SceneSwapped{SceneID: sceneID, NewFilePath: newFilePath}}}
}

// DeleteScene removes a scene and cascades to every connection that
// references it, in both directions. One scene_deleted event is
// emitted, followed by one connection_deleted per cascaded connection
// so observers can drop dangling references. If the deleted scene was
// the initial scene, the repaired pointer is persisted too.
func (p *Processor) DeleteScene(ctx context.Context, sceneID int64) []Event {
	if _, ok := p.graph.FindScene(sceneID); !ok {
		return sceneNotFound(sceneID)
	}
	if err := p.gw.DeleteScene(ctx, sceneID); err != nil {
		return p.persistenceError("delete scene", err)
	}
	res, _ := p.graph.RemoveScene(sceneID)

	events := []Event{{Type: EventSceneDeleted, Data: SceneDeleted{SceneID: sceneID}}}
	for _, id := range res.ConnectionIDs {
		events = append(events, Event{Type: EventConnectionDeleted, Data: ConnectionDeleted{ConnectionID: id}})
	}

	if res.InitialChanged {
		var err error
		if res.NewInitialID != 0 {
			err = p.gw.SetInitialScene(ctx, p.graph.TourID, res.NewInitialID)
		} else {
			err = p.gw.ClearInitialScene(ctx, p.graph.TourID)
		}
		if err != nil {
			logging.Error().Err(err).Int64("tour_id", p.graph.TourID).
				Int64("new_initial", res.NewInitialID).Msg("failed to persist repaired initial scene")
			events = append(events, errorEvent("failed to store new initial scene"))
		}
	}
	return events
}

// UpdateSceneName sets the scene's display name.
func (p *Processor) UpdateSceneName(ctx context.Context, sceneID int64, newName string) []Event {
	if _, ok := p.graph.FindScene(sceneID); !ok {
		return sceneNotFound(sceneID)
	}
	patch := ScenePatch{Name: &newName}
	if err := p.gw.UpdateScene(ctx, sceneID, patch); err != nil {
		return p.persistenceError("rename scene", err)
	}
	p.graph.RenameScene(sceneID, newName)
	return []Event{successEvent(fmt.Sprintf("scene %d renamed", sceneID))}
}

// AddCloseup stores a detail asset and a closeup connection from the
// parent scene to it. Both writes must succeed before the graph is
// touched; if the connection write fails the graph stays unchanged.
func (p *Processor) AddCloseup(ctx context.Context, name, filePath string, parentSceneID int64, pos Position, icon int) []Event {
	if _, ok := p.graph.FindScene(parentSceneID); !ok {
		return sceneNotFound(parentSceneID)
	}
	assetID, err := p.gw.CreateAsset(ctx, p.graph.TourID, name, filePath)
	if err != nil {
		return p.persistenceError("store closeup asset", err)
	}
	conn := Connection{
		Kind:     KindCloseup,
		TargetID: assetID,
		Position: pos,
		Name:     name,
		FilePath: filePath,
		Icon:     icon,
	}
	connID, err := p.gw.CreateConnection(ctx, p.graph.TourID, parentSceneID, conn)
	if err != nil {
		return p.persistenceError("store closeup connection", err)
	}
	conn.ID = connID
	p.graph.InsertConnection(parentSceneID, conn)
	return []Event{{Type: EventCloseupAdded, Data: CloseupAdded{
		ConnectionID:  connID,
		ParentSceneID: parentSceneID,
		Name:          name,
		FilePath:      filePath,
		Position:      pos,
		Icon:          icon,
	}}}
}

// AddConnection stores a transition from the source scene. The source
// must exist in the graph; the target is taken on trust so the UI can
// create forward references while authoring.
func (p *Processor) AddConnection(ctx context.Context, startSceneID, assetID int64, pos Position, name string) []Event {
	if _, ok := p.graph.FindScene(startSceneID); !ok {
		return sceneNotFound(startSceneID)
	}
	conn := Connection{
		Kind:     KindTransition,
		TargetID: assetID,
		Position: pos,
		Name:     name,
	}
	connID, err := p.gw.CreateConnection(ctx, p.graph.TourID, startSceneID, conn)
	if err != nil {
		return p.persistenceError("create connection", err)
	}
	conn.ID = connID
	p.graph.InsertConnection(startSceneID, conn)
	return []Event{{Type: EventConnectionAdded, Data: ConnectionAdded{
		ConnectionID: connID,
		StartSceneID: startSceneID,
		AssetID:      assetID,
		Position:     pos,
		Name:         name,
	}}}
}

// EditConnection applies a partial update: only the supplied fields
// change. When the connection is a closeup and a new asset path is
// supplied, the stored asset path is updated as a secondary write; a
// failure there is reported but does not roll back the primary update.
func (p *Processor) EditConnection(ctx context.Context, connID int64, patch ConnectionPatch) []Event {
	existing, _, ok := p.graph.FindConnection(connID)
	if !ok {
		return connectionNotFound(connID)
	}
	if err := p.gw.UpdateConnection(ctx, connID, patch); err != nil {
		return p.persistenceError("update connection", err)
	}
	p.graph.MutateConnection(connID, patch)

	events := []Event{{Type: EventConnectionEdited, Data: ConnectionEdited{ConnectionID: connID}}}
	if existing.Kind == KindCloseup && patch.FilePath != nil {
		if err := p.gw.UpdateAssetPath(ctx, existing.TargetID, *patch.FilePath); err != nil {
			logging.Error().Err(err).Int64("connection_id", connID).
				Int64("asset_id", existing.TargetID).Msg("failed to update closeup asset path")
			events = append(events, errorEvent("failed to update closeup asset"))
		}
	}
	return events
}

// DeleteConnection removes a single connection.
func (p *Processor) DeleteConnection(ctx context.Context, connID int64) []Event {
	if _, _, ok := p.graph.FindConnection(connID); !ok {
		return connectionNotFound(connID)
	}
	if err := p.gw.DeleteConnection(ctx, connID); err != nil {
		return p.persistenceError("delete connection", err)
	}
	p.graph.RemoveConnection(connID)
	return []Event{{Type: EventConnectionDeleted, Data: ConnectionDeleted{ConnectionID: connID}}}
}

// SetInitialView stores the camera starting orientation for a scene.
// fov is optional.
func (p *Processor) SetInitialView(ctx context.Context, sceneID int64, pos Position, fov *float64) []Event {
	if _, ok := p.graph.FindScene(sceneID); !ok {
		return sceneNotFound(sceneID)
	}
	patch := ScenePatch{ViewX: &pos.X, ViewY: &pos.Y, FOV: fov}
	if err := p.gw.UpdateScene(ctx, sceneID, patch); err != nil {
		return p.persistenceError("set initial view", err)
	}
	p.graph.SetInitialView(sceneID, pos, fov)
	return []Event{successEvent(fmt.Sprintf("initial view set for scene %d", sceneID))}
}

// SetNorthDirection stores the compass offset for a scene.
func (p *Processor) SetNorthDirection(ctx context.Context, sceneID int64, angle float64) []Event {
	if _, ok := p.graph.FindScene(sceneID); !ok {
		return sceneNotFound(sceneID)
	}
	patch := ScenePatch{North: &angle}
	if err := p.gw.UpdateScene(ctx, sceneID, patch); err != nil {
		return p.persistenceError("set north direction", err)
	}
	p.graph.SetNorthDirection(sceneID, angle)
	return []Event{successEvent(fmt.Sprintf("north direction set for scene %d", sceneID))}
}

// SetInitialScene repoints the tour's initial scene.
func (p *Processor) SetInitialScene(ctx context.Context, sceneID int64) []Event {
	if _, ok := p.graph.FindScene(sceneID); !ok {
		return sceneNotFound(sceneID)
	}
	if err := p.gw.SetInitialScene(ctx, p.graph.TourID, sceneID); err != nil {
		return p.persistenceError("set initial scene", err)
	}
	p.graph.SetInitialScene(sceneID)
	return []Event{successEvent(fmt.Sprintf("initial scene set to %d", sceneID))}
}

// Acknowledge handles reserved placeholder commands (floorplan
// editing, address changes). They are accepted with a bare success
// event and no state change; clients built against a fuller server
// must not see an error here.
func (p *Processor) Acknowledge(action string) []Event {
	return []Event{successEvent(fmt.Sprintf("%s acknowledged", action))}
}

// Snapshot produces the full tour_data payload followed by
// editor_ready, sent on the first edit of a tour per connection.
func (p *Processor) Snapshot() []Event {
	return []Event{
		{Type: EventTourData, Data: TourData{
			TourID:         p.graph.TourID,
			InitialSceneID: p.graph.InitialSceneID(),
			Scenes:         p.graph.Scenes(),
		}},
		{Type: EventEditorReady, Data: EditorReady{State: "editing"}},
	}
}

func (p *Processor) persistenceError(op string, err error) []Event {
	logging.Error().Err(err).Int64("tour_id", p.graph.TourID).Str("op", op).
		Msg("persistence call failed")
	return []Event{errorEvent(fmt.Sprintf("failed to %s", op))}
}

func sceneNotFound(id int64) []Event {
	return []Event{errorEvent(fmt.Sprintf("scene %d not found", id))}
}

func connectionNotFound(id int64) []Event {
	return []Event{errorEvent(fmt.Sprintf("connection %d not found", id))}
}
