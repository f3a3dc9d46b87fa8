// Package session multiplexes the smartspace sessions the OS opens onto the
// target pipeline.
//
// Sessions are kept in three isolated maps selected by surface:
//   - normal: home screen and lockscreen
//   - media: the media data manager surface
//   - hub: the glanceable hub
//
// Lifecycle:
//  1. OnCreateSession adds the session to its map, then prunes
//  2. UI events resume, pause, click and dismiss
//  3. Every emission is debounced, compared with the previous one and
//     delivered in order to the Sink
//  4. OnDestroySession removes normal sessions; media and hub sessions only
//     leave through pruning
//
// Pruning keeps the newest session of every owner, where the owner is the
// part of the session id before the first ':'.
//
// Example Usage:
//
//	manager := session.NewManager(hostPackage, session.SettingsFromConfig(cfg.Session), cfg.Debug, session.Deps{
//		Source: pipeline,
//		Bridge: repository,
//		Sink:   deliver,
//	})
//	err := manager.OnCreateSession(ctx, sessionConfig, sessionID)
//	err = manager.NotifyEvent(ctx, sessionID, types.SessionEvent{Type: types.EventSurfaceShown})
package session
