// Package service implements the session lifecycle of the Pong relay.
//
// The service package implements:
//   - Matchmaking: queueing a client and pairing the two oldest waiting clients
//   - Relaying update, score and chat actions to both participants
//   - Leave and disconnect handling with exactly one player_left per participant
//   - Read-only inspection used by the REST and MCP surfaces
//
// Core Types:
//
// MatchService is the interface the websocket gateway drives. Service is the
// implementation; it depends on a session.Store, a matchmaking.Queue and a
// Broadcaster, all injected.
//
// Lifecycle:
//
// A session is created active with both connected flags set. The first
// participant to leave moves it to degraded, the second to ended. Flags never
// go back to 1. The relay does not simulate anything: positions, velocities
// and scores are stored and forwarded as reported.
//
// Bindings:
//
// The service records which session each participant belongs to when the
// pair is formed, before matched is published. A bound client cannot queue
// again, and a disconnect resolves its session from the binding even when
// the connection never processed matched.
//
// Groups:
//
// Every connection owns the private group player_<client_id>. Both
// participants of a session share game_<game_id>. matched is sent to the
// private groups; everything else in a session goes to the game group.
//
// Usage:
//
//	svc := service.NewService(store, queue, hub, arena)
//
//	match, err := svc.FindMatch(ctx, clientID)
//	err = svc.Update(ctx, clientID, gameID, payload)
//	b, bound := svc.Binding(clientID)
//	err = svc.Disconnect(ctx, clientID)
package service
