// Package websocket is the connection gateway and broadcast router of the
// Pong relay.
//
// The websocket package implements:
//   - Hub, a group pub/sub router owned by a single goroutine
//   - Handler, which upgrades requests and issues client ids
//   - Client, the per-connection read and write pumps
//
// Architecture:
//
// The Hub keeps named groups of Subscribers. Publish hands an event to every
// member without blocking; a member whose buffer is full or that has gone
// away is skipped and the failure is counted, never returned to the
// publisher.
//
// Message Protocol:
//
// Inbound frames are {"action": ..., "payload": {...}} with actions
// find_game, leave_game, update, chat and score. Outbound frames are service
// events, one JSON object per frame.
//
// Connection Lifecycle:
//
// 1. Upgrade, issue a UUID, join player_<id>, send connected
// 2. find_game queues the connection; matched binds it and joins game_<id>
// 3. update, score and chat are relayed through the session's game group
// 4. leave_game or a closed socket marks the player disconnected once
//
// Usage:
//
//	hub := websocket.NewHub(log)
//	go hub.Run(ctx)
//
//	handler := websocket.NewHandler(ctx, hub, svc, websocket.HandlerConfig{}, log)
//	http.HandleFunc("/ws", handler.HandleWebSocket)
package websocket
