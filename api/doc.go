// Package api provides the HTTP inspection surface of the Pong relay.
//
// Endpoints:
//   - GET /api/health - Liveness
//   - GET /api/stats - Waiting clients, stored sessions, router groups and subscribers
//   - GET /api/queue - Waiting client ids, oldest first
//   - GET /api/sessions - Stored session ids
//   - GET /api/sessions/{id} - Decoded session state and lifecycle status
//   - GET /ws - Player websocket gateway
//   - GET /metrics - Prometheus metrics
//
// Errors are returned as JSON:
//
//	{"error": "session not found"}
//
// Usage:
//
//	apiServer := api.NewServer(svc, hub, wsHandler)
//	http.ListenAndServe(addr, apiServer)
package api
