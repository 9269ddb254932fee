// Package mcp exposes the relay's inspection surface as Model Context
// Protocol tools.
//
// The Client is a thin proxy: every tool calls the REST API and renders
// the response as text. It never touches the websocket gateway, so
// agents can watch matches but cannot play them.
//
// Tools:
//   - get_stats: waiting players, sessions, router groups and subscribers
//   - list_queue: waiting client ids, oldest first
//   - list_sessions: stored session ids
//   - get_session: decoded shared state and status of one session
//
// The server returned by GetMCPServer can be served over stdio or mounted
// on the HTTP server's /mcp endpoint.
package mcp
