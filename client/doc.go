// Package client is a Go client for the relay's websocket gateway.
//
// A Client dials the gateway, reconnects after every drop and surfaces
// each drop as a service.EventWSClosed event, so callers can treat a lost
// connection like any other message. Every reconnect yields a fresh
// server-assigned id and an unbound connection; sessions do not survive.
package client
