// Package state defines the shared match record and the wire payloads that
// mutate it.
//
// A record is a flat map of string fields:
//
//	ball_x, ball_y, ball_vx, ball_vy
//	score_left, score_right
//	player:<client_id>:x|y|vx|vy|role|connected
//
// Stores persist the flat form. Decode turns it into a SharedState for
// inspection; the relay itself never interprets positions.
package state
