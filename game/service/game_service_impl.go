package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/pongrelay/game/matchmaking"
	"github.com/wricardo/mcp-training/pongrelay/game/session"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
	"github.com/wricardo/mcp-training/pongrelay/metrics"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrAlreadyBound     = errors.New("client already bound to a session")
)

// Option configures a Service
type Option func(*Service)

// WithIDGenerator replaces the UUIDv4 session id generator
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithLogger sets the logger used for lifecycle transitions
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// Service implements MatchService on top of a Store, a Queue and a Broadcaster
type Service struct {
	store session.Store
	queue matchmaking.Queue
	bus   Broadcaster
	arena state.Arena
	newID func() string
	log   logrus.FieldLogger

	// matchMu serializes queueing, pairing and binding
	matchMu sync.Mutex

	bindMu   sync.RWMutex
	bindings map[string]Binding
}

var _ MatchService = (*Service)(nil)

// NewService creates a new lifecycle service
func NewService(store session.Store, queue matchmaking.Queue, bus Broadcaster, arena state.Arena, opts ...Option) *Service {
	s := &Service{
		store:    store,
		queue:    queue,
		bus:      bus,
		arena:    arena,
		newID:    uuid.NewString,
		log:      logrus.StandardLogger(),
		bindings: make(map[string]Binding),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(ctx context.Context, group string, ev Event) int {
	n, err := s.bus.Publish(ctx, group, ev)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"group": group,
			"event": ev.Type,
		}).WithError(err).Warn("publish failed")
	}
	return n
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}

// Binding returns the session clientID is bound to
func (s *Service) Binding(clientID string) (Binding, bool) {
	s.bindMu.RLock()
	defer s.bindMu.RUnlock()
	b, ok := s.bindings[clientID]
	return b, ok
}

func (s *Service) bind(m Match) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	s.bindings[m.Left] = Binding{GameID: m.GameID, Role: state.RoleLeft}
	s.bindings[m.Right] = Binding{GameID: m.GameID, Role: state.RoleRight}
}

// unbind clears clientID's binding if it still points at gameID
func (s *Service) unbind(clientID, gameID string) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	if b, ok := s.bindings[clientID]; ok && b.GameID == gameID {
		delete(s.bindings, clientID)
	}
}

// FindMatch queues clientID and pairs the two oldest waiting clients if possible.
// Returns nil when nobody was paired and ErrAlreadyBound when clientID is
// already in a session.
func (s *Service) FindMatch(ctx context.Context, clientID string) (*Match, error) {
	match, initial, err := s.formMatch(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		s.publish(ctx, PlayerGroup(clientID), Event{Type: EventSearching})
		return nil, nil
	}

	delivered := make(map[string]int, 2)
	for _, id := range []string{match.Left, match.Right} {
		delivered[id] = s.publish(ctx, PlayerGroup(id), Event{
			Type:   EventMatched,
			GameID: match.GameID,
			Role:   match.RoleOf(id),
			State:  initial,
		})
	}

	// A participant that went away between queueing and pairing never
	// receives matched. Treat it as having left so its partner is told.
	for _, id := range []string{match.Left, match.Right} {
		if delivered[id] > 0 {
			continue
		}
		if changed, err := s.store.MarkDisconnected(ctx, match.GameID, id); err == nil && changed {
			s.unbind(id, match.GameID)
			s.log.WithFields(logrus.Fields{"game_id": match.GameID, "client_id": id}).Warn("paired client is gone")
			s.publish(ctx, PlayerGroup(match.other(id)), Event{Type: EventPlayerLeft, ClientID: id})
		}
	}

	if clientID != match.Left && clientID != match.Right {
		s.publish(ctx, PlayerGroup(clientID), Event{Type: EventSearching})
	}

	return match, nil
}

// formMatch runs enqueue, pair, create and bind as one step. The client
// whose request completed the pair plays left; when a request pairs two
// other clients, the newer of them does.
func (s *Service) formMatch(ctx context.Context, clientID string) (*Match, map[string]string, error) {
	s.matchMu.Lock()
	defer s.matchMu.Unlock()

	if b, bound := s.Binding(clientID); bound {
		if _, err := s.store.Get(ctx, b.GameID); !errors.Is(err, session.ErrSessionNotFound) {
			return nil, nil, ErrAlreadyBound
		}
		// expired sessions release their players
		s.unbind(clientID, b.GameID)
	}

	if err := s.queue.Enqueue(ctx, clientID); err != nil {
		metrics.StoreErrors.WithLabelValues("enqueue").Inc()
		return nil, nil, fmt.Errorf("failed to queue client: %w", err)
	}

	pair, ok, err := s.queue.TryPair(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("pair").Inc()
		return nil, nil, fmt.Errorf("failed to pair clients: %w", err)
	}
	if !ok {
		return nil, nil, nil
	}

	match := &Match{
		GameID: s.newID(),
		Left:   pair.Second,
		Right:  pair.First,
	}
	if pair.Contains(clientID) {
		match.Left, match.Right = clientID, pair.Other(clientID)
	}
	initial := state.Initial(s.arena, match.Left, match.Right)

	if err := s.store.Create(ctx, match.GameID, initial); err != nil {
		metrics.StoreErrors.WithLabelValues("create").Inc()
		if rerr := s.queue.Restore(ctx, pair); rerr != nil {
			s.log.WithError(rerr).WithField("pair", pair).Error("failed to restore pair after create error")
		}
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.bind(*match)
	metrics.MatchesCreated.Inc()

	s.log.WithFields(logrus.Fields{
		"game_id": match.GameID,
		"left":    match.Left,
		"right":   match.Right,
	}).Info("match created")

	return match, initial, nil
}

// Update merges the sender's position and velocity and the ball into the
// session record, then relays the payload to both participants.
func (s *Service) Update(ctx context.Context, clientID, gameID string, payload json.RawMessage) error {
	if gameID == "" {
		return nil
	}

	var p state.UpdatePayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}

	if fields := p.Fields(clientID); len(fields) > 0 {
		if err := s.store.Merge(ctx, gameID, fields); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil
			}
			metrics.StoreErrors.WithLabelValues("merge").Inc()
			return fmt.Errorf("failed to store update: %w", err)
		}
	}

	s.publish(ctx, GameGroup(gameID), Event{
		Type:    EventUpdate,
		Payload: rawOrEmpty(payload),
		From:    clientID,
	})
	return nil
}

// Score merges whichever of left/right the payload carries and relays it
func (s *Service) Score(ctx context.Context, clientID, gameID string, payload json.RawMessage) error {
	if gameID == "" {
		return nil
	}

	var p state.ScorePayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}

	if fields := p.Fields(); len(fields) > 0 {
		if err := s.store.Merge(ctx, gameID, fields); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil
			}
			metrics.StoreErrors.WithLabelValues("merge").Inc()
			return fmt.Errorf("failed to store score: %w", err)
		}
	}

	s.publish(ctx, GameGroup(gameID), Event{
		Type:    EventScoreUpdate,
		Payload: rawOrEmpty(payload),
		From:    clientID,
	})
	return nil
}

// Chat relays a message to both participants without storing it
func (s *Service) Chat(ctx context.Context, clientID, gameID string, payload json.RawMessage) error {
	if gameID == "" {
		return nil
	}

	var p state.ChatPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	p.PlayerID = clientID

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode chat: %w", err)
	}

	s.publish(ctx, GameGroup(gameID), Event{Type: EventChat, Payload: body})
	return nil
}

// Leave marks clientID disconnected and tells the session. Only the first
// call per participant has an effect; it reports whether this call did.
func (s *Service) Leave(ctx context.Context, clientID, gameID string) (bool, error) {
	if gameID == "" {
		return false, nil
	}

	changed, err := s.store.MarkDisconnected(ctx, gameID, clientID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.unbind(clientID, gameID)
			return false, nil
		}
		metrics.StoreErrors.WithLabelValues("disconnect").Inc()
		return false, fmt.Errorf("failed to mark player disconnected: %w", err)
	}
	s.unbind(clientID, gameID)
	if !changed {
		return false, nil
	}

	s.publish(ctx, GameGroup(gameID), Event{Type: EventPlayerLeft, ClientID: clientID})

	status := state.StatusDegraded
	if fields, err := s.store.Get(ctx, gameID); err == nil {
		status = state.StatusOf(fields)
	}
	metrics.PlayersLeft.WithLabelValues(string(status)).Inc()

	s.log.WithFields(logrus.Fields{
		"game_id":   gameID,
		"client_id": clientID,
		"status":    status,
	}).Info("player left")

	return true, nil
}

// CancelSearch removes clientID from the queue if it is still waiting
func (s *Service) CancelSearch(ctx context.Context, clientID string) error {
	if _, err := s.queue.Remove(ctx, clientID); err != nil {
		metrics.StoreErrors.WithLabelValues("dequeue").Inc()
		return fmt.Errorf("failed to remove client from queue: %w", err)
	}
	return nil
}

// Disconnect drops clientID from the queue and leaves the session it is
// bound to, if any. Holding the pairing lock means the client is either
// still queued, and removed, or already bound.
func (s *Service) Disconnect(ctx context.Context, clientID string) error {
	s.matchMu.Lock()
	if err := s.CancelSearch(ctx, clientID); err != nil {
		s.log.WithError(err).WithField("client_id", clientID).Warn("disconnect")
	}
	b, bound := s.Binding(clientID)
	s.matchMu.Unlock()

	if !bound {
		return nil
	}
	if _, err := s.Leave(ctx, clientID, b.GameID); err != nil {
		return err
	}
	return nil
}

// GetSession returns the decoded record of a session
func (s *Service) GetSession(ctx context.Context, gameID string) (*SessionInfo, error) {
	fields, err := s.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	decoded := state.Decode(fields)
	return &SessionInfo{
		ID:     gameID,
		Status: decoded.Status(),
		State:  decoded,
		Fields: fields,
	}, nil
}

// ListSessions returns the ids of all stored sessions
func (s *Service) ListSessions(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// WaitingClients returns the queue, oldest first
func (s *Service) WaitingClients(ctx context.Context) ([]string, error) {
	return s.queue.List(ctx)
}

// Stats counts waiting clients and stored sessions
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	waiting, err := s.queue.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &Stats{Waiting: waiting, Sessions: len(ids)}, nil
}
