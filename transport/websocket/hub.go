package websocket

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/metrics"
)

var (
	ErrHubClosed        = errors.New("hub closed")
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSubscriberFull   = errors.New("subscriber buffer full")
)

// Subscriber receives events published to the groups it joined.
// Deliver is called from the hub goroutine and must not block.
type Subscriber interface {
	ID() string
	Deliver(ev service.Event) error
}

// HubStats is a snapshot of the hub's membership
type HubStats struct {
	Groups      int `json:"groups"`
	Subscribers int `json:"subscribers"`
}

type membership struct {
	group string
	sub   Subscriber
	done  chan struct{}
}

type publication struct {
	group     string
	event     service.Event
	delivered chan int
}

// Hub maintains named groups of subscribers and fans events out to them.
// All membership state is owned by the Run goroutine.
type Hub struct {
	// Members by group name, keyed by subscriber id
	groups map[string]map[string]Subscriber

	// Group names by subscriber id
	memberOf map[string]map[string]struct{}

	// Events to fan out
	publish chan publication

	// Join requests
	join chan membership

	// Leave requests; an empty group means every group
	leave chan membership

	// Stats requests
	stats chan chan HubStats

	// Closed when Run returns
	done chan struct{}

	log logrus.FieldLogger
}

// NewHub creates a new hub. Call Run before using it.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		groups:   make(map[string]map[string]Subscriber),
		memberOf: make(map[string]map[string]struct{}),
		publish:  make(chan publication),
		join:     make(chan membership),
		leave:    make(chan membership),
		stats:    make(chan chan HubStats),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Run starts the hub's event loop and blocks until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case m := <-h.join:
			h.addMember(m.group, m.sub)
			close(m.done)

		case m := <-h.leave:
			if m.group == "" {
				h.removeSubscriber(m.sub.ID())
			} else {
				h.removeMember(m.group, m.sub.ID())
			}
			close(m.done)

		case p := <-h.publish:
			p.delivered <- h.fanOut(p.group, p.event)

		case reply := <-h.stats:
			reply <- HubStats{Groups: len(h.groups), Subscribers: len(h.memberOf)}
		}
	}
}

func (h *Hub) request(ctx context.Context, ch chan membership, m membership) error {
	m.done = make(chan struct{})
	select {
	case ch <- m:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-m.done:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Join adds sub to group. Events published after Join returns reach sub.
func (h *Hub) Join(ctx context.Context, group string, sub Subscriber) error {
	return h.request(ctx, h.join, membership{group: group, sub: sub})
}

// Leave removes sub from group
func (h *Hub) Leave(ctx context.Context, group string, sub Subscriber) error {
	return h.request(ctx, h.leave, membership{group: group, sub: sub})
}

// LeaveAll removes sub from every group it joined
func (h *Hub) LeaveAll(ctx context.Context, sub Subscriber) error {
	return h.request(ctx, h.leave, membership{sub: sub})
}

// Publish delivers ev to every current member of group and returns how many
// accepted it. Failed deliveries are logged and dropped.
func (h *Hub) Publish(ctx context.Context, group string, ev service.Event) (int, error) {
	p := publication{group: group, event: ev, delivered: make(chan int, 1)}
	select {
	case h.publish <- p:
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-p.delivered:
		return n, nil
	case <-h.done:
		return 0, ErrHubClosed
	}
}

// Stats returns the current group and subscriber counts
func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	reply := make(chan HubStats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return HubStats{}, ErrHubClosed
	case <-ctx.Done():
		return HubStats{}, ctx.Err()
	}
	return <-reply, nil
}

// members lists a group's subscriber ids. Run goroutine only.
func (h *Hub) members(group string) []string {
	return lo.Keys(h.groups[group])
}

func (h *Hub) addMember(group string, sub Subscriber) {
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]Subscriber)
	}
	h.groups[group][sub.ID()] = sub

	if h.memberOf[sub.ID()] == nil {
		h.memberOf[sub.ID()] = make(map[string]struct{})
	}
	h.memberOf[sub.ID()][group] = struct{}{}

	h.log.WithFields(logrus.Fields{
		"group":     group,
		"client_id": sub.ID(),
		"members":   len(h.groups[group]),
	}).Debug("joined group")
}

func (h *Hub) removeMember(group, subID string) {
	if members, ok := h.groups[group]; ok {
		delete(members, subID)
		// Clean up empty groups
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if groups, ok := h.memberOf[subID]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(h.memberOf, subID)
		}
	}
}

func (h *Hub) removeSubscriber(subID string) {
	for group := range h.memberOf[subID] {
		h.removeMember(group, subID)
	}
	delete(h.memberOf, subID)
}

func (h *Hub) fanOut(group string, ev service.Event) int {
	delivered := 0
	for id, sub := range h.groups[group] {
		err := sub.Deliver(ev)
		if err == nil {
			delivered++
			continue
		}

		metrics.DeliveriesDropped.Inc()
		h.log.WithFields(logrus.Fields{
			"group":     group,
			"client_id": id,
			"event":     ev.Type,
		}).WithError(err).Debug("delivery dropped")

		if errors.Is(err, ErrSubscriberClosed) {
			h.removeSubscriber(id)
		}
	}
	return delivered
}
