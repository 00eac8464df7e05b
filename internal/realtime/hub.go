package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// rosterTopic is the pseudo-tablet subscribers watch for fleet-level changes
// (tablets provisioned, registered, deleted).
const rosterTopic = "__roster__"

// TabletStatus is a point-in-time view of a kiosk's liveness.
type TabletStatus struct {
	TabletID string    `json:"tablet_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Hub fans change signals out to SSE subscribers and tracks which kiosks are
// currently polling. Signals are level-triggered: a subscriber that misses an
// edge still refetches current state on the next one.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan struct{}]struct{}

	lastSeen     map[string]time.Time
	offlineTimer map[string]*time.Timer
	grace        time.Duration

	logger *slog.Logger
}

func NewHub(offlineGrace time.Duration, logger *slog.Logger) *Hub {
	if offlineGrace <= 0 {
		offlineGrace = 20 * time.Second
	}
	return &Hub{
		subscribers:  make(map[string]map[chan struct{}]struct{}),
		lastSeen:     make(map[string]time.Time),
		offlineTimer: make(map[string]*time.Timer),
		grace:        offlineGrace,
		logger:       logger,
	}
}

// Subscribe registers interest in one tablet's changes. The returned channel
// carries at-most-one pending signal; cancel must be called when the
// subscriber goes away.
func (h *Hub) Subscribe(tabletID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subscribers[tabletID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subscribers[tabletID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subscribers[tabletID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subscribers, tabletID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscribeRoster registers interest in fleet-level changes.
func (h *Hub) SubscribeRoster() (<-chan struct{}, func()) {
	return h.Subscribe(rosterTopic)
}

// NotifyTablet wakes everyone watching one tablet. Non-blocking; a subscriber
// with a signal already pending is left as is.
func (h *Hub) NotifyTablet(tabletID string) {
	h.notify(tabletID)
	// Roster watchers render per-tablet state too.
	h.notify(rosterTopic)
}

// NotifyRoster wakes fleet watchers only.
func (h *Hub) NotifyRoster() {
	h.notify(rosterTopic)
}

func (h *Hub) notify(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// MarkOnline records a kiosk heartbeat. The kiosk flips to offline when no
// heartbeat arrives within the grace period.
func (h *Hub) MarkOnline(tabletID string) {
	now := time.Now().UTC()
	h.mu.Lock()
	_, wasOnline := h.offlineTimer[tabletID]
	h.lastSeen[tabletID] = now
	if timer, ok := h.offlineTimer[tabletID]; ok {
		timer.Stop()
	}
	h.offlineTimer[tabletID] = time.AfterFunc(h.grace, func() { h.markOffline(tabletID) })
	h.mu.Unlock()

	if !wasOnline {
		h.NotifyRoster()
	}
}

func (h *Hub) markOffline(tabletID string) {
	h.mu.Lock()
	delete(h.offlineTimer, tabletID)
	h.mu.Unlock()
	if h.logger != nil {
		h.logger.Info("tablet went offline", "tablet_id", tabletID)
	}
	h.NotifyRoster()
}

// Online reports whether the kiosk has heartbeated within the grace period.
func (h *Hub) Online(tabletID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.offlineTimer[tabletID]
	return ok
}

// Statuses returns liveness for the given tablet IDs.
func (h *Hub) Statuses(tabletIDs []string) []TabletStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TabletStatus, 0, len(tabletIDs))
	for _, id := range tabletIDs {
		_, online := h.offlineTimer[id]
		out = append(out, TabletStatus{
			TabletID: id,
			Online:   online,
			LastSeen: h.lastSeen[id],
		})
	}
	return out
}

// Stop cancels all pending offline timers. Used on shutdown.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, timer := range h.offlineTimer {
		timer.Stop()
		delete(h.offlineTimer, id)
	}
}
