package scan

import (
	"sync"

	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

// subscriberBuffer bounds how far a slow consumer may lag before updates are dropped.
const subscriberBuffer = 32

// Notifier fans scan snapshots out to subscribers.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[chan *scan.Scan]struct{}
	dropped     int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[chan *scan.Scan]struct{})}
}

// Subscribe registers a listener. The returned func unregisters it and closes the channel.
func (n *Notifier) Subscribe() (<-chan *scan.Scan, func()) {
	ch := make(chan *scan.Scan, subscriberBuffer)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch, func() {
		n.mu.Lock()
		if _, ok := n.subscribers[ch]; ok {
			delete(n.subscribers, ch)
			close(ch)
		}
		n.mu.Unlock()
	}
}

// Broadcast sends snapshot to every subscriber without blocking; full buffers drop the update.
func (n *Notifier) Broadcast(snapshot *scan.Scan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subscribers {
		select {
		case ch <- snapshot:
		default:
			n.dropped++
		}
	}
}

// Dropped returns how many updates were discarded for slow subscribers.
func (n *Notifier) Dropped() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dropped
}
