// Package network - connectivity state tracking
package network

import "sync"

// Monitor reports connectivity state and announces transitions
type Monitor interface {
	/*
		Online whether the remote store is believed reachable

			@return current connectivity state
	*/
	Online() bool

	/*
		Subscribe receive connectivity transitions

		Each subscriber gets the new state on every change; the channel is
		never closed by the monitor.

			@return transition channel
	*/
	Subscribe() <-chan bool
}

// FlagMonitor a manually switched connectivity monitor
//
// The embedding application flips the flag from whatever platform signal it
// has (browser events, socket probes); this core only consumes the state.
type FlagMonitor struct {
	lock        sync.RWMutex
	online      bool
	subscribers []chan bool
}

// NewFlagMonitor define a flag monitor with an initial state
func NewFlagMonitor(online bool) *FlagMonitor {
	return &FlagMonitor{online: online}
}

// Online whether the remote store is believed reachable
func (m *FlagMonitor) Online() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.online
}

// Subscribe receive connectivity transitions
func (m *FlagMonitor) Subscribe() <-chan bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	// Buffered so a slow consumer does not block SetOnline
	newChan := make(chan bool, 4)
	m.subscribers = append(m.subscribers, newChan)
	return newChan
}

// Subscribers current number of subscription channels held by the monitor
func (m *FlagMonitor) Subscribers() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.subscribers)
}

/*
SetOnline change the connectivity state

Subscribers are only notified on actual transitions; setting the same state
twice is a no-op.

	@param online bool - the new state
*/
func (m *FlagMonitor) SetOnline(online bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, sub := range m.subscribers {
		select {
		case sub <- online:
		default:
			// Drop the notification rather than block; the subscriber will
			// observe the state on its next poll
		}
	}
}
