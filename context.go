package main

import (
	"sync"
	"time"

	"mcpttd/callmachine"
	"mcpttd/callmsg"
)

// Events handled by the gateway loop. Every machine access happens on
// that loop.
type (
	// inboundEvent carries a decoded request or response.
	inboundEvent struct {
		msg callmsg.Message
	}

	// timerEvent carries an expired scheduler timer.
	timerEvent struct {
		timer callmachine.Timer
	}

	// callEvent runs fn against the machines and closes done afterwards.
	callEvent struct {
		fn   func()
		done chan struct{}
	}
)

// timerScheduler implements callmachine.Scheduler with runtime timers
// that post their expiry back to the gateway loop.
type timerScheduler struct {
	post func(interface{})

	mu     sync.Mutex
	timers map[callmachine.Timer]*time.Timer
}

func newTimerScheduler(post func(interface{})) *timerScheduler {
	return &timerScheduler{post: post, timers: make(map[callmachine.Timer]*time.Timer)}
}

// Schedule arms t to expire at at, replacing a previous arming of t.
func (s *timerScheduler) Schedule(t callmachine.Timer, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[t]; ok {
		prev.Stop()
	}
	var rt *time.Timer
	rt = time.AfterFunc(time.Until(at), func() {
		s.mu.Lock()
		current := s.timers[t] == rt
		if current {
			delete(s.timers, t)
		}
		s.mu.Unlock()
		if current {
			s.post(timerEvent{timer: t})
		}
	})
	s.timers[t] = rt
}

func (s *timerScheduler) Cancel(t callmachine.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.timers[t]; ok {
		rt.Stop()
		delete(s.timers, t)
	}
}

// Pending reports how many timers are armed.
func (s *timerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// StopAll disarms every timer.
func (s *timerScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, rt := range s.timers {
		rt.Stop()
		delete(s.timers, t)
	}
}
