package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpttd/callmachine"
)

func TestTimerSchedulerFires(t *testing.T) {
	fired := make(chan interface{}, 4)
	s := newTimerScheduler(func(ev interface{}) { fired <- ev })
	timer := callmachine.Timer{CallID: "grp-1", Member: 1, Kind: callmachine.TimerRelease}

	s.Schedule(timer, time.Now().Add(10*time.Millisecond))
	assert.Equal(t, 1, s.Pending())

	select {
	case ev := <-fired:
		require.IsType(t, timerEvent{}, ev)
		assert.Equal(t, timer, ev.(timerEvent).timer)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimerSchedulerCancel(t *testing.T) {
	fired := make(chan interface{}, 4)
	s := newTimerScheduler(func(ev interface{}) { fired <- ev })
	timer := callmachine.Timer{CallID: "grp-1", Member: 1, Kind: callmachine.TimerRelease}

	s.Schedule(timer, time.Now().Add(20*time.Millisecond))
	s.Cancel(timer)
	assert.Equal(t, 0, s.Pending())
	s.Cancel(timer)

	select {
	case ev := <-fired:
		t.Fatalf("canceled timer fired: %#v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTimerSchedulerReschedule(t *testing.T) {
	fired := make(chan interface{}, 4)
	s := newTimerScheduler(func(ev interface{}) { fired <- ev })
	timer := callmachine.Timer{CallID: "grp-1", Member: 1, Kind: callmachine.TimerRelease}

	s.Schedule(timer, time.Now().Add(time.Hour))
	s.Schedule(timer, time.Now().Add(10*time.Millisecond))
	assert.Equal(t, 1, s.Pending())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("rescheduled timer did not fire")
	}
	select {
	case ev := <-fired:
		t.Fatalf("timer fired twice: %#v", ev)
	case <-time.After(30 * time.Millisecond):
	}

	s.Schedule(timer, time.Now().Add(time.Hour))
	s.StopAll()
	assert.Equal(t, 0, s.Pending())
}
