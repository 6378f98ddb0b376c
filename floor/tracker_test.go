package floor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpttd/callmsg"
)

func TestTrackerHistory(t *testing.T) {
	tr := NewTracker("call-1", nil)

	tr.CallInitiated(1)
	tr.CallRelease1(1)
	tr.CallRelease2(1)

	assert.Equal(t, []string{HookCallInitiated, HookCallRelease1, HookCallRelease2}, tr.History(1))
	assert.Empty(t, tr.History(2))
}

func TestTrackerEstablished(t *testing.T) {
	tr := NewTracker("call-1", nil)

	tr.CallEstablished(2, callmsg.Body{QueueingSupported: true, Priority: 4, ImplicitRequest: true})

	rec, ok := tr.Record(2)
	require.True(t, ok)
	assert.False(t, rec.Originator)
	assert.Equal(t, 4, rec.Priority)
	assert.True(t, rec.ImplicitRequest)
	assert.Equal(t, "idle", rec.StateName)
}

func TestTrackerInitializedOrderIndependent(t *testing.T) {
	a := NewTracker("call-1", nil)
	a.CallInitialized(1, true)
	a.SetParticipantState(2, LinkNotPermittedTaken)
	a.CallInitialized(2, true)

	b := NewTracker("call-1", nil)
	b.CallInitialized(1, true)
	b.CallInitialized(2, true)
	b.SetParticipantState(2, LinkNotPermittedTaken)

	strip := func(recs []Record) []Record {
		for i := range recs {
			recs[i].History = nil
		}
		return recs
	}
	assert.Equal(t, strip(a.Snapshot()), strip(b.Snapshot()))

	r1, _ := a.Record(1)
	r2, _ := a.Record(2)
	assert.True(t, r1.Originator)
	assert.False(t, r2.Originator)
	assert.True(t, r2.Initialized)
}

func TestTrackerReleaseResetsCycle(t *testing.T) {
	tr := NewTracker("call-1", nil)
	tr.CallInitialized(1, false)
	tr.SetParticipantState(1, LinkPermitted)
	assert.Equal(t, LinkPermitted, tr.State(1))

	tr.SetParticipantState(1, LinkReleasing)
	tr.CallRelease1(1)
	tr.CallRelease2(1)
	assert.Equal(t, LinkIdle, tr.State(1))

	rec, _ := tr.Record(1)
	assert.False(t, rec.Initialized)

	// next cycle started by another member
	tr.CallInitialized(3, false)
	rec3, _ := tr.Record(3)
	assert.True(t, rec3.Originator)
}

func TestTrackerEndCycle(t *testing.T) {
	tr := NewTracker("call-1", nil)
	tr.CallInitialized(1, true)
	tr.SetParticipantState(1, LinkReleasing)
	tr.SetParticipantState(2, LinkNotPermittedTaken)

	tr.EndCycle()

	for _, rec := range tr.Snapshot() {
		assert.False(t, rec.Initialized, "participant %s", rec.Participant)
		assert.False(t, rec.Originator, "participant %s", rec.Participant)
		assert.Equal(t, LinkIdle, rec.State, "participant %s", rec.Participant)
	}
	assert.Equal(t, []string{HookCallInitialized}, tr.History(1))

	tr.CallInitialized(3, false)
	rec, ok := tr.Record(3)
	require.True(t, ok)
	assert.True(t, rec.Originator)
}

func TestTrackerSnapshotOrdered(t *testing.T) {
	tr := NewTracker("call-1", nil)
	tr.SetParticipantState(3, LinkNotPermittedTaken)
	tr.SetParticipantState(1, LinkPermitted)
	tr.SetParticipantState(2, LinkNotPermittedTaken)

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, callmsg.MemberID(1), snap[0].Participant)
	assert.Equal(t, callmsg.MemberID(2), snap[1].Participant)
	assert.Equal(t, callmsg.MemberID(3), snap[2].Participant)
	assert.Equal(t, "permitted", snap[0].StateName)
}

func TestNopSatisfiesHooks(t *testing.T) {
	var h Hooks = Nop{}
	h.CallInitiated(1)
	h.SetParticipantState(1, LinkPermitted)
}
