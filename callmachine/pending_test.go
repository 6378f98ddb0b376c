package callmachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mcpttd/callmsg"
)

func TestPendingSet(t *testing.T) {
	var p PendingSet
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Members())

	assert.True(t, p.Add(3))
	assert.True(t, p.Add(1))
	assert.False(t, p.Add(3), "ids are unique")
	assert.Equal(t, []callmsg.MemberID{3, 1}, p.Members())
	assert.True(t, p.Contains(1))

	assert.False(t, p.Remove(7), "removing an absent id is a no-op")
	assert.Equal(t, 2, p.Len())

	assert.True(t, p.Remove(3))
	assert.Equal(t, []callmsg.MemberID{1}, p.Members())

	p.Clear()
	assert.Zero(t, p.Len())
	assert.False(t, p.Contains(1))
}

func TestPendingSetMembersIsCopy(t *testing.T) {
	var p PendingSet
	p.Add(1)
	p.Add(2)

	m := p.Members()
	m[0] = 9

	assert.Equal(t, []callmsg.MemberID{1, 2}, p.Members())
}
