package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ini "gopkg.in/ini.v1"

	"mcpttd/callmsg"
)

func loadTestSettings(t *testing.T, data string) (*Settings, error) {
	t.Helper()
	cfg, err := ini.Load([]byte(data))
	require.NoError(t, err)
	return LoadSettings(cfg)
}

func TestLoadSettingsServer(t *testing.T) {
	s, err := loadTestSettings(t, `
[node]
user_id = 100
role = server

[sip]
port = 5070
public_address = 10.0.0.5

[floor]
queueing = false

[members]
1 = sip:1@10.0.0.11:5060
2 = sip:2@10.0.0.12:5060
3 = sip:3@10.0.0.13:5060

[call.grp-b]
members = 2, 3

[call.grp-a]
members = 1,2,3
`)
	require.NoError(t, err)

	assert.Equal(t, callmsg.MemberID(100), s.UserID())
	assert.Equal(t, RoleServer, s.Role())
	assert.Equal(t, 5070, s.SIPPort())
	assert.Equal(t, 0, s.SIPPortRange())
	assert.Equal(t, "10.0.0.5", s.PublicAddress())
	assert.Equal(t, "mcpttd", s.UserAgent())
	assert.False(t, s.Queueing())
	assert.Equal(t, 1, s.Priority())
	assert.True(t, s.ImplicitRequest())
	assert.Equal(t, callmsg.DefaultFloorPort, s.FloorPort())
	assert.Equal(t, ":8080", s.StatusAddress())
	assert.Len(t, s.Members(), 3)

	calls := s.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, callmsg.CallID("grp-a"), calls[0].ID)
	assert.Equal(t, []callmsg.MemberID{1, 2, 3}, calls[0].Members)
	assert.Equal(t, []callmsg.MemberID{2, 3}, calls[1].Members)
}

func TestLoadSettingsClient(t *testing.T) {
	s, err := loadTestSettings(t, `
[node]
user_id = 1

[floor]
priority = 5

[status]
address =

[members]
100 = sip:100@10.0.0.5:5070

[call.grp-a]
server = 100
start_after = 2
duration = 30
`)
	require.NoError(t, err)

	assert.Equal(t, RoleClient, s.Role())
	assert.Equal(t, 5, s.Priority())
	assert.Empty(t, s.StatusAddress())

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, callmsg.MemberID(100), calls[0].Server)
	assert.Equal(t, 2*time.Second, calls[0].StartAfter)
	assert.Equal(t, 30*time.Second, calls[0].Duration)
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing user id", "[node]\nrole = client\n"},
		{"unknown role", "[node]\nuser_id = 1\nrole = relay\n"},
		{"bad member id", "[node]\nuser_id = 1\n[members]\nalice = sip:alice@host\n"},
		{"single member call", "[node]\nuser_id = 100\nrole = server\n[members]\n1 = sip:1@h\n[call.g]\nmembers = 1\n"},
		{"unknown member", "[node]\nuser_id = 100\nrole = server\n[members]\n1 = sip:1@h\n[call.g]\nmembers = 1,2\n"},
		{"client without server", "[node]\nuser_id = 1\n[call.g]\nstart_after = 1\n"},
		{"server not in directory", "[node]\nuser_id = 1\n[call.g]\nserver = 100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTestSettings(t, tt.data)
			assert.Error(t, err)
		})
	}
}
