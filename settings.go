package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"

	"mcpttd/callmsg"
)

// Node roles.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// CallSettings describes one prearranged group call from [call.<id>].
type CallSettings struct {
	ID callmsg.CallID
	// Members is the call roster; used by the server role.
	Members []callmsg.MemberID
	// Server is the controlling endpoint; used by the client role.
	Server callmsg.MemberID
	// StartAfter and Duration plan an originated call on the client role.
	// A zero StartAfter leaves the call to the status API.
	StartAfter time.Duration
	Duration   time.Duration
}

// Settings holds application configuration loaded from mcpttd.ini.
type Settings struct {
	userID callmsg.MemberID
	role   string

	sipPort       int
	sipPortRange  int
	publicAddress string
	userAgent     string

	queueing        bool
	priority        int
	implicitRequest bool
	floorPort       int

	statusAddress string

	members map[callmsg.MemberID]string
	calls   []CallSettings
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{members: make(map[callmsg.MemberID]string)}

	sec := cfg.Section("node")
	userID := sec.Key("user_id").MustUint(0)
	if userID == 0 {
		return nil, fmt.Errorf("node.user_id must be set")
	}
	s.userID = callmsg.MemberID(userID)
	s.role = strings.ToLower(sec.Key("role").MustString(RoleClient))
	if s.role != RoleServer && s.role != RoleClient {
		return nil, fmt.Errorf("node.role: unknown role %q", s.role)
	}

	sec = cfg.Section("sip")
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipPortRange = sec.Key("port_range").MustInt(0)
	s.publicAddress = sec.Key("public_address").String()
	s.userAgent = sec.Key("user_agent").MustString("mcpttd")

	sec = cfg.Section("floor")
	s.queueing = sec.Key("queueing").MustBool(true)
	s.priority = sec.Key("priority").MustInt(1)
	s.implicitRequest = sec.Key("implicit_request").MustBool(true)
	s.floorPort = sec.Key("port").MustInt(callmsg.DefaultFloorPort)

	// an explicitly empty address disables the status API
	s.statusAddress = ":8080"
	if sec = cfg.Section("status"); sec.HasKey("address") {
		s.statusAddress = strings.TrimSpace(sec.Key("address").String())
	}

	for _, key := range cfg.Section("members").Keys() {
		id, err := callmsg.ParseMemberID(key.Name())
		if err != nil {
			return nil, fmt.Errorf("members: %w", err)
		}
		uri := strings.TrimSpace(key.String())
		if uri == "" {
			return nil, fmt.Errorf("members.%s: empty uri", key.Name())
		}
		s.members[id] = uri
	}

	for _, csec := range cfg.ChildSections("call") {
		cs, err := s.loadCall(csec)
		if err != nil {
			return nil, err
		}
		s.calls = append(s.calls, cs)
	}
	sort.Slice(s.calls, func(i, j int) bool { return s.calls[i].ID < s.calls[j].ID })

	return s, nil
}

func (s *Settings) loadCall(sec *ini.Section) (CallSettings, error) {
	name := strings.TrimPrefix(sec.Name(), "call.")
	cs := CallSettings{ID: callmsg.CallID(name)}
	if name == "" {
		return cs, fmt.Errorf("%s: empty call id", sec.Name())
	}

	switch s.role {
	case RoleServer:
		for _, v := range sec.Key("members").Strings(",") {
			id, err := callmsg.ParseMemberID(v)
			if err != nil {
				return cs, fmt.Errorf("%s.members: %w", sec.Name(), err)
			}
			if _, ok := s.members[id]; !ok {
				return cs, fmt.Errorf("%s.members: member %s missing from [members]", sec.Name(), id)
			}
			cs.Members = append(cs.Members, id)
		}
		if len(cs.Members) < 2 {
			return cs, fmt.Errorf("%s.members: at least two members required", sec.Name())
		}
	case RoleClient:
		server := sec.Key("server").MustUint(0)
		if server == 0 {
			return cs, fmt.Errorf("%s.server must be set", sec.Name())
		}
		cs.Server = callmsg.MemberID(server)
		if _, ok := s.members[cs.Server]; !ok {
			return cs, fmt.Errorf("%s.server: %s missing from [members]", sec.Name(), cs.Server)
		}
		cs.StartAfter = time.Duration(sec.Key("start_after").MustInt(0)) * time.Second
		cs.Duration = time.Duration(sec.Key("duration").MustInt(0)) * time.Second
	}
	return cs, nil
}

func (s *Settings) UserID() callmsg.MemberID { return s.userID }
func (s *Settings) Role() string             { return s.role }

func (s *Settings) SIPPort() int          { return s.sipPort }
func (s *Settings) SIPPortRange() int     { return s.sipPortRange }
func (s *Settings) PublicAddress() string { return s.publicAddress }
func (s *Settings) UserAgent() string     { return s.userAgent }

func (s *Settings) Queueing() bool        { return s.queueing }
func (s *Settings) Priority() int         { return s.priority }
func (s *Settings) ImplicitRequest() bool { return s.implicitRequest }
func (s *Settings) FloorPort() int        { return s.floorPort }

func (s *Settings) StatusAddress() string { return s.statusAddress }

// Members returns the configured member directory.
func (s *Settings) Members() map[callmsg.MemberID]string {
	out := make(map[callmsg.MemberID]string, len(s.members))
	for id, uri := range s.members {
		out[id] = uri
	}
	return out
}

func (s *Settings) Calls() []CallSettings { return s.calls }
