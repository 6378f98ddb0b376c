package callmachine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"mcpttd/callmsg"
	"mcpttd/floor"
)

// ServerConfig describes a prearranged group call hosted by the server.
type ServerConfig struct {
	CallID callmsg.CallID
	// Self is the server endpoint; forwarded requests and replies carry
	// it as sender.
	Self callmsg.MemberID
	// Roster lists every member of the group in forwarding order.
	Roster []callmsg.MemberID
	// QueueingSupported is echoed to the originator on success.
	QueueingSupported bool
}

// ServerMachine is the controlling server side of a prearranged group
// call.
type ServerMachine struct {
	cfg       ServerConfig
	transport Transport
	hooks     floor.Hooks
	log       *logrus.Entry

	state      ServerState
	pending    PendingSet
	originator callmsg.MemberID
	hasOrig    bool
	origBody   callmsg.Body
	// resolved is set once the final reply of the current fan-out went out.
	resolved bool

	onStateChange func(from, to ServerState)
}

// NewServerMachine validates the roster and returns a machine in the idle
// state. A nil hooks value is replaced by floor.Nop.
func NewServerMachine(cfg ServerConfig, transport Transport, hooks floor.Hooks, log *logrus.Entry) (*ServerMachine, error) {
	if len(cfg.Roster) < 2 {
		return nil, fmt.Errorf("%w: call %s needs at least two members, got %d", ErrInvalidRoster, cfg.CallID, len(cfg.Roster))
	}
	seen := make(map[callmsg.MemberID]struct{}, len(cfg.Roster))
	for _, id := range cfg.Roster {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: call %s lists member %s twice", ErrInvalidRoster, cfg.CallID, id)
		}
		seen[id] = struct{}{}
	}
	if _, clash := seen[cfg.Self]; clash {
		return nil, fmt.Errorf("%w: server id %s is also a member of call %s", ErrInvalidRoster, cfg.Self, cfg.CallID)
	}
	if hooks == nil {
		hooks = floor.Nop{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg.Roster = append([]callmsg.MemberID(nil), cfg.Roster...)
	return &ServerMachine{
		cfg:       cfg,
		transport: transport,
		hooks:     hooks,
		log: log.WithFields(logrus.Fields{
			"call_id": cfg.CallID,
			"member":  cfg.Self,
			"role":    "server",
		}),
		state: ServerIdle,
	}, nil
}

func (m *ServerMachine) CallID() callmsg.CallID { return m.cfg.CallID }
func (m *ServerMachine) Config() ServerConfig   { return m.cfg }
func (m *ServerMachine) State() ServerState     { return m.state }

// IsCallOngoing reports whether the machine is outside the idle state.
func (m *ServerMachine) IsCallOngoing() bool { return m.state != ServerIdle }

// Originator returns the member that started the current transaction.
func (m *ServerMachine) Originator() (callmsg.MemberID, bool) {
	return m.originator, m.hasOrig
}

// Pending returns the members whose reply is still awaited.
func (m *ServerMachine) Pending() []callmsg.MemberID { return m.pending.Members() }

// OnStateChange registers fn to be called after every state transition.
func (m *ServerMachine) OnStateChange(fn func(from, to ServerState)) {
	m.onStateChange = fn
}

// IsMember reports whether id belongs to the call roster.
func (m *ServerMachine) IsMember(id callmsg.MemberID) bool {
	for _, v := range m.cfg.Roster {
		if v == id {
			return true
		}
	}
	return false
}

func (m *ServerMachine) setState(s ServerState) {
	from := m.state
	if from == s {
		return
	}
	m.state = s
	if s == ServerIdle {
		if n := m.pending.Len(); n > 0 {
			m.log.Debugf("abandoning %d pending replies", n)
		}
		m.pending.Clear()
		m.originator, m.hasOrig = 0, false
		m.origBody = callmsg.Body{}
	}
	m.log.Debugf("state %s -> %s", from, s)
	if m.onStateChange != nil {
		m.onStateChange(from, s)
	}
}

// Receive routes msg to the handler for its class and method. Messages
// from members outside the roster are dropped.
func (m *ServerMachine) Receive(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	if !m.IsMember(msg.From) {
		m.log.Warnf("dropping %s from non-member", msg)
		return
	}
	switch {
	case msg.IsRequest() && msg.Method == callmsg.MethodEstablish:
		m.ReceiveEstablishRequest(msg)
	case msg.IsRequest() && msg.Method == callmsg.MethodRelease:
		m.ReceiveRelease(msg)
	case msg.IsResponse() && msg.Method == callmsg.MethodEstablish:
		m.ReceiveEstablishResponse(msg)
	case msg.IsResponse() && msg.Method == callmsg.MethodRelease:
		m.ReceiveReleaseResponse(msg)
	default:
		m.log.Warnf("dropping malformed message %s", msg)
	}
}

// echoBody is the floor parameter set returned to a member whose request
// was accepted.
func (m *ServerMachine) echoBody(b callmsg.Body) *callmsg.Body {
	return &callmsg.Body{
		QueueingSupported: m.cfg.QueueingSupported,
		Granted:           b.ImplicitRequest,
		Priority:          b.Priority,
		ImplicitRequest:   b.ImplicitRequest,
	}
}

// fanOut forwards a request to every roster member other than the
// originator and records each of them as pending.
func (m *ServerMachine) fanOut(method callmsg.Method, body *callmsg.Body) {
	m.pending.Clear()
	m.resolved = false
	for _, id := range m.cfg.Roster {
		if id == m.originator {
			continue
		}
		m.pending.Add(id)
		m.log.Debugf("forwarding %s to %s", method, id)
		m.transport.Forward(id, callmsg.NewRequest(method, m.cfg.CallID, m.cfg.Self, id, body))
	}
}

func (m *ServerMachine) reply(method callmsg.Method, status int, to callmsg.MemberID, body *callmsg.Body) {
	m.transport.Send(to, callmsg.NewResponse(method, status, m.cfg.CallID, m.cfg.Self, to, body))
}

func (m *ServerMachine) removePending(id callmsg.MemberID) {
	if !m.pending.Remove(id) {
		m.log.Debugf("reply from %s not in pending set", id)
	}
}

// ReceiveEstablishRequest starts a call, answers a retransmission, or
// resolves an establish collision.
func (m *ServerMachine) ReceiveEstablishRequest(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	body := msg.BodyOrZero()
	switch m.state {
	case ServerIdle:
		if m.hasOrig {
			panic(fmt.Errorf("%w: call %s originator %s, request from %s", ErrOriginatorSet, m.cfg.CallID, m.originator, msg.From))
		}
		m.originator, m.hasOrig = msg.From, true
		m.origBody = body
		m.log.Infof("call initiated by %s", msg.From)
		m.hooks.CallInitialized(msg.From, body.ImplicitRequest)

		fwd := body
		fwd.ImplicitRequest = false
		fwd.Granted = false
		m.fanOut(callmsg.MethodEstablish, &fwd)
		m.setState(ServerInitiating)
	case ServerInitiating:
		if msg.From == m.originator {
			m.log.Debugf("retransmitted establish from %s", msg.From)
			m.reply(callmsg.MethodEstablish, callmsg.StatusProvisional, m.originator, m.echoBody(m.origBody))
			return
		}
		m.log.Infof("establish collision with %s", msg.From)
		m.removePending(msg.From)
		m.hooks.CallInitialized(msg.From, body.ImplicitRequest)
		m.reply(callmsg.MethodEstablish, callmsg.StatusSuccess, msg.From, m.echoBody(body))
	case ServerActive, ServerReleasing:
		m.log.Debugf("ignoring establish request from %s in state %s", msg.From, m.state)
	}
}

// ReceiveEstablishResponse drains the establish fan-out and answers the
// originator once every member replied.
func (m *ServerMachine) ReceiveEstablishResponse(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ServerInitiating:
		if msg.IsProvisional() {
			return
		}
		if !msg.IsSuccess() {
			m.log.Warnf("unexpected establish response %d from %s", msg.StatusCode, msg.From)
			return
		}
		m.hooks.SetParticipantState(msg.From, floor.LinkNotPermittedTaken)
		m.removePending(msg.From)
		if m.pending.Len() > 0 || m.resolved {
			return
		}
		m.resolved = true
		m.log.Infof("all members answered, call %s active", m.cfg.CallID)
		m.reply(callmsg.MethodEstablish, callmsg.StatusSuccess, m.originator, m.echoBody(m.origBody))
		m.hooks.SetParticipantState(m.originator, floor.LinkPermitted)
		m.setState(ServerActive)
	case ServerIdle, ServerActive, ServerReleasing:
		m.log.Debugf("ignoring establish response from %s in state %s", msg.From, m.state)
	}
}

// ReceiveRelease starts the release fan-out for the originator. A
// release crossing an ongoing release ends the call at once.
func (m *ServerMachine) ReceiveRelease(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ServerActive:
		if msg.From != m.originator {
			m.log.Infof("ignoring release from non-originator %s", msg.From)
			return
		}
		m.log.Infof("call released by %s", msg.From)
		m.hooks.SetParticipantState(m.originator, floor.LinkReleasing)
		m.hooks.CallRelease1(m.originator)
		m.fanOut(callmsg.MethodRelease, nil)
		m.reply(callmsg.MethodRelease, callmsg.StatusSuccess, m.originator, nil)
		m.setState(ServerReleasing)
	case ServerReleasing:
		m.log.Infof("release collision with %s, dropping %d pending", msg.From, m.pending.Len())
		m.setState(ServerIdle)
	case ServerIdle, ServerInitiating:
		m.log.Debugf("ignoring release from %s in state %s", msg.From, m.state)
	}
}

// ReceiveReleaseResponse drains the release fan-out and returns to idle
// once every member replied.
func (m *ServerMachine) ReceiveReleaseResponse(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ServerReleasing:
		if msg.IsProvisional() {
			return
		}
		m.hooks.SetParticipantState(msg.From, floor.LinkIdle)
		m.removePending(msg.From)
		if m.pending.Len() > 0 || m.resolved {
			return
		}
		m.resolved = true
		orig := m.originator
		m.log.Infof("all members released, call %s idle", m.cfg.CallID)
		m.hooks.SetParticipantState(orig, floor.LinkIdle)
		m.reply(callmsg.MethodRelease, callmsg.StatusSuccess, orig, nil)
		m.hooks.CallRelease2(orig)
		m.setState(ServerIdle)
	case ServerIdle, ServerInitiating, ServerActive:
		m.log.Debugf("ignoring release response from %s in state %s", msg.From, m.state)
	}
}

// Stop forces the machine back to idle, abandoning any pending replies.
func (m *ServerMachine) Stop() {
	m.setState(ServerIdle)
}
