package callmachine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"mcpttd/callmsg"
	"mcpttd/floor"
)

const (
	testCall   callmsg.CallID   = "grp-1"
	testServer callmsg.MemberID = 100
)

// envelope is a message in flight on the loopback network.
type envelope struct {
	to        callmsg.MemberID
	msg       callmsg.Message
	forwarded bool
}

func (e envelope) String() string {
	return fmt.Sprintf("-> %s: %s", e.to, e.msg)
}

// network queues every message sent by any endpoint and delivers them on
// demand, in any order the test chooses.
type network struct {
	t     *testing.T
	queue []envelope
	sent  []envelope
	nodes map[callmsg.MemberID]*Registry
}

func newNetwork(t *testing.T) *network {
	return &network{t: t, nodes: make(map[callmsg.MemberID]*Registry)}
}

func (n *network) Send(to callmsg.MemberID, msg callmsg.Message) {
	e := envelope{to: to, msg: msg}
	n.queue = append(n.queue, e)
	n.sent = append(n.sent, e)
}

func (n *network) Forward(to callmsg.MemberID, msg callmsg.Message) {
	e := envelope{to: to, msg: msg, forwarded: true}
	n.queue = append(n.queue, e)
	n.sent = append(n.sent, e)
}

func (n *network) deliver(i int) {
	e := n.queue[i]
	n.queue = append(n.queue[:i], n.queue[i+1:]...)
	node, ok := n.nodes[e.to]
	require.True(n.t, ok, "no node for %s", e)
	require.NoError(n.t, node.Dispatch(e.msg))
}

// deliverWhere delivers the first queued message matching match.
func (n *network) deliverWhere(match func(envelope) bool) {
	n.t.Helper()
	for i, e := range n.queue {
		if match(e) {
			n.deliver(i)
			return
		}
	}
	require.Failf(n.t, "no matching message", "queue: %v", n.queue)
}

func (n *network) flush() {
	for guard := 0; len(n.queue) > 0; guard++ {
		require.Less(n.t, guard, 1000, "network does not settle")
		n.deliver(0)
	}
}

func (n *network) count(match func(envelope) bool) int {
	c := 0
	for _, e := range n.sent {
		if match(e) {
			c++
		}
	}
	return c
}

func (n *network) queued(match func(envelope) bool) []envelope {
	var out []envelope
	for _, e := range n.queue {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func request(from, to callmsg.MemberID, method callmsg.Method) func(envelope) bool {
	return func(e envelope) bool {
		return e.msg.IsRequest() && e.msg.Method == method && e.msg.From == from && e.to == to
	}
}

func response(from, to callmsg.MemberID, method callmsg.Method) func(envelope) bool {
	return func(e envelope) bool {
		return e.msg.IsResponse() && e.msg.Method == method && e.msg.From == from && e.to == to
	}
}

// hookCall is one recorded floor hook invocation.
type hookCall struct {
	Hook        string
	Participant callmsg.MemberID
	State       floor.LinkState
}

// recorder records hook calls and feeds them to a floor.Tracker.
type recorder struct {
	*floor.Tracker
	calls []hookCall
}

func newRecorder() *recorder {
	return &recorder{Tracker: floor.NewTracker(testCall, nullLogger())}
}

func (r *recorder) CallInitiated(p callmsg.MemberID) {
	r.calls = append(r.calls, hookCall{Hook: floor.HookCallInitiated, Participant: p})
	r.Tracker.CallInitiated(p)
}

func (r *recorder) CallEstablished(p callmsg.MemberID, b callmsg.Body) {
	r.calls = append(r.calls, hookCall{Hook: floor.HookCallEstablished, Participant: p})
	r.Tracker.CallEstablished(p, b)
}

func (r *recorder) CallInitialized(p callmsg.MemberID, implicit bool) {
	r.calls = append(r.calls, hookCall{Hook: floor.HookCallInitialized, Participant: p})
	r.Tracker.CallInitialized(p, implicit)
}

func (r *recorder) CallRelease1(p callmsg.MemberID) {
	r.calls = append(r.calls, hookCall{Hook: floor.HookCallRelease1, Participant: p})
	r.Tracker.CallRelease1(p)
}

func (r *recorder) CallRelease2(p callmsg.MemberID) {
	r.calls = append(r.calls, hookCall{Hook: floor.HookCallRelease2, Participant: p})
	r.Tracker.CallRelease2(p)
}

func (r *recorder) SetParticipantState(p callmsg.MemberID, s floor.LinkState) {
	r.calls = append(r.calls, hookCall{Hook: "state", Participant: p, State: s})
	r.Tracker.SetParticipantState(p, s)
}

func (r *recorder) count(hook string, p callmsg.MemberID) int {
	c := 0
	for _, h := range r.calls {
		if h.Hook == hook && h.Participant == p {
			c++
		}
	}
	return c
}

// fakeScheduler keeps scheduled timers in memory.
type fakeScheduler struct {
	timers   map[Timer]time.Time
	canceled []Timer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{timers: make(map[Timer]time.Time)}
}

func (s *fakeScheduler) Schedule(t Timer, at time.Time) { s.timers[t] = at }

func (s *fakeScheduler) Cancel(t Timer) {
	delete(s.timers, t)
	s.canceled = append(s.canceled, t)
}

// group is one server and its roster of clients on a loopback network.
type group struct {
	net         *network
	sched       *fakeScheduler
	server      *ServerMachine
	serverHooks *recorder
	clients     map[callmsg.MemberID]*ClientMachine
	clientHooks map[callmsg.MemberID]*recorder
}

type groupOption func(*ClientConfig)

func withStopTime(at time.Time) groupOption {
	return func(c *ClientConfig) { c.StopTime = at }
}

func newGroup(t *testing.T, roster []callmsg.MemberID, opts ...groupOption) *group {
	t.Helper()
	g := &group{
		net:         newNetwork(t),
		sched:       newFakeScheduler(),
		serverHooks: newRecorder(),
		clients:     make(map[callmsg.MemberID]*ClientMachine),
		clientHooks: make(map[callmsg.MemberID]*recorder),
	}

	srv := NewRegistry(testServer, g.net, g.sched, nullLogger())
	m, err := srv.AddServer(ServerConfig{CallID: testCall, Roster: roster, QueueingSupported: true}, g.serverHooks)
	require.NoError(t, err)
	g.server = m
	g.net.nodes[testServer] = srv

	for _, id := range roster {
		cfg := ClientConfig{CallID: testCall, Server: testServer, Priority: 1, ImplicitRequest: true}
		for _, o := range opts {
			o(&cfg)
		}
		reg := NewRegistry(id, g.net, g.sched, nullLogger())
		g.clientHooks[id] = newRecorder()
		c, err := reg.AddClient(cfg, g.clientHooks[id])
		require.NoError(t, err)
		g.clients[id] = c
		g.net.nodes[id] = reg
	}
	return g
}

func (g *group) clientStates() map[callmsg.MemberID]ClientState {
	out := make(map[callmsg.MemberID]ClientState, len(g.clients))
	for id, c := range g.clients {
		out[id] = c.State()
	}
	return out
}

func allClients(ids []callmsg.MemberID, s ClientState) map[callmsg.MemberID]ClientState {
	out := make(map[callmsg.MemberID]ClientState, len(ids))
	for _, id := range ids {
		out[id] = s
	}
	return out
}

func nullLogger() *logrus.Entry {
	l, _ := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l)
}

// requirePanicIs runs fn and requires it to panic with an error wrapping
// target.
func requirePanicIs(t *testing.T, target error, fn func()) {
	t.Helper()
	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	require.NotNil(t, recovered, "expected panic")
	err, ok := recovered.(error)
	require.True(t, ok, "panic value %v is not an error", recovered)
	require.True(t, errors.Is(err, target), "panic %v does not wrap %v", err, target)
}
