package callmachine

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"mcpttd/callmsg"
	"mcpttd/floor"
)

// Role tells which side of a call a machine plays.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// CallStatus is a point in time view of one machine.
type CallStatus struct {
	CallID     callmsg.CallID     `json:"call_id"`
	Role       Role               `json:"role"`
	State      string             `json:"state"`
	Ongoing    bool               `json:"ongoing"`
	Originator *callmsg.MemberID  `json:"originator,omitempty"`
	Pending    []callmsg.MemberID `json:"pending,omitempty"`
	Roster     []callmsg.MemberID `json:"roster,omitempty"`
}

// Registry owns the machines of one endpoint and routes messages and
// timer fires to them by CallID. Like the machines it is driven from a
// single goroutine.
type Registry struct {
	self      callmsg.MemberID
	transport Transport
	scheduler Scheduler
	log       *logrus.Entry

	servers map[callmsg.CallID]*ServerMachine
	clients map[callmsg.CallID]*ClientMachine
}

// NewRegistry creates an empty registry for the endpoint self.
func NewRegistry(self callmsg.MemberID, transport Transport, scheduler Scheduler, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		self:      self,
		transport: transport,
		scheduler: scheduler,
		log:       log,
		servers:   make(map[callmsg.CallID]*ServerMachine),
		clients:   make(map[callmsg.CallID]*ClientMachine),
	}
}

func (r *Registry) Self() callmsg.MemberID { return r.self }

// AddServer creates the server machine for cfg.CallID. cfg.Self is set to
// the registry endpoint.
func (r *Registry) AddServer(cfg ServerConfig, hooks floor.Hooks) (*ServerMachine, error) {
	if _, ok := r.servers[cfg.CallID]; ok {
		return nil, fmt.Errorf("%w: server %s", ErrDuplicateCall, cfg.CallID)
	}
	cfg.Self = r.self
	m, err := NewServerMachine(cfg, r.transport, hooks, r.log)
	if err != nil {
		return nil, err
	}
	r.servers[cfg.CallID] = m
	r.log.WithField("call_id", cfg.CallID).Infof("server call registered, roster %v", cfg.Roster)
	return m, nil
}

// AddClient creates the client machine for cfg.CallID. cfg.Self is set to
// the registry endpoint.
func (r *Registry) AddClient(cfg ClientConfig, hooks floor.Hooks) (*ClientMachine, error) {
	if _, ok := r.clients[cfg.CallID]; ok {
		return nil, fmt.Errorf("%w: client %s", ErrDuplicateCall, cfg.CallID)
	}
	cfg.Self = r.self
	m := NewClientMachine(cfg, r.transport, hooks, r.scheduler, r.log)
	r.clients[cfg.CallID] = m
	r.log.WithField("call_id", cfg.CallID).Infof("client call registered, server %s", cfg.Server)
	return m, nil
}

func (r *Registry) Server(id callmsg.CallID) (*ServerMachine, bool) {
	m, ok := r.servers[id]
	return m, ok
}

func (r *Registry) Client(id callmsg.CallID) (*ClientMachine, bool) {
	m, ok := r.clients[id]
	return m, ok
}

// Remove stops and forgets every machine of the call.
func (r *Registry) Remove(id callmsg.CallID) bool {
	s, hasServer := r.servers[id]
	if hasServer {
		s.Stop()
		delete(r.servers, id)
	}
	c, hasClient := r.clients[id]
	if hasClient {
		c.Stop()
		delete(r.clients, id)
	}
	return hasServer || hasClient
}

// Dispatch hands msg to the machine of its call. The server machine takes
// precedence when the endpoint runs both.
func (r *Registry) Dispatch(msg callmsg.Message) error {
	if msg.To != r.self {
		return fmt.Errorf("%w: %s", ErrWrongRecipient, msg)
	}
	if s, ok := r.servers[msg.CallID]; ok {
		s.Receive(msg)
		return nil
	}
	if c, ok := r.clients[msg.CallID]; ok {
		c.Receive(msg)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownCall, msg.CallID)
}

// Fire runs the deferred action of an expired timer.
func (r *Registry) Fire(t Timer) error {
	c, ok := r.clients[t.CallID]
	if !ok {
		return fmt.Errorf("%w: timer %s", ErrUnknownCall, t)
	}
	if err := c.fire(t); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	return nil
}

// Calls returns the registered call ids in order.
func (r *Registry) Calls() []callmsg.CallID {
	seen := make(map[callmsg.CallID]struct{}, len(r.servers)+len(r.clients))
	for id := range r.servers {
		seen[id] = struct{}{}
	}
	for id := range r.clients {
		seen[id] = struct{}{}
	}
	ids := make([]callmsg.CallID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Status returns the views of every machine of the call.
func (r *Registry) Status(id callmsg.CallID) ([]CallStatus, bool) {
	var out []CallStatus
	if s, ok := r.servers[id]; ok {
		st := CallStatus{
			CallID:  id,
			Role:    RoleServer,
			State:   s.State().String(),
			Ongoing: s.IsCallOngoing(),
			Pending: s.Pending(),
			Roster:  append([]callmsg.MemberID(nil), s.cfg.Roster...),
		}
		if orig, ok := s.Originator(); ok {
			st.Originator = &orig
		}
		out = append(out, st)
	}
	if c, ok := r.clients[id]; ok {
		out = append(out, CallStatus{
			CallID:  id,
			Role:    RoleClient,
			State:   c.State().String(),
			Ongoing: c.IsCallOngoing(),
		})
	}
	return out, len(out) > 0
}

// Snapshot returns the status of every registered machine.
func (r *Registry) Snapshot() []CallStatus {
	var out []CallStatus
	for _, id := range r.Calls() {
		st, _ := r.Status(id)
		out = append(out, st...)
	}
	return out
}

// Stop forces every machine back to idle.
func (r *Registry) Stop() {
	for _, s := range r.servers {
		s.Stop()
	}
	for _, c := range r.clients {
		c.Stop()
	}
}
