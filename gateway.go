package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"

	"mcpttd/callmachine"
	"mcpttd/callmsg"
	"mcpttd/floor"
)

var errGatewayStopped = errors.New("gateway stopped")

// Gateway owns the call machines of this node and drives them from a
// single event loop fed by SIP handlers, transaction pumps, timers and
// the status API.
type Gateway struct {
	settings  *Settings
	sipServer gosip.Server
	sipClient *SIPTransport
	codec     *sipCodec

	transport callmachine.Transport
	scheduler *timerScheduler
	registry  *callmachine.Registry
	trackers  map[callmsg.CallID]*floor.Tracker
	starts    []*time.Timer

	events chan interface{}
	done   chan struct{}
}

// NewGateway creates a gateway for settings. Bind or AttachSIP must be
// called before SetupCalls.
func NewGateway(settings *Settings) *Gateway {
	g := &Gateway{
		settings: settings,
		trackers: make(map[callmsg.CallID]*floor.Tracker),
		events:   make(chan interface{}, 64),
		done:     make(chan struct{}),
	}
	g.scheduler = newTimerScheduler(g.post)
	return g
}

// Bind sets the transport the machines send through.
func (g *Gateway) Bind(t callmachine.Transport) {
	g.transport = t
	g.registry = callmachine.NewRegistry(g.settings.UserID(), t, g.scheduler, callLog)
}

// AttachSIP binds the SIP transport and registers the request handlers.
func (g *Gateway) AttachSIP(srv gosip.Server, codec *sipCodec, tr *SIPTransport) error {
	g.sipServer = srv
	g.codec = codec
	g.sipClient = tr
	g.Bind(tr)

	if err := srv.OnRequest(sip.INVITE, g.handleRequest); err != nil {
		return err
	}
	if err := srv.OnRequest(sip.BYE, g.handleRequest); err != nil {
		return err
	}
	return srv.OnRequest(sip.ACK, g.handleAck)
}

// SetupCalls registers a machine and a floor tracker per configured call.
// Planned client calls are initiated StartAfter past now.
func (g *Gateway) SetupCalls(now time.Time) error {
	for _, c := range g.settings.Calls() {
		tracker := floor.NewTracker(c.ID, callLog)
		log := callLog.WithField("call_id", c.ID)

		switch g.settings.Role() {
		case RoleServer:
			m, err := g.registry.AddServer(callmachine.ServerConfig{
				CallID:            c.ID,
				Roster:            c.Members,
				QueueingSupported: g.settings.Queueing(),
			}, tracker)
			if err != nil {
				return fmt.Errorf("call %s: %w", c.ID, err)
			}
			m.OnStateChange(func(from, to callmachine.ServerState) {
				log.Infof("server call %s -> %s", from, to)
				if to == callmachine.ServerIdle {
					tracker.EndCycle()
				}
			})
		default:
			cfg := callmachine.ClientConfig{
				CallID:          c.ID,
				Server:          c.Server,
				Priority:        g.settings.Priority(),
				ImplicitRequest: g.settings.ImplicitRequest(),
			}
			if c.StartAfter > 0 && c.Duration > 0 {
				cfg.StopTime = now.Add(c.StartAfter + c.Duration)
			}
			m, err := g.registry.AddClient(cfg, tracker)
			if err != nil {
				return fmt.Errorf("call %s: %w", c.ID, err)
			}
			m.OnStateChange(func(from, to callmachine.ClientState) {
				log.Infof("client call %s -> %s", from, to)
			})
			if c.StartAfter > 0 {
				start := time.Until(now.Add(c.StartAfter))
				g.starts = append(g.starts, time.AfterFunc(start, func() {
					g.post(callEvent{fn: m.InitiateCall, done: make(chan struct{})})
				}))
				log.Infof("call planned in %s", c.StartAfter)
			}
		}
		g.trackers[c.ID] = tracker
	}
	return nil
}

// Tracker returns the floor tracker of a call.
func (g *Gateway) Tracker(id callmsg.CallID) (*floor.Tracker, bool) {
	t, ok := g.trackers[id]
	return t, ok
}

// Deliver queues a decoded message for the event loop.
func (g *Gateway) Deliver(msg callmsg.Message) {
	g.post(inboundEvent{msg: msg})
}

func (g *Gateway) post(ev interface{}) {
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

// Do runs fn on the event loop and waits for it to finish.
func (g *Gateway) Do(ctx context.Context, fn func(*callmachine.Registry)) error {
	ev := callEvent{fn: func() { fn(g.registry) }, done: make(chan struct{})}
	select {
	case g.events <- ev:
	case <-g.done:
		return errGatewayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.done:
		return nil
	case <-g.done:
		return errGatewayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the event loop until ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	coreLog.Infof("gateway started, %d calls", len(g.trackers))
	defer g.shutdown()
	for {
		select {
		case ev := <-g.events:
			g.handle(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *Gateway) shutdown() {
	for _, t := range g.starts {
		t.Stop()
	}
	g.scheduler.StopAll()
	g.registry.Stop()
	if g.sipClient != nil {
		for _, id := range g.registry.Calls() {
			g.sipClient.Close(id)
		}
	}
	close(g.done)
	coreLog.Info("gateway stopped")
}

func (g *Gateway) handle(ev interface{}) {
	switch e := ev.(type) {
	case inboundEvent:
		g.dispatch(e.msg)
	case timerEvent:
		if err := g.registry.Fire(e.timer); err != nil {
			callLog.Warnf("timer %s: %v", e.timer, err)
		}
	case callEvent:
		e.fn()
		close(e.done)
	default:
		coreLog.Warnf("unexpected gateway event: %#v", ev)
	}
}

func (g *Gateway) dispatch(msg callmsg.Message) {
	err := g.registry.Dispatch(msg)
	if err == nil {
		return
	}
	callLog.Warnf("dispatch %s: %v", msg, err)
	if msg.IsRequest() && errors.Is(err, callmachine.ErrUnknownCall) {
		g.transport.Send(msg.From, callmsg.NewResponse(msg.Method, statusNoSuchCall, msg.CallID, g.settings.UserID(), msg.From, nil))
	}
}

// statusNoSuchCall answers requests for calls this node does not know.
const statusNoSuchCall = 481

// handleRequest decodes an INVITE or BYE and queues it for the loop.
func (g *Gateway) handleRequest(req sip.Request, tx sip.ServerTransaction) {
	sipLog.Debugf("%s\n%s", sipDumpIn, req)
	msg, err := g.codec.DecodeRequest(req)
	if err != nil {
		sipLog.Warnf("undecodable %s: %v", req.Method(), err)
		if tx != nil {
			g.sipServer.RespondOnRequest(req, sip.StatusCode(400), "Bad Request", "", nil)
		}
		return
	}
	sipLog.Infof("received SIP %s for %s from %s", req.Method(), msg.CallID, msg.From)
	if tx != nil {
		g.sipClient.Track(msg, req, tx)
	}
	g.Deliver(msg)
}

// handleAck logs the ACK closing an INVITE transaction.
func (g *Gateway) handleAck(req sip.Request, tx sip.ServerTransaction) {
	if cid, ok := req.CallID(); ok {
		sipLog.Debugf("received SIP ACK: %s", cid)
	}
}
