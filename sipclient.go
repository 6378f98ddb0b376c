package main

import (
	"fmt"
	"sync"

	"github.com/ghettovoice/gosip/sip"
	"github.com/sirupsen/logrus"

	"mcpttd/callmsg"
)

// inboundKey names an open inbound transaction the local machines may
// still answer.
type inboundKey struct {
	callID callmsg.CallID
	method callmsg.Method
	peer   callmsg.MemberID
}

type inboundTx struct {
	req sip.Request
	tx  sip.ServerTransaction
}

// sipSender is the part of gosip.Server the transport uses.
type sipSender interface {
	Request(req sip.Request) (sip.ClientTransaction, error)
	Respond(res sip.Response) (sip.ServerTransaction, error)
	Send(msg sip.Message) error
}

// SIPTransport carries call messages over a gosip server. Requests open
// client transactions whose responses are decoded and handed to deliver;
// responses answer the inbound request they belong to.
type SIPTransport struct {
	srv     sipSender
	codec   *sipCodec
	log     *logrus.Entry
	deliver func(callmsg.Message)

	mu      sync.Mutex
	inbound map[inboundKey]*inboundTx
	seq     map[callmsg.CallID]uint
}

// NewSIPTransport creates a transport; deliver receives decoded
// responses from client transactions.
func NewSIPTransport(srv sipSender, codec *sipCodec, log *logrus.Entry, deliver func(callmsg.Message)) *SIPTransport {
	return &SIPTransport{
		srv:     srv,
		codec:   codec,
		log:     log,
		deliver: deliver,
		inbound: make(map[inboundKey]*inboundTx),
		seq:     make(map[callmsg.CallID]uint),
	}
}

// Track records an inbound request so a later response can answer it.
func (t *SIPTransport) Track(msg callmsg.Message, req sip.Request, tx sip.ServerTransaction) {
	key := inboundKey{callID: msg.CallID, method: msg.Method, peer: msg.From}
	t.mu.Lock()
	t.inbound[key] = &inboundTx{req: req, tx: tx}
	t.mu.Unlock()
	t.log.Debugf("tracking inbound %s", key)
}

// Send implements callmachine.Transport.
func (t *SIPTransport) Send(to callmsg.MemberID, msg callmsg.Message) {
	if msg.IsResponse() {
		t.respond(to, msg)
		return
	}
	t.request(msg)
}

// Forward implements callmachine.Transport.
func (t *SIPTransport) Forward(to callmsg.MemberID, msg callmsg.Message) {
	t.log.Debugf("forwarding %s to %s", msg.Method, to)
	t.request(msg)
}

func (t *SIPTransport) nextSeq(callID callmsg.CallID) uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq[callID]++
	return t.seq[callID]
}

func (t *SIPTransport) respond(to callmsg.MemberID, msg callmsg.Message) {
	key := inboundKey{callID: msg.CallID, method: msg.Method, peer: to}
	t.mu.Lock()
	in, ok := t.inbound[key]
	if ok && !msg.IsProvisional() {
		delete(t.inbound, key)
	}
	t.mu.Unlock()
	if !ok {
		t.log.Debugf("no open %s transaction from %s on %s, dropping %d", msg.Method, to, msg.CallID, msg.StatusCode)
		return
	}

	res, err := t.codec.EncodeResponse(in.req, msg)
	if err != nil {
		t.log.Errorf("encode response %s: %v", msg, err)
		return
	}
	t.log.Debugf("%s\n%s", sipDumpOut, res)
	if _, err := t.srv.Respond(res); err != nil {
		t.log.Warnf("send %d for %s: %v", msg.StatusCode, msg.CallID, err)
	}
}

func (t *SIPTransport) request(msg callmsg.Message) {
	req, err := t.codec.EncodeRequest(msg, t.nextSeq(msg.CallID))
	if err != nil {
		t.log.Errorf("encode request %s: %v", msg, err)
		return
	}
	t.log.Debugf("%s\n%s", sipDumpOut, req)
	tx, err := t.srv.Request(req)
	if err != nil {
		t.log.Warnf("send %s to %s: %v", req.Method(), msg.To, err)
		return
	}
	go t.pump(req, tx)
}

// pump decodes the responses of one client transaction until it ends.
func (t *SIPTransport) pump(req sip.Request, tx sip.ClientTransaction) {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return
			}
			if res == nil {
				continue
			}
			t.log.Debugf("%s\n%s", sipDumpIn, res)
			msg, err := t.codec.DecodeResponse(res)
			if err != nil {
				t.log.Warnf("decode response %d %s: %v", res.StatusCode(), res.Reason(), err)
				continue
			}
			if req.IsInvite() && res.IsSuccess() {
				t.ack(req, res)
			}
			t.deliver(msg)
			if !res.IsProvisional() {
				return
			}
		case err, ok := <-tx.Errors():
			if ok && err != nil {
				t.log.Warnf("SIP transaction error: %v", err)
			}
			return
		case <-tx.Done():
			return
		}
	}
}

// ack confirms a 2xx answer to an INVITE.
func (t *SIPTransport) ack(inv sip.Request, res sip.Response) {
	cid, _ := inv.CallID()
	cseq, _ := inv.CSeq()
	fromHdr, _ := inv.From()
	toHdr, _ := res.To()
	if cid == nil || cseq == nil || fromHdr == nil || toHdr == nil {
		return
	}
	ack, err := sip.NewRequestBuilder().
		SetMethod(sip.ACK).
		SetRecipient(inv.Recipient()).
		SetFrom(sip.NewAddressFromFromHeader(fromHdr)).
		SetTo(sip.NewAddressFromToHeader(toHdr)).
		SetCallID(cid).
		SetSeqNo(uint(cseq.SeqNo)).
		Build()
	if err != nil {
		t.log.Warnf("build ACK: %v", err)
		return
	}
	if err := t.srv.Send(ack); err != nil {
		t.log.Warnf("send ACK for %s: %v", cid, err)
	}
}

// Close drops every open inbound transaction of callID.
func (t *SIPTransport) Close(callID callmsg.CallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.inbound {
		if k.callID == callID {
			delete(t.inbound, k)
		}
	}
	delete(t.seq, callID)
}

func (k inboundKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.callID, k.method, k.peer)
}
