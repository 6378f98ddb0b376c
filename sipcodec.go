package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"

	"mcpttd/callmsg"
)

const sdpContentType = "application/sdp"

var (
	errUnsupportedMethod = errors.New("sip: unsupported method")
	errMissingHeader     = errors.New("sip: missing header")
)

// sipCodec maps call messages onto SIP: establish is INVITE, release is
// BYE, the member ids travel as user parts of From and To, and establish
// bodies are SDP offers with an MCPTT fmtp line.
type sipCodec struct {
	self      callmsg.MemberID
	host      string
	port      int
	floorPort int
	directory *Directory
}

func newSIPCodec(self callmsg.MemberID, host string, port, floorPort int, dir *Directory) *sipCodec {
	return &sipCodec{self: self, host: host, port: port, floorPort: floorPort, directory: dir}
}

func (c *sipCodec) localURI() (sip.Uri, error) {
	return parser.ParseUri(fmt.Sprintf("sip:%s@%s:%d", c.self, c.host, c.port))
}

func (c *sipCodec) sdpBody(b *callmsg.Body) (string, error) {
	if b == nil {
		return "", nil
	}
	data, err := callmsg.MarshalSDP(*b, callmsg.SDPOptions{
		Username:  c.self.String(),
		Address:   c.host,
		FloorPort: c.floorPort,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeRequest builds the SIP request for msg with CSeq seq.
func (c *sipCodec) EncodeRequest(msg callmsg.Message, seq uint) (sip.Request, error) {
	var method sip.RequestMethod
	switch msg.Method {
	case callmsg.MethodEstablish:
		method = sip.INVITE
	case callmsg.MethodRelease:
		method = sip.BYE
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedMethod, msg.Method)
	}

	toURI, ok := c.directory.Resolve(msg.To)
	if !ok {
		return nil, fmt.Errorf("no contact for member %s", msg.To)
	}
	fromURI, err := c.localURI()
	if err != nil {
		return nil, fmt.Errorf("parse from uri: %w", err)
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{Uri: fromURI, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}
	toAddr := &sip.Address{Uri: toURI}
	contactAddr := &sip.Address{Uri: fromURI.Clone()}
	cid := sip.CallID(msg.CallID)

	rb := sip.NewRequestBuilder().
		SetMethod(method).
		SetRecipient(toURI).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr).
		SetCallID(&cid).
		SetSeqNo(seq)

	body, err := c.sdpBody(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("encode sdp: %w", err)
	}
	if body != "" {
		ctype := sip.ContentType(sdpContentType)
		rb.SetContentType(&ctype).SetBody(body)
	}

	req, err := rb.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", method, err)
	}
	return req, nil
}

// EncodeResponse answers req, the inbound request msg replies to.
func (c *sipCodec) EncodeResponse(req sip.Request, msg callmsg.Message) (sip.Response, error) {
	body, err := c.sdpBody(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("encode sdp: %w", err)
	}
	res := sip.NewResponseFromRequest("", req, sip.StatusCode(msg.StatusCode), reasonPhrase(msg.StatusCode), body)
	if body != "" {
		ctype := sip.ContentType(sdpContentType)
		res.AppendHeader(&ctype)
	}
	if !msg.IsProvisional() {
		if toHdr, ok := res.To(); ok {
			if _, tagged := toHdr.Params.Get("tag"); !tagged {
				toHdr.Params = toHdr.Params.Add("tag", sip.String{Str: util.RandString(8)})
			}
		}
	}
	return res, nil
}

// DecodeRequest extracts the call message carried by an inbound request.
func (c *sipCodec) DecodeRequest(req sip.Request) (callmsg.Message, error) {
	var method callmsg.Method
	switch req.Method() {
	case sip.INVITE:
		method = callmsg.MethodEstablish
	case sip.BYE:
		method = callmsg.MethodRelease
	default:
		return callmsg.Message{}, fmt.Errorf("%w: %s", errUnsupportedMethod, req.Method())
	}
	callID, from, to, err := envelopeOf(req)
	if err != nil {
		return callmsg.Message{}, err
	}
	msg := callmsg.NewRequest(method, callID, from, to, nil)
	if method == callmsg.MethodEstablish {
		if msg.Body, err = decodeBody(req); err != nil {
			return callmsg.Message{}, err
		}
	}
	return msg, nil
}

// DecodeResponse extracts the call message carried by a response. The
// sender of a response is the To party of the transaction.
func (c *sipCodec) DecodeResponse(res sip.Response) (callmsg.Message, error) {
	cseq, ok := res.CSeq()
	if !ok {
		return callmsg.Message{}, fmt.Errorf("%w: CSeq", errMissingHeader)
	}
	var method callmsg.Method
	switch cseq.MethodName {
	case sip.INVITE:
		method = callmsg.MethodEstablish
	case sip.BYE:
		method = callmsg.MethodRelease
	default:
		return callmsg.Message{}, fmt.Errorf("%w: %s", errUnsupportedMethod, cseq.MethodName)
	}
	callID, requester, responder, err := envelopeOf(res)
	if err != nil {
		return callmsg.Message{}, err
	}
	msg := callmsg.NewResponse(method, int(res.StatusCode()), callID, responder, requester, nil)
	if method == callmsg.MethodEstablish {
		if msg.Body, err = decodeBody(res); err != nil {
			return callmsg.Message{}, err
		}
	}
	return msg, nil
}

// envelopeOf reads Call-ID and the member ids of From and To.
func envelopeOf(m sip.Message) (callmsg.CallID, callmsg.MemberID, callmsg.MemberID, error) {
	cid, ok := m.CallID()
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: Call-ID", errMissingHeader)
	}
	fromHdr, ok := m.From()
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: From", errMissingHeader)
	}
	toHdr, ok := m.To()
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: To", errMissingHeader)
	}
	from, err := memberOf(fromHdr.Address)
	if err != nil {
		return "", 0, 0, fmt.Errorf("From: %w", err)
	}
	to, err := memberOf(toHdr.Address)
	if err != nil {
		return "", 0, 0, fmt.Errorf("To: %w", err)
	}
	return callmsg.CallID(cid.String()), from, to, nil
}

func memberOf(uri sip.Uri) (callmsg.MemberID, error) {
	if uri == nil || uri.User() == nil {
		return 0, fmt.Errorf("no user part")
	}
	return callmsg.ParseMemberID(uri.User().String())
}

// decodeBody parses an SDP body; an empty body yields nil.
func decodeBody(m sip.Message) (*callmsg.Body, error) {
	raw := m.Body()
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if ct, ok := m.ContentType(); ok && !strings.EqualFold(ct.Value(), sdpContentType) {
		return nil, fmt.Errorf("unexpected content type %q", ct.Value())
	}
	b, err := callmsg.UnmarshalSDP([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func reasonPhrase(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 200:
		return "OK"
	case 481:
		return "Call/Transaction Does Not Exist"
	default:
		return ""
	}
}
