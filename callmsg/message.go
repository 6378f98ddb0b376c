package callmsg

import (
	"fmt"
	"strconv"
)

// CallID identifies one call instance for its whole lifetime.
type CallID string

func (c CallID) String() string { return string(c) }

// MemberID identifies a call participant (or the server endpoint).
type MemberID uint32

func (m MemberID) String() string { return strconv.FormatUint(uint64(m), 10) }

// ParseMemberID parses the decimal form produced by MemberID.String.
func ParseMemberID(s string) (MemberID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("member id %q: %w", s, err)
	}
	return MemberID(v), nil
}

// Class distinguishes requests from responses.
type Class uint8

const (
	ClassRequest Class = iota + 1
	ClassResponse
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassResponse:
		return "response"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Method is the transaction kind. Responses carry the method of the
// request they answer.
type Method uint8

const (
	MethodEstablish Method = iota + 1
	MethodRelease
)

func (m Method) String() string {
	switch m {
	case MethodEstablish:
		return "establish"
	case MethodRelease:
		return "release"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Response status codes consumed by the call machines.
const (
	StatusProvisional = 100
	StatusSuccess     = 200
)

// Body carries the floor parameters exchanged on establish transactions.
type Body struct {
	QueueingSupported bool
	Granted           bool
	Priority          int
	ImplicitRequest   bool
}

// Message is the decoded signalling envelope. From is the sender of this
// message and To its recipient, for requests and responses alike.
type Message struct {
	Class      Class
	Method     Method
	StatusCode int
	From       MemberID
	To         MemberID
	CallID     CallID
	Body       *Body
}

// NewRequest builds a request envelope.
func NewRequest(method Method, callID CallID, from, to MemberID, body *Body) Message {
	return Message{
		Class:  ClassRequest,
		Method: method,
		From:   from,
		To:     to,
		CallID: callID,
		Body:   body,
	}
}

// NewResponse builds a response to a transaction of the given method.
func NewResponse(method Method, status int, callID CallID, from, to MemberID, body *Body) Message {
	return Message{
		Class:      ClassResponse,
		Method:     method,
		StatusCode: status,
		From:       from,
		To:         to,
		CallID:     callID,
		Body:       body,
	}
}

func (m Message) IsRequest() bool  { return m.Class == ClassRequest }
func (m Message) IsResponse() bool { return m.Class == ClassResponse }

// IsProvisional reports a 1xx response.
func (m Message) IsProvisional() bool {
	return m.IsResponse() && m.StatusCode >= 100 && m.StatusCode < 200
}

// IsSuccess reports a 2xx response.
func (m Message) IsSuccess() bool {
	return m.IsResponse() && m.StatusCode >= 200 && m.StatusCode < 300
}

// BodyOrZero returns the body, or the zero Body when none was attached.
func (m Message) BodyOrZero() Body {
	if m.Body == nil {
		return Body{}
	}
	return *m.Body
}

func (m Message) String() string {
	if m.IsResponse() {
		return fmt.Sprintf("%d %s response call=%s from=%s to=%s", m.StatusCode, m.Method, m.CallID, m.From, m.To)
	}
	return fmt.Sprintf("%s %s call=%s from=%s to=%s", m.Method, m.Class, m.CallID, m.From, m.To)
}
