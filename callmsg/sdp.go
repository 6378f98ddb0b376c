package callmsg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// DefaultFloorPort is the floor control port advertised in the media line.
const DefaultFloorPort = 49150

const (
	fmtpFormat = "MCPTT"

	paramQueueing = "mc_queueing"
	paramPriority = "mc_priority"
	paramGranted  = "mc_granted"
	paramImplicit = "mc_implicit_request"
)

var (
	ErrNoFloorMedia = errors.New("sdp: no MCPTT application media")
	ErrNoFmtp       = errors.New("sdp: missing MCPTT fmtp attribute")
)

// SDPOptions controls the session level fields written by MarshalSDP.
type SDPOptions struct {
	Username  string
	Address   string
	FloorPort int
	SessionID uint64
}

// MarshalSDP encodes b as an SDP offer with an a=fmtp:MCPTT line.
func MarshalSDP(b Body, opts SDPOptions) ([]byte, error) {
	if opts.Username == "" {
		opts.Username = "-"
	}
	if opts.Address == "" {
		opts.Address = "0.0.0.0"
	}
	if opts.FloorPort == 0 {
		opts.FloorPort = DefaultFloorPort
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       opts.Username,
			SessionID:      opts.SessionID,
			SessionVersion: opts.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: opts.Address,
		},
		SessionName: "mcptt",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "application",
					Port:    sdp.RangedPort{Value: opts.FloorPort},
					Protos:  []string{"UDP"},
					Formats: []string{fmtpFormat},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("fmtp", fmtpFormat+" "+FormatFmtp(b)),
				},
			},
		},
	}
	return sd.Marshal()
}

// UnmarshalSDP extracts the floor parameters from an SDP payload.
func UnmarshalSDP(data []byte) (Body, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(data); err != nil {
		return Body{}, fmt.Errorf("sdp: %w", err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "application" {
			continue
		}
		for _, a := range md.Attributes {
			if a.Key != "fmtp" {
				continue
			}
			format, params, _ := strings.Cut(a.Value, " ")
			if format != fmtpFormat {
				continue
			}
			return ParseFmtp(params)
		}
		return Body{}, ErrNoFmtp
	}
	return Body{}, ErrNoFloorMedia
}

// FormatFmtp renders the fmtp parameter list for b. Flags are omitted when
// false and the priority is always present.
func FormatFmtp(b Body) string {
	params := make([]string, 0, 4)
	if b.QueueingSupported {
		params = append(params, paramQueueing)
	}
	params = append(params, paramPriority+"="+strconv.Itoa(b.Priority))
	if b.Granted {
		params = append(params, paramGranted)
	}
	if b.ImplicitRequest {
		params = append(params, paramImplicit)
	}
	return strings.Join(params, ";")
}

// ParseFmtp parses a parameter list produced by FormatFmtp. Unknown
// parameters are skipped.
func ParseFmtp(s string) (Body, error) {
	var b Body
	for _, p := range strings.Split(s, ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, value, hasValue := strings.Cut(p, "=")
		switch name {
		case paramQueueing:
			b.QueueingSupported = true
		case paramGranted:
			b.Granted = true
		case paramImplicit:
			b.ImplicitRequest = true
		case paramPriority:
			if !hasValue {
				return Body{}, fmt.Errorf("fmtp: %s without value", paramPriority)
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return Body{}, fmt.Errorf("fmtp: %s: %w", paramPriority, err)
			}
			b.Priority = v
		}
	}
	return b, nil
}
