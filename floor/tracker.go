package floor

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"mcpttd/callmsg"
)

// Hook names recorded in a participant's history.
const (
	HookCallInitiated   = "call-initiated"
	HookCallEstablished = "call-established"
	HookCallInitialized = "call-initialized"
	HookCallRelease1    = "call-release-1"
	HookCallRelease2    = "call-release-2"
)

// Record is the floor bookkeeping kept for one participant.
type Record struct {
	Participant     callmsg.MemberID `json:"participant"`
	State           LinkState        `json:"-"`
	StateName       string           `json:"state"`
	Originator      bool             `json:"originator"`
	Initialized     bool             `json:"initialized"`
	Priority        int              `json:"priority"`
	Granted         bool             `json:"granted"`
	ImplicitRequest bool             `json:"implicit_request"`
	History         []string         `json:"history,omitempty"`
}

// Tracker records the hook calls made for one call and keeps the link
// state of every participant it has seen.
type Tracker struct {
	mu      sync.RWMutex
	callID  callmsg.CallID
	records map[callmsg.MemberID]*Record
	log     *logrus.Entry
}

// NewTracker creates an empty tracker for callID.
func NewTracker(callID callmsg.CallID, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		callID:  callID,
		records: make(map[callmsg.MemberID]*Record),
		log:     log.WithField("call_id", callID),
	}
}

// recordLocked returns the record for p, creating it; caller must hold the write lock.
func (t *Tracker) recordLocked(p callmsg.MemberID) *Record {
	r, ok := t.records[p]
	if !ok {
		r = &Record{Participant: p, State: LinkIdle}
		t.records[p] = r
	}
	return r
}

func (t *Tracker) CallInitiated(p callmsg.MemberID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(p)
	r.Originator = true
	r.History = append(r.History, HookCallInitiated)
	t.log.WithField("participant", p).Debug("floor: call initiated")
}

func (t *Tracker) CallEstablished(p callmsg.MemberID, body callmsg.Body) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(p)
	r.Originator = false
	r.Priority = body.Priority
	r.Granted = body.Granted
	r.ImplicitRequest = body.ImplicitRequest
	r.History = append(r.History, HookCallEstablished)
	t.log.WithFields(logrus.Fields{
		"participant": p,
		"priority":    body.Priority,
		"implicit":    body.ImplicitRequest,
	}).Debug("floor: call established")
}

func (t *Tracker) CallInitialized(p callmsg.MemberID, implicitRequest bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(p)
	// the first participant initialized in a cycle is the originator
	r.Originator = !t.anyInitializedLocked()
	r.Initialized = true
	r.ImplicitRequest = implicitRequest
	r.History = append(r.History, HookCallInitialized)
	t.log.WithFields(logrus.Fields{
		"participant": p,
		"implicit":    implicitRequest,
		"originator":  r.Originator,
	}).Debug("floor: call initialized")
}

func (t *Tracker) anyInitializedLocked() bool {
	for _, r := range t.records {
		if r.Initialized {
			return true
		}
	}
	return false
}

func (t *Tracker) CallRelease1(p callmsg.MemberID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(p)
	r.History = append(r.History, HookCallRelease1)
	t.log.WithField("participant", p).Debug("floor: call release (part I)")
}

func (t *Tracker) CallRelease2(p callmsg.MemberID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(p)
	r.History = append(r.History, HookCallRelease2)
	r.State = LinkIdle
	// a finished cycle frees every record for the next establish
	for _, rec := range t.records {
		rec.Initialized = false
	}
	t.log.WithField("participant", p).Debug("floor: call release (part II)")
}

// EndCycle clears the per-cycle flags and link state of every record so
// the next establish starts from a clean slate. History is kept.
func (t *Tracker) EndCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		r.Initialized = false
		r.Originator = false
		r.State = LinkIdle
	}
	t.log.Debug("floor: cycle ended")
}

func (t *Tracker) SetParticipantState(p callmsg.MemberID, s LinkState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(p)
	if r.State != s {
		t.log.WithFields(logrus.Fields{
			"participant": p,
			"from":        r.State,
			"to":          s,
		}).Debug("floor: participant state change")
	}
	r.State = s
}

// State returns the link state of p; unknown participants are idle.
func (t *Tracker) State(p callmsg.MemberID) LinkState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.records[p]; ok {
		return r.State
	}
	return LinkIdle
}

// Record returns a copy of the record for p.
func (t *Tracker) Record(p callmsg.MemberID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[p]
	if !ok {
		return Record{}, false
	}
	return copyRecord(r), true
}

// History returns the hook names recorded for p in call order.
func (t *Tracker) History(p callmsg.MemberID) []string {
	r, _ := t.Record(p)
	return r.History
}

// Snapshot returns copies of all records ordered by participant.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

func copyRecord(r *Record) Record {
	c := *r
	c.StateName = r.State.String()
	c.History = append([]string(nil), r.History...)
	return c
}
