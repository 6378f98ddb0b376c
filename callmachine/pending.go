package callmachine

import "mcpttd/callmsg"

// PendingSet is the ordered set of members whose reply to a forwarded
// transaction is outstanding.
type PendingSet struct {
	ids []callmsg.MemberID
}

// Add appends id unless it is already present.
func (p *PendingSet) Add(id callmsg.MemberID) bool {
	if p.Contains(id) {
		return false
	}
	p.ids = append(p.ids, id)
	return true
}

// Remove drops id and reports whether it was present.
func (p *PendingSet) Remove(id callmsg.MemberID) bool {
	for i, v := range p.ids {
		if v == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (p *PendingSet) Contains(id callmsg.MemberID) bool {
	for _, v := range p.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (p *PendingSet) Len() int { return len(p.ids) }

// Members returns a copy of the pending ids in insertion order.
func (p *PendingSet) Members() []callmsg.MemberID {
	return append([]callmsg.MemberID(nil), p.ids...)
}

func (p *PendingSet) Clear() { p.ids = p.ids[:0] }
