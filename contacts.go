package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"

	"mcpttd/callmsg"
)

// Directory stores mappings from member ids to SIP contact URIs.
type Directory struct {
	mu   sync.RWMutex
	uris map[callmsg.MemberID]sip.Uri
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{uris: make(map[callmsg.MemberID]sip.Uri)}
}

// Set replaces directory content with the provided members.
func (d *Directory) Set(members map[callmsg.MemberID]string) error {
	uris := make(map[callmsg.MemberID]sip.Uri, len(members))
	for id, raw := range members {
		uri, err := parseMemberURI(id, raw)
		if err != nil {
			return err
		}
		uris[id] = uri
	}
	d.mu.Lock()
	d.uris = uris
	d.mu.Unlock()
	return nil
}

// Update adds or replaces a single member.
func (d *Directory) Update(id callmsg.MemberID, raw string) error {
	uri, err := parseMemberURI(id, raw)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uris[id] = uri
	return nil
}

// Resolve returns a copy of the contact URI of id.
func (d *Directory) Resolve(id callmsg.MemberID) (sip.Uri, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	uri, ok := d.uris[id]
	if !ok {
		return nil, false
	}
	return uri.Clone(), true
}

// Members returns the known member ids in order.
func (d *Directory) Members() []callmsg.MemberID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]callmsg.MemberID, 0, len(d.uris))
	for id := range d.uris {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// parseMemberURI parses raw and checks that its user part names id.
func parseMemberURI(id callmsg.MemberID, raw string) (sip.Uri, error) {
	uri, err := parser.ParseUri(raw)
	if err != nil {
		return nil, fmt.Errorf("member %s: parse uri %q: %w", id, raw, err)
	}
	if uri.User() == nil || uri.User().String() != id.String() {
		return nil, fmt.Errorf("member %s: uri %q must carry the member id as user part", id, raw)
	}
	return uri, nil
}
