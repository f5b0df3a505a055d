// Package peers holds the authoritative cache of peer metadata snapshots.
package peers

import (
	"slices"
	"strings"
	"sync"

	"github.com/starford/tgmonitor/internal/models"
)

// Directory maps peer ids to merged PeerRecords. Writes normally happen on
// the dispatcher goroutine; readers get deep copies.
type Directory struct {
	mu    sync.RWMutex
	peers map[int64]models.PeerRecord
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[int64]models.PeerRecord)}
}

// Upsert reconciles rec against any record already stored for rec.ID.
func (d *Directory) Upsert(rec models.PeerRecord) {
	if rec.ID == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsertLocked(rec)
}

// Seed upserts a batch under a single lock acquisition.
func (d *Directory) Seed(recs []models.PeerRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range recs {
		if rec.ID != 0 {
			d.upsertLocked(rec)
		}
	}
}

func (d *Directory) upsertLocked(rec models.PeerRecord) {
	prev, ok := d.peers[rec.ID]
	if !ok {
		d.peers[rec.ID] = rec.Clone()
		return
	}
	d.peers[rec.ID] = Merge(prev, rec)
}

// Merge returns the record that results from observing incoming after prev.
//
// A complete observation replaces prev. A stub observation over a complete
// record keeps the identity fields (title, usernames, kind) and refreshes only
// the Attributes whitelist; first name, last name and phone are filled only
// when prev has none. A stub over a stub replaces it.
func Merge(prev, incoming models.PeerRecord) models.PeerRecord {
	if incoming.Complete || !prev.Complete {
		return incoming.Clone()
	}

	out := prev.Clone()
	out.Attrs = mergeAttributes(prev.Attrs, incoming.Attrs)
	if out.FirstName == "" {
		out.FirstName = incoming.FirstName
	}
	if out.LastName == "" {
		out.LastName = incoming.LastName
	}
	if out.Phone == "" {
		out.Phone = incoming.Phone
	}
	return out
}

func mergeAttributes(prev, incoming models.Attributes) models.Attributes {
	return models.Attributes{
		Flags:          (prev.Flags &^ models.RefreshableFlags) | (incoming.Flags & models.RefreshableFlags),
		HasPhoto:       incoming.HasPhoto,
		BotInfoVersion: incoming.BotInfoVersion,
		LangCode:       incoming.LangCode,
		StoriesMaxID:   incoming.StoriesMaxID,
		ProfileColor:   incoming.ProfileColor,
	}
}

// Resolve returns a copy of the record for id.
func (d *Directory) Resolve(id int64) (models.PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.peers[id]
	if !ok {
		return models.PeerRecord{}, false
	}
	return rec.Clone(), true
}

// ResolveRef resolves a message peer reference.
func (d *Directory) ResolveRef(ref models.PeerRef) (models.PeerRecord, bool) {
	rec, ok := d.Resolve(ref.ID)
	if !ok || rec.Kind != ref.Kind {
		return models.PeerRecord{}, false
	}
	return rec, true
}

// ResolveUsername finds a peer by any of its usernames, case-insensitively.
func (d *Directory) ResolveUsername(name string) (models.PeerRecord, bool) {
	name = strings.TrimPrefix(name, "@")
	if name == "" {
		return models.PeerRecord{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, rec := range d.peers {
		for _, u := range rec.Usernames {
			if strings.EqualFold(u, name) {
				return rec.Clone(), true
			}
		}
	}
	return models.PeerRecord{}, false
}

// List returns a snapshot of every record, ordered by id.
func (d *Directory) List() []models.PeerRecord {
	d.mu.RLock()
	out := make([]models.PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		out = append(out, rec.Clone())
	}
	d.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.PeerRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of known peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
