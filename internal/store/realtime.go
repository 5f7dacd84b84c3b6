package store

import (
	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/metrics"
	"github.com/Joseda-hg/lazycrm/internal/model"
)

func (s *Store) applyLeadChange(change gateway.Change) {
	metrics.RecordRealtimeEvent(change.Table, string(change.Type))

	var changed bool
	s.mu.Lock()
	switch change.Type {
	case gateway.ChangeInsert:
		changed = s.insertLead(change.New)
	case gateway.ChangeUpdate:
		changed = s.updateLead(change.New)
	case gateway.ChangeDelete:
		id := change.Old.String("id")
		if idx := s.indexOf(id); id != "" && idx >= 0 {
			s.removeAt(idx)
			s.bump(id)
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// insertLead ignores ids already present. An insert that matches a pending
// optimistic lead is our own echo and confirms that lead in place.
func (s *Store) insertLead(row gateway.Row) bool {
	id := row.String("id")
	if id == "" || s.indexOf(id) >= 0 {
		return false
	}

	lead := leadFromRow(row)
	if tempID, ok := s.matchPending(fingerprintOf(lead)); ok {
		if idx := s.indexOf(tempID); idx >= 0 {
			current := &s.leads[idx]
			current.ID = id
			current.Optimistic = false
			if !lead.CreatedAt.IsZero() {
				current.CreatedAt = lead.CreatedAt
			}
			delete(s.pending, tempID)
			s.adopted[tempID] = id
			s.revisions[id] = s.revisions[tempID]
			delete(s.revisions, tempID)
			for key, note := range s.pendingNotes {
				if note.leadID == tempID {
					note.leadID = id
					s.pendingNotes[key] = note
				}
			}
			s.mark(id)
			return true
		}
	}

	s.leads = append([]model.Lead{lead}, s.leads...)
	s.mark(id)
	return true
}

func (s *Store) matchPending(fp fingerprint) (string, bool) {
	for tempID, pending := range s.pending {
		if pending == fp {
			return tempID, true
		}
	}
	return "", false
}

// updateLead merges only the columns carried by the event. Notes are never
// part of the payload and stay as they are.
func (s *Store) updateLead(row gateway.Row) bool {
	id := row.String("id")
	idx := s.indexOf(id)
	if id == "" || idx < 0 {
		return false
	}
	patch := patchFromRow(row)
	if patch.Empty() {
		return false
	}
	patch.Apply(&s.leads[idx])
	s.bump(id)
	return true
}

func (s *Store) applyNoteChange(change gateway.Change) {
	metrics.RecordRealtimeEvent(change.Table, string(change.Type))

	var changed bool
	s.mu.Lock()
	switch change.Type {
	case gateway.ChangeInsert:
		changed = s.insertNote(change.New)
	case gateway.ChangeDelete:
		id := change.Old.String("id")
		for i := range s.leads {
			if hasNote(s.leads[i].Notes, id) {
				s.leads[i].Notes = removeNote(s.leads[i].Notes, id)
				s.mark(s.leads[i].ID)
				changed = true
				break
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) insertNote(row gateway.Row) bool {
	leadID := row.String("lead_id")
	idx := s.indexOf(leadID)
	if idx < 0 {
		return false
	}
	lead := &s.leads[idx]
	note := noteFromRow(row)
	if note.ID == "" || hasNote(lead.Notes, note.ID) {
		return false
	}
	s.mark(leadID)

	for tempID, pending := range s.pendingNotes {
		if pending.leadID != leadID || pending.content != note.Content {
			continue
		}
		for i := range lead.Notes {
			if lead.Notes[i].ID == tempID {
				lead.Notes[i].ID = note.ID
				lead.Notes[i].Optimistic = false
				delete(s.pendingNotes, tempID)
				return true
			}
		}
	}

	lead.Notes = append([]model.Note{note}, lead.Notes...)
	model.SortNotes(lead.Notes)
	return true
}
