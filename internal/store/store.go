// Package store holds the in-memory lead collection for one session. Every
// mutation is applied locally first and then persisted in the background;
// realtime change events from the gateway are merged into the same state.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/metrics"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/google/uuid"
)

const (
	tempLeadPrefix = "tmp-"
	tempNotePrefix = "tmp-note-"
	defaultUserID  = "me"
)

var (
	ErrNotFound     = errors.New("lead not found")
	ErrPending      = errors.New("lead is awaiting confirmation")
	ErrInvalidStage = errors.New("invalid stage")
	ErrEmptyNote    = errors.New("note is empty")
	ErrNameRequired = errors.New("name is required")
)

// MutationError reports a write the gateway rejected after the local
// change was already visible.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s lead %s: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

type Options struct {
	// UserID owns created leads and notes. Empty means "me".
	UserID string
	Logger *log.Logger
	Now    func() time.Time
}

type fingerprint struct {
	owner, name, company, phone, email string
}

type pendingNote struct {
	leadID  string
	content string
}

type Store struct {
	gw     gateway.Gateway
	userID string
	logger *log.Logger
	now    func() time.Time

	mu           sync.Mutex
	leads        []model.Lead
	revisions    map[string]uint64
	pending      map[string]fingerprint
	adopted      map[string]string
	pendingNotes map[string]pendingNote
	lastTick     time.Time

	// loads counts fetches in flight; touched holds the ids changed while
	// one of them was running.
	loads   int
	touched map[string]bool

	watchMu   sync.Mutex
	watchers  map[int]func()
	nextWatch int

	// tails orders background writes per lead.
	tails map[string]chan struct{}

	subs []gateway.Subscription
	wg   sync.WaitGroup
}

func New(gw gateway.Gateway, opts Options) *Store {
	if opts.UserID == "" {
		opts.UserID = defaultUserID
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		gw:           gw,
		userID:       opts.UserID,
		logger:       opts.Logger,
		now:          opts.Now,
		leads:        []model.Lead{},
		revisions:    make(map[string]uint64),
		pending:      make(map[string]fingerprint),
		adopted:      make(map[string]string),
		pendingNotes: make(map[string]pendingNote),
		touched:      make(map[string]bool),
		tails:        make(map[string]chan struct{}),
		watchers:     make(map[int]func()),
	}
}

func (s *Store) UserID() string {
	return s.userID
}

// Connect subscribes to lead and note changes.
func (s *Store) Connect() error {
	leadSub, err := s.gw.Subscribe(gateway.TableLeads, s.applyLeadChange)
	if err != nil {
		return fmt.Errorf("subscribe leads: %w", err)
	}
	noteSub, err := s.gw.Subscribe(gateway.TableNotes, s.applyNoteChange)
	if err != nil {
		_ = s.gw.Unsubscribe(leadSub)
		return fmt.Errorf("subscribe notes: %w", err)
	}
	s.mu.Lock()
	s.subs = append(s.subs, leadSub, noteSub)
	s.mu.Unlock()
	return nil
}

// Close drops the realtime subscriptions and waits for in-flight writes.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := s.gw.Unsubscribe(sub); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

// Wait blocks until every background write has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Watch registers fn to run after every change. The returned func removes it.
func (s *Store) Watch(fn func()) func() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.nextWatch++
	id := s.nextWatch
	s.watchers[id] = fn
	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *Store) notify() {
	s.watchMu.Lock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Snapshot returns a copy of the collection, newest first.
func (s *Store) Snapshot() []model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Lead, len(s.leads))
	for i, lead := range s.leads {
		out[i] = lead.Clone()
	}
	return out
}

func (s *Store) Lead(id string) (model.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.Lead{}, false
	}
	return s.leads[idx].Clone(), true
}

// Load replaces the collection with the gateway's leads and their notes.
// Leads still awaiting their insert stay at the head, and so do leads that
// arrived while the fetch ran. A lead changed or removed during the fetch
// keeps its local state. On failure the error is logged and only those
// leads remain.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()

	leads, err := s.fetch(ctx)
	if err != nil {
		s.logger.Printf("[store] load leads: %v", err)
		leads = nil
	}

	s.mu.Lock()
	s.leads = s.merge(leads)
	s.loads--
	if s.loads == 0 {
		clear(s.touched)
	}
	s.mu.Unlock()

	s.notify()
	return err
}

// merge builds the collection from fetched leads. Callers hold s.mu.
func (s *Store) merge(fetched []model.Lead) []model.Lead {
	inFetch := make(map[string]bool, len(fetched))
	for _, lead := range fetched {
		inFetch[lead.ID] = true
	}

	next := make([]model.Lead, 0, len(fetched)+len(s.pending))
	for _, lead := range s.leads {
		if lead.Optimistic || (s.touched[lead.ID] && !inFetch[lead.ID]) {
			next = append(next, lead)
		}
	}
	for _, lead := range fetched {
		if !s.touched[lead.ID] {
			next = append(next, lead)
			continue
		}
		if idx := s.indexOf(lead.ID); idx >= 0 {
			next = append(next, s.leads[idx])
		}
	}
	return next
}

func (s *Store) fetch(ctx context.Context) ([]model.Lead, error) {
	leadRows, err := s.gw.Select(ctx, gateway.TableLeads, gateway.Query{
		Order: []gateway.Order{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	noteRows, err := s.gw.Select(ctx, gateway.TableNotes, gateway.Query{
		Order: []gateway.Order{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}

	notesByLead := make(map[string][]model.Note, len(leadRows))
	for _, row := range noteRows {
		leadID := row.String("lead_id")
		notesByLead[leadID] = append(notesByLead[leadID], noteFromRow(row))
	}

	leads := make([]model.Lead, 0, len(leadRows))
	for _, row := range leadRows {
		lead := leadFromRow(row)
		if notes := notesByLead[lead.ID]; len(notes) > 0 {
			lead.Notes = notes
			model.SortNotes(lead.Notes)
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

// Create shows a temporary lead at the head of the collection right away and
// inserts it in the background. On success the temporary lead is swapped in
// place for the stored one; on failure it is removed and the error delivered.
func (s *Store) Create(input model.LeadInput, initialNote string) (string, <-chan error) {
	return s.create(input, initialNote, nil)
}

// CreateWait is Create for callers that need the stored lead, such as the
// HTTP API. It blocks until the insert settles or ctx is done.
func (s *Store) CreateWait(ctx context.Context, input model.LeadInput, initialNote string) (model.Lead, error) {
	var stored model.Lead
	_, done := s.create(input, initialNote, func(lead model.Lead) { stored = lead })
	select {
	case err := <-done:
		return stored, err
	case <-ctx.Done():
		return model.Lead{}, ctx.Err()
	}
}

func (s *Store) create(input model.LeadInput, initialNote string, confirmed func(model.Lead)) (string, <-chan error) {
	if strings.TrimSpace(input.Name) == "" {
		return "", failed(ErrNameRequired)
	}

	owner := input.Owner
	if owner == "" {
		owner = s.userID
	}

	s.mu.Lock()
	at := s.tick(time.Time{})
	tempID := tempLeadPrefix + uuid.NewString()
	lead := model.Lead{
		ID:               tempID,
		Name:             input.Name,
		Company:          input.Company,
		Phone:            input.Phone,
		Email:            input.Email,
		Status:           model.StageNew,
		CreatedAt:        at,
		ResponsibleName:  input.ResponsibleName,
		ResponsiblePhone: input.ResponsiblePhone,
		Origin:           input.Origin,
		Owner:            owner,
		LastInteraction:  at,
		NextAction:       input.NextAction,
		Notes:            []model.Note{},
		Optimistic:       true,
	}
	noteTempID := ""
	initialNote = strings.TrimSpace(initialNote)
	if initialNote != "" {
		noteTempID = tempNotePrefix + uuid.NewString()
		lead.Notes = []model.Note{{ID: noteTempID, Content: initialNote, CreatedAt: at, Optimistic: true}}
		s.pendingNotes[noteTempID] = pendingNote{leadID: tempID, content: initialNote}
	}
	s.leads = append([]model.Lead{lead}, s.leads...)
	s.pending[tempID] = fingerprintOf(lead)
	record := rowFromLead(lead)
	s.mu.Unlock()
	s.notify()

	return tempID, s.run("create", tempID, func(ctx context.Context) error {
		row, err := s.gw.Insert(ctx, gateway.TableLeads, record)
		if err != nil {
			s.discardCreate(tempID, noteTempID)
			s.logger.Printf("[store] create lead: %v", err)
			return &MutationError{Op: "create", ID: tempID, Err: err}
		}

		realID := s.confirmCreate(tempID, row)
		if noteTempID != "" {
			s.persistNote(ctx, realID, noteTempID, initialNote, owner, time.Time{})
		}
		if confirmed != nil {
			if lead, ok := s.Lead(realID); ok {
				confirmed(lead)
			}
		}
		return nil
	})
}

func (s *Store) discardCreate(tempID, noteTempID string) {
	s.mu.Lock()
	delete(s.pending, tempID)
	delete(s.pendingNotes, noteTempID)
	if idx := s.indexOf(tempID); idx >= 0 {
		s.removeAt(idx)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) confirmCreate(tempID string, row gateway.Row) string {
	realID := row.String("id")

	s.mu.Lock()
	delete(s.pending, tempID)
	adoptedID, wasAdopted := s.adopted[tempID]
	delete(s.adopted, tempID)

	if idx := s.indexOf(tempID); idx >= 0 {
		// A realtime insert for realID may have raced ahead of us.
		if dup := s.indexOf(realID); dup >= 0 {
			s.removeAt(dup)
			if dup < idx {
				idx--
			}
		}
		lead := &s.leads[idx]
		lead.ID = realID
		lead.Optimistic = false
		if created := row.Time("created_at"); !created.IsZero() {
			lead.CreatedAt = created
		}
		s.revisions[realID] = s.revisions[tempID]
		delete(s.revisions, tempID)
	} else if wasAdopted && adoptedID != realID && s.indexOf(realID) < 0 {
		s.leads = append([]model.Lead{leadFromRow(row)}, s.leads...)
	}
	for key, note := range s.pendingNotes {
		if note.leadID == tempID {
			note.leadID = realID
			s.pendingNotes[key] = note
		}
	}
	s.mark(realID)
	s.mu.Unlock()
	s.notify()
	return realID
}

// Update applies patch locally and persists it. A status change also
// refreshes lastInteraction.
func (s *Store) Update(id string, patch model.LeadPatch) <-chan error {
	if patch.Status != nil && !patch.Status.Valid() {
		return failed(fmt.Errorf("%w: %s", ErrInvalidStage, *patch.Status))
	}

	s.mu.Lock()
	idx, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return failed(err)
	}
	lead := &s.leads[idx]
	if patch.Status != nil && *patch.Status != lead.Status && patch.LastInteraction == nil {
		at := s.tick(lead.LastInteraction)
		patch.LastInteraction = &at
	}
	if patch.Empty() {
		s.mu.Unlock()
		return failed(nil)
	}
	undo := patch.PatchFrom(*lead)
	patch.Apply(lead)
	rev := s.bump(id)
	s.mu.Unlock()
	s.notify()

	return s.run("update", id, func(ctx context.Context) error {
		if err := s.gw.Update(ctx, gateway.TableLeads, id, rowFromPatch(patch)); err != nil {
			s.logger.Printf("[store] update lead %s: %v", id, err)
			s.revert("update", id, rev, undo)
			return &MutationError{Op: "update", ID: id, Err: err}
		}
		return nil
	})
}

// Move sets the stage and refreshes lastInteraction before returning, then
// persists both fields.
func (s *Store) Move(id string, stage model.Stage) <-chan error {
	if !stage.Valid() {
		return failed(fmt.Errorf("%w: %s", ErrInvalidStage, stage))
	}

	s.mu.Lock()
	idx, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return failed(err)
	}
	lead := &s.leads[idx]
	undo := model.LeadPatch{Status: ptr(lead.Status), LastInteraction: ptr(lead.LastInteraction)}
	at := s.tick(lead.LastInteraction)
	lead.Status = stage
	lead.LastInteraction = at
	rev := s.bump(id)
	s.mu.Unlock()
	s.notify()

	return s.run("move", id, func(ctx context.Context) error {
		row := gateway.Row{"status": string(stage), "last_interaction": at}
		if err := s.gw.Update(ctx, gateway.TableLeads, id, row); err != nil {
			s.logger.Printf("[store] move lead %s: %v", id, err)
			s.revert("move", id, rev, undo)
			return &MutationError{Op: "move", ID: id, Err: err}
		}
		return nil
	})
}

// AddNote prepends a temporary note and refreshes lastInteraction, then
// inserts the note and touches the lead.
func (s *Store) AddNote(id, content string) <-chan error {
	return s.AddNoteBy(id, content, "")
}

// AddNoteBy is AddNote with the note written by userID. Empty means the
// store's user.
func (s *Store) AddNoteBy(id, content, userID string) <-chan error {
	if userID == "" {
		userID = s.userID
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return failed(ErrEmptyNote)
	}

	s.mu.Lock()
	idx, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return failed(err)
	}
	lead := &s.leads[idx]
	undo := model.LeadPatch{LastInteraction: ptr(lead.LastInteraction)}
	at := s.tick(lead.LastInteraction)
	noteTempID := tempNotePrefix + uuid.NewString()
	lead.Notes = append([]model.Note{{ID: noteTempID, Content: content, CreatedAt: at, Optimistic: true}}, lead.Notes...)
	lead.LastInteraction = at
	rev := s.bump(id)
	s.pendingNotes[noteTempID] = pendingNote{leadID: id, content: content}
	s.mu.Unlock()
	s.notify()

	return s.run("note", id, func(ctx context.Context) error {
		if err := s.persistNote(ctx, id, noteTempID, content, userID, at); err != nil {
			s.revert("touch", id, rev, undo)
			return err
		}
		return nil
	})
}

// persistNote inserts a note already shown under noteTempID. A non-zero
// touched also persists the lead's lastInteraction.
func (s *Store) persistNote(ctx context.Context, leadID, noteTempID, content, userID string, touched time.Time) error {
	row, err := s.gw.Insert(ctx, gateway.TableNotes, gateway.Row{
		"lead_id": leadID,
		"content": content,
		"user_id": userID,
	})
	if err != nil {
		s.logger.Printf("[store] add note to lead %s: %v", leadID, err)
		s.dropNote(leadID, noteTempID)
		metrics.RecordRollback("note")
		return &MutationError{Op: "note", ID: leadID, Err: err}
	}

	s.confirmNote(leadID, noteTempID, noteFromRow(row))

	if touched.IsZero() {
		return nil
	}
	if err := s.gw.Update(ctx, gateway.TableLeads, leadID, gateway.Row{"last_interaction": touched}); err != nil {
		s.logger.Printf("[store] touch lead %s: %v", leadID, err)
	}
	return nil
}

func (s *Store) confirmNote(leadID, noteTempID string, stored model.Note) {
	s.mu.Lock()
	delete(s.pendingNotes, noteTempID)
	s.mark(leadID)
	if idx := s.indexOf(leadID); idx >= 0 {
		lead := &s.leads[idx]
		if hasNote(lead.Notes, stored.ID) {
			lead.Notes = removeNote(lead.Notes, noteTempID)
		} else {
			for i := range lead.Notes {
				if lead.Notes[i].ID == noteTempID {
					lead.Notes[i].ID = stored.ID
					lead.Notes[i].Optimistic = false
					break
				}
			}
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) dropNote(leadID, noteTempID string) {
	s.mu.Lock()
	delete(s.pendingNotes, noteTempID)
	s.mark(leadID)
	if idx := s.indexOf(leadID); idx >= 0 {
		s.leads[idx].Notes = removeNote(s.leads[idx].Notes, noteTempID)
	}
	s.mu.Unlock()
	s.notify()
}

// Delete removes the lead right away and deletes it in the background. A
// failed delete puts the lead back where it was.
func (s *Store) Delete(id string) <-chan error {
	s.mu.Lock()
	idx, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return failed(err)
	}
	removed := s.leads[idx].Clone()
	s.removeAt(idx)
	rev := s.bump(id)
	s.mu.Unlock()
	s.notify()

	return s.run("delete", id, func(ctx context.Context) error {
		if err := s.gw.Delete(ctx, gateway.TableLeads, id); err != nil {
			s.logger.Printf("[store] delete lead %s: %v", id, err)
			s.restore(id, rev, idx, removed)
			return &MutationError{Op: "delete", ID: id, Err: err}
		}
		return nil
	})
}

// revert undoes a failed update unless a newer change touched the lead.
func (s *Store) revert(op, id string, rev uint64, undo model.LeadPatch) {
	s.mu.Lock()
	applied := false
	if s.revisions[id] == rev {
		if idx := s.indexOf(id); idx >= 0 {
			undo.Apply(&s.leads[idx])
			applied = true
		}
	}
	s.mu.Unlock()

	if applied {
		metrics.RecordRollback(op)
		s.notify()
	}
}

func (s *Store) restore(id string, rev uint64, idx int, lead model.Lead) {
	s.mu.Lock()
	applied := false
	if s.revisions[id] == rev && s.indexOf(id) < 0 {
		if idx > len(s.leads) {
			idx = len(s.leads)
		}
		s.leads = append(s.leads, model.Lead{})
		copy(s.leads[idx+1:], s.leads[idx:])
		s.leads[idx] = lead
		applied = true
	}
	s.mu.Unlock()

	if applied {
		metrics.RecordRollback("delete")
		s.notify()
	}
}

// run persists in the background. Writes for the same lead reach the
// gateway in the order they were issued.
func (s *Store) run(op, id string, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	turn := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[id]
	s.tails[id] = turn
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if prev != nil {
			<-prev
		}
		err := fn(context.Background())

		s.mu.Lock()
		if s.tails[id] == turn {
			delete(s.tails, id)
		}
		s.mu.Unlock()
		close(turn)

		metrics.RecordMutation(op, err)
		done <- err
		close(done)
	}()
	return done
}

func failed(err error) <-chan error {
	done := make(chan error, 1)
	done <- err
	close(done)
	return done
}

// editable finds a lead that may be mutated. Callers hold s.mu.
func (s *Store) editable(id string) (int, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.leads[idx].Optimistic {
		return -1, fmt.Errorf("%w: %s", ErrPending, id)
	}
	return idx, nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.leads {
		if s.leads[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(idx int) {
	s.leads = append(s.leads[:idx], s.leads[idx+1:]...)
}

func (s *Store) bump(id string) uint64 {
	s.mark(id)
	s.revisions[id]++
	return s.revisions[id]
}

// mark records that id changed locally while a load is in flight.
func (s *Store) mark(id string) {
	if s.loads > 0 {
		s.touched[id] = true
	}
}

// tick returns a timestamp after both prev and the last one handed out, at
// the microsecond precision the databases keep.
func (s *Store) tick(prev time.Time) time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastTick) {
		t = s.lastTick.Add(time.Microsecond)
	}
	if !t.After(prev) {
		t = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	s.lastTick = t
	return t
}

func fingerprintOf(lead model.Lead) fingerprint {
	return fingerprint{owner: lead.Owner, name: lead.Name, company: lead.Company, phone: lead.Phone, email: lead.Email}
}

func hasNote(notes []model.Note, id string) bool {
	for _, note := range notes {
		if note.ID == id {
			return true
		}
	}
	return false
}

func removeNote(notes []model.Note, id string) []model.Note {
	out := notes[:0]
	for _, note := range notes {
		if note.ID != id {
			out = append(out, note)
		}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
