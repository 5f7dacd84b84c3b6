// Package board projects the lead collection into per-stage columns and keeps
// that projection stable while a card is being dragged.
package board

import (
	"errors"
	"strings"
	"sync"

	"github.com/Joseda-hg/lazycrm/internal/model"
)

type Mode int

const (
	Synced Mode = iota
	Dragging
)

func (m Mode) String() string {
	if m == Dragging {
		return "dragging"
	}
	return "synced"
}

var (
	ErrDragging   = errors.New("a drag is already in progress")
	ErrNotOnBoard = errors.New("lead is not on the board")
)

// Source is anything that can hand out the current lead collection.
type Source interface {
	Snapshot() []model.Lead
}

// Over is the drop target under the pointer. ID is either a lead id or a
// stage id; a stage id stands for the empty space of that column. Top and
// Height describe the hovered card's vertical extent.
type Over struct {
	ID     string
	Top    int
	Height int
}

// StageTarget is the empty-column target for stage.
func StageTarget(stage model.Stage) Over {
	return Over{ID: string(stage)}
}

type Column struct {
	Stage model.StageInfo `json:"stage"`
	Leads []model.Lead    `json:"leads"`
}

type Board struct {
	src Source

	mu      sync.Mutex
	mode    Mode
	query   string
	active  string
	columns map[model.Stage][]model.Lead
}

func New(src Source) *Board {
	b := &Board{src: src}
	b.Refresh()
	return b
}

func (b *Board) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Active returns the id of the dragged lead, if any.
func (b *Board) Active() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Refresh rebuilds the columns from the source. It does nothing while
// Dragging and reports whether a rebuild happened.
func (b *Board) Refresh() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == Dragging {
		return false
	}
	b.rebuild()
	return true
}

func (b *Board) rebuild() {
	columns := make(map[model.Stage][]model.Lead, len(model.Stages))
	for _, info := range model.Stages {
		columns[info.ID] = []model.Lead{}
	}
	for _, lead := range b.src.Snapshot() {
		if !Matches(lead, b.query) {
			continue
		}
		stage := lead.Status
		if !stage.Valid() {
			stage = model.StageNew
		}
		columns[stage] = append(columns[stage], lead)
	}
	b.columns = columns
}

// SetQuery filters the board. While Dragging the filter is applied once the
// gesture ends.
func (b *Board) SetQuery(query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.query = strings.TrimSpace(query)
	if b.mode == Synced {
		b.rebuild()
	}
}

func (b *Board) Query() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.query
}

// Columns returns a copy of every column in pipeline order.
func (b *Board) Columns() []Column {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Column, 0, len(model.Stages))
	for _, info := range model.Stages {
		leads := b.columns[info.ID]
		copied := make([]model.Lead, len(leads))
		for i, lead := range leads {
			copied[i] = lead.Clone()
		}
		out = append(out, Column{Stage: info, Leads: copied})
	}
	return out
}

func (b *Board) Column(stage model.Stage) []model.Lead {
	b.mu.Lock()
	defer b.mu.Unlock()

	leads := b.columns[stage]
	out := make([]model.Lead, len(leads))
	for i, lead := range leads {
		out[i] = lead.Clone()
	}
	return out
}

// Find returns the lead with id as currently placed on the board.
func (b *Board) Find(id string) (model.Lead, model.Stage, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stage, idx, ok := b.locate(id)
	if !ok {
		return model.Lead{}, "", -1, false
	}
	return b.columns[stage][idx].Clone(), stage, idx, true
}

// BeginDrag forks the working set for the gesture on id.
func (b *Board) BeginDrag(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == Dragging {
		return ErrDragging
	}
	if _, _, ok := b.locate(id); !ok {
		return ErrNotOnBoard
	}
	b.mode = Dragging
	b.active = id
	return nil
}

// EndDrag returns to Synced and rebuilds from the source, dropping any
// ordering made during the gesture. Calling it while Synced is a no-op.
func (b *Board) EndDrag() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == Synced {
		return
	}
	b.mode = Synced
	b.active = ""
	b.rebuild()
}

func (b *Board) StageOf(id string) (model.Stage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stage, _, ok := b.locate(id)
	return stage, ok
}

// Resolve finds the stage an Over target belongs to.
func (b *Board) Resolve(over Over) (model.Stage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolve(over)
}

func (b *Board) resolve(over Over) (model.Stage, bool) {
	if over.ID == "" {
		return "", false
	}
	if stage, ok := model.ParseStage(over.ID); ok {
		return stage, true
	}
	stage, _, ok := b.locate(over.ID)
	return stage, ok
}

// MoveOver carries the active lead into the stage under the pointer. Moves
// within one stage are ignored. It reports whether the working set changed.
func (b *Board) MoveOver(activeID string, over Over, pointerY int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode != Dragging || activeID != b.active {
		return false
	}
	from, idx, ok := b.locate(activeID)
	if !ok {
		return false
	}
	to, ok := b.resolve(over)
	if !ok || to == from {
		return false
	}

	lead := b.columns[from][idx]
	b.columns[from] = append(b.columns[from][:idx:idx], b.columns[from][idx+1:]...)

	dest := b.columns[to]
	at := len(dest)
	if _, sentinel := model.ParseStage(over.ID); !sentinel {
		for i := range dest {
			if dest[i].ID != over.ID {
				continue
			}
			at = i
			if pointerY > over.Top+over.Height/2 {
				at = i + 1
			}
			break
		}
	}

	lead.Status = to
	next := make([]model.Lead, 0, len(dest)+1)
	next = append(next, dest[:at]...)
	next = append(next, lead)
	next = append(next, dest[at:]...)
	b.columns[to] = next
	return true
}

// Shift moves the active lead delta places inside its column. The order is
// cosmetic and lost on the next rebuild.
func (b *Board) Shift(activeID string, delta int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode != Dragging || activeID != b.active || delta == 0 {
		return false
	}
	stage, idx, ok := b.locate(activeID)
	if !ok {
		return false
	}
	leads := b.columns[stage]
	target := min(max(idx+delta, 0), len(leads)-1)
	if target == idx {
		return false
	}
	lead := leads[idx]
	if target > idx {
		copy(leads[idx:target], leads[idx+1:target+1])
	} else {
		copy(leads[target+1:idx+1], leads[target:idx])
	}
	leads[target] = lead
	return true
}

func (b *Board) locate(id string) (model.Stage, int, bool) {
	for _, info := range model.Stages {
		for i, lead := range b.columns[info.ID] {
			if lead.ID == id {
				return info.ID, i, true
			}
		}
	}
	return "", -1, false
}

// Matches reports whether lead passes the header search: name or company
// contain query ignoring case, or the phone contains it.
func Matches(lead model.Lead, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	lower := strings.ToLower(query)
	return strings.Contains(strings.ToLower(lead.Name), lower) ||
		strings.Contains(strings.ToLower(lead.Company), lower) ||
		strings.Contains(lead.Phone, query)
}
