package drag

import (
	"time"

	"github.com/Joseda-hg/lazycrm/internal/board"
	"github.com/Joseda-hg/lazycrm/internal/model"
)

const (
	DefaultPointerDistance = 10
	DefaultTouchDelay      = 250 * time.Millisecond
	DefaultTouchTolerance  = 5
)

// HitTester maps screen coordinates to the card or column under them.
type HitTester interface {
	HitTest(x, y int) (board.Over, bool)
}

// Release reports how a press ended. Click is set when the press never
// turned into a drag.
type Release struct {
	Result Result
	Click  bool
	Lead   model.Lead
}

type press struct {
	lead   model.Lead
	x, y   int
	at     time.Time
	active bool
}

// PointerSensor starts a drag once the pointer has travelled Distance cells
// from where it was pressed.
type PointerSensor struct {
	Distance int

	ctrl *Controller
	hits HitTester
	down *press
}

func NewPointerSensor(ctrl *Controller, hits HitTester) *PointerSensor {
	return &PointerSensor{Distance: DefaultPointerDistance, ctrl: ctrl, hits: hits}
}

func (p *PointerSensor) Press(lead model.Lead, x, y int) {
	p.down = &press{lead: lead, x: x, y: y}
}

// Motion reports whether the board changed.
func (p *PointerSensor) Motion(x, y int) bool {
	if p.down == nil {
		return false
	}
	if !p.down.active {
		if dist2(p.down.x, p.down.y, x, y) < p.Distance*p.Distance {
			return false
		}
		if err := p.ctrl.Start(p.down.lead); err != nil {
			p.down = nil
			return false
		}
		p.down.active = true
	}
	return hover(p.ctrl, p.hits, x, y)
}

func (p *PointerSensor) Release(x, y int) Release {
	return release(p.ctrl, p.hits, &p.down, x, y)
}

// Pressed reports whether a press is being tracked.
func (p *PointerSensor) Pressed() bool {
	return p.down != nil
}

// Reset forgets the current press, cancelling the drag it started.
func (p *PointerSensor) Reset() {
	if p.down != nil && p.down.active {
		p.ctrl.Cancel()
	}
	p.down = nil
}

// TouchSensor starts a drag after the finger has been held for Delay without
// drifting more than Tolerance cells.
type TouchSensor struct {
	Delay     time.Duration
	Tolerance int

	ctrl *Controller
	hits HitTester
	down *press
}

func NewTouchSensor(ctrl *Controller, hits HitTester) *TouchSensor {
	return &TouchSensor{Delay: DefaultTouchDelay, Tolerance: DefaultTouchTolerance, ctrl: ctrl, hits: hits}
}

func (t *TouchSensor) Press(lead model.Lead, x, y int, at time.Time) {
	t.down = &press{lead: lead, x: x, y: y, at: at}
}

// Hold activates the drag once the delay has passed.
func (t *TouchSensor) Hold(at time.Time) bool {
	if t.down == nil || t.down.active || at.Sub(t.down.at) < t.Delay {
		return false
	}
	if err := t.ctrl.Start(t.down.lead); err != nil {
		t.down = nil
		return false
	}
	t.down.active = true
	return true
}

// Motion before activation aborts the press when it drifts too far.
func (t *TouchSensor) Motion(x, y int, at time.Time) bool {
	if t.down == nil {
		return false
	}
	if !t.down.active {
		if dist2(t.down.x, t.down.y, x, y) > t.Tolerance*t.Tolerance {
			t.down = nil
			return false
		}
		if !t.Hold(at) {
			return false
		}
	}
	return hover(t.ctrl, t.hits, x, y)
}

func (t *TouchSensor) Release(x, y int) Release {
	return release(t.ctrl, t.hits, &t.down, x, y)
}

// KeyboardSensor drives a drag in discrete steps: left and right jump to the
// adjacent stage, up and down reorder inside the column.
type KeyboardSensor struct {
	ctrl *Controller
}

func NewKeyboardSensor(ctrl *Controller) *KeyboardSensor {
	return &KeyboardSensor{ctrl: ctrl}
}

func (k *KeyboardSensor) PickUp(lead model.Lead) error {
	return k.ctrl.Start(lead)
}

func (k *KeyboardSensor) Left() bool {
	return k.stepStage(-1)
}

func (k *KeyboardSensor) Right() bool {
	return k.stepStage(1)
}

func (k *KeyboardSensor) Up() bool {
	return k.ctrl.Step(-1)
}

func (k *KeyboardSensor) Down() bool {
	return k.ctrl.Step(1)
}

// Drop commits wherever the card currently sits.
func (k *KeyboardSensor) Drop() Result {
	id, _ := k.ctrl.Origin()
	if id == "" {
		return Result{State: Idle}
	}
	return k.ctrl.End(&board.Over{ID: id})
}

func (k *KeyboardSensor) Cancel() {
	k.ctrl.Cancel()
}

func (k *KeyboardSensor) stepStage(delta int) bool {
	id, _ := k.ctrl.Origin()
	if id == "" {
		return false
	}
	stage, ok := k.ctrl.board.StageOf(id)
	if !ok {
		return false
	}
	next := stage.Index() + delta
	if next < 0 || next >= len(model.Stages) {
		return false
	}
	return k.ctrl.Over(board.StageTarget(model.Stages[next].ID), 0)
}

func hover(ctrl *Controller, hits HitTester, x, y int) bool {
	over, ok := hits.HitTest(x, y)
	if !ok {
		return false
	}
	return ctrl.Over(over, y)
}

func release(ctrl *Controller, hits HitTester, down **press, x, y int) Release {
	p := *down
	*down = nil
	if p == nil {
		return Release{Result: Result{State: Idle}}
	}
	if !p.active {
		return Release{Result: Result{State: Idle}, Click: true, Lead: p.lead}
	}
	if over, ok := hits.HitTest(x, y); ok {
		ctrl.Over(over, y)
		return Release{Result: ctrl.End(&over), Lead: p.lead}
	}
	return Release{Result: ctrl.End(nil), Lead: p.lead}
}

func dist2(x0, y0, x, y int) int {
	dx, dy := x-x0, y-y0
	return dx*dx + dy*dy
}
