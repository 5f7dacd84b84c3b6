// Package drag turns card gestures into at most one stage move per gesture.
package drag

import (
	"errors"
	"sync"

	"github.com/Joseda-hg/lazycrm/internal/board"
	"github.com/Joseda-hg/lazycrm/internal/metrics"
	"github.com/Joseda-hg/lazycrm/internal/model"
)

type State int

const (
	Idle State = iota
	Active
	Committing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

var (
	ErrNotDraggable = errors.New("lead is still being saved")
	ErrBusy         = errors.New("another gesture is active")
)

// Mover persists a stage change. The store's Move satisfies it.
type Mover interface {
	Move(id string, stage model.Stage) <-chan error
}

// Result describes how a gesture finished. Done is nil unless the gesture
// committed a move.
type Result struct {
	State  State
	LeadID string
	From   model.Stage
	To     model.Stage
	Done   <-chan error
}

func (r Result) Committed() bool {
	return r.State == Committing
}

type Controller struct {
	board *board.Board
	mover Mover

	mu     sync.Mutex
	state  State
	active string
	origin model.Stage
}

func New(b *board.Board, mover Mover) *Controller {
	return &Controller{board: b, mover: mover}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Origin returns the dragged lead and the stage it started in.
func (c *Controller) Origin() (string, model.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.origin
}

// Start picks up lead. Leads awaiting confirmation cannot be dragged.
func (c *Controller) Start(lead model.Lead) error {
	if lead.Optimistic {
		metrics.RecordGesture("rejected")
		return ErrNotDraggable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return ErrBusy
	}
	origin, ok := c.board.StageOf(lead.ID)
	if !ok {
		return board.ErrNotOnBoard
	}
	if err := c.board.BeginDrag(lead.ID); err != nil {
		return err
	}
	c.state = Active
	c.active = lead.ID
	c.origin = origin
	return nil
}

// Over feeds a pointer position to the board while Active.
func (c *Controller) Over(over board.Over, pointerY int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return false
	}
	return c.board.MoveOver(c.active, over, pointerY)
}

// Step reorders the dragged card inside its column.
func (c *Controller) Step(delta int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return false
	}
	return c.board.Shift(c.active, delta)
}

// End finishes the gesture over target. A nil target, or one that resolves
// to the origin stage, cancels. Otherwise exactly one move is issued.
func (c *Controller) End(target *board.Over) Result {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return Result{State: Idle}
	}
	result := Result{State: Cancelled, LeadID: c.active, From: c.origin, To: c.origin}
	if target != nil {
		if dest, ok := c.board.Resolve(*target); ok && dest != c.origin {
			result.State = Committing
			result.To = dest
		}
	}
	c.state = result.State
	c.mu.Unlock()

	// Move applies locally before it returns and notifies store watchers,
	// which may read the controller, so it runs outside the lock.
	if result.Committed() {
		result.Done = c.mover.Move(result.LeadID, result.To)
	}
	metrics.RecordGesture(outcome(result.State))

	c.mu.Lock()
	c.finish()
	c.mu.Unlock()
	return result
}

// Cancel abandons the gesture without persisting anything. It is safe to
// call at any time.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return
	}
	c.state = Cancelled
	metrics.RecordGesture(outcome(Cancelled))
	c.finish()
}

func (c *Controller) finish() {
	c.board.EndDrag()
	c.state = Idle
	c.active = ""
	c.origin = ""
}

func outcome(state State) string {
	if state == Committing {
		return "committed"
	}
	return "cancelled"
}
