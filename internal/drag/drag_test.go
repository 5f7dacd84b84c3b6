package drag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/board"
	"github.com/Joseda-hg/lazycrm/internal/db"
	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/Joseda-hg/lazycrm/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	leads []model.Lead
	moves []string
}

func (f *fakeStore) Snapshot() []model.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Lead, len(f.leads))
	copy(out, f.leads)
	return out
}

func (f *fakeStore) Move(id string, stage model.Stage) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, id+"->"+string(stage))
	for i := range f.leads {
		if f.leads[i].ID == id {
			f.leads[i].Status = stage
		}
	}
	done := make(chan error, 1)
	done <- nil
	return done
}

func (f *fakeStore) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

// grid places column i at x in [i*10, i*10+9] and card j at y in [j*4, j*4+3].
type grid struct {
	b *board.Board
}

func (g grid) HitTest(x, y int) (board.Over, bool) {
	col := x / 10
	if x < 0 || col >= len(model.Stages) {
		return board.Over{}, false
	}
	leads := g.b.Column(model.Stages[col].ID)
	row := y / 4
	if y < 0 || row >= len(leads) {
		return board.StageTarget(model.Stages[col].ID), true
	}
	return board.Over{ID: leads[row].ID, Top: row * 4, Height: 4}, true
}

func newTestController() (*Controller, *board.Board, *fakeStore) {
	src := &fakeStore{leads: []model.Lead{
		{ID: "a", Name: "Ana", Status: model.StageNew},
		{ID: "b", Name: "Bruno", Status: model.StageNew},
		{ID: "c", Name: "Carla", Status: model.StageContacted},
		{ID: "p", Name: "Pendente", Status: model.StageNew, Optimistic: true},
	}}
	b := board.New(src)
	return New(b, src), b, src
}

func lead(t *testing.T, b *board.Board, id string) model.Lead {
	t.Helper()
	found, _, _, ok := b.Find(id)
	if !ok {
		t.Fatalf("lead %s not on board", id)
	}
	return found
}

func TestEndOverOtherStageCommitsOnce(t *testing.T) {
	ctrl, b, src := newTestController()

	if err := ctrl.Start(lead(t, b, "a")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ctrl.State() != Active || b.Mode() != board.Dragging {
		t.Fatalf("expected active drag")
	}
	if id, origin := ctrl.Origin(); id != "a" || origin != model.StageNew {
		t.Fatalf("unexpected origin %s %s", id, origin)
	}

	target := board.StageTarget(model.StageWon)
	ctrl.Over(target, 0)
	if src.moveCount() != 0 {
		t.Fatalf("no move may be issued while hovering")
	}

	result := ctrl.End(&target)
	if !result.Committed() || result.To != model.StageWon || result.From != model.StageNew {
		t.Fatalf("unexpected result %+v", result)
	}
	if err := <-result.Done; err != nil {
		t.Fatalf("move: %v", err)
	}
	if src.moveCount() != 1 {
		t.Fatalf("expected exactly one move, got %d", src.moveCount())
	}
	if ctrl.State() != Idle || b.Mode() != board.Synced {
		t.Fatalf("expected idle and synced after end")
	}
	if stage, _ := b.StageOf("a"); stage != model.StageWon {
		t.Fatalf("expected a in won after rebuild, got %s", stage)
	}
	if id, origin := ctrl.Origin(); id != "" || origin != "" {
		t.Fatalf("origin must be cleared")
	}
}

func TestEndInOriginStageDoesNotPersist(t *testing.T) {
	ctrl, b, src := newTestController()

	if err := ctrl.Start(lead(t, b, "a")); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.Step(1)
	if got := b.Column(model.StageNew); got[1].ID != "a" {
		t.Fatalf("expected cosmetic reorder while dragging")
	}

	over := board.Over{ID: "b", Top: 0, Height: 4}
	result := ctrl.End(&over)
	if result.State != Cancelled || result.Done != nil {
		t.Fatalf("expected cancelled gesture, got %+v", result)
	}
	if src.moveCount() != 0 {
		t.Fatalf("same stage gesture must not persist")
	}
	if got := b.Column(model.StageNew); got[0].ID != "a" {
		t.Fatalf("cosmetic order must be discarded")
	}
}

func TestEndWithoutTargetCancels(t *testing.T) {
	ctrl, b, src := newTestController()

	if err := ctrl.Start(lead(t, b, "c")); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.Over(board.StageTarget(model.StageMeeting), 0)
	result := ctrl.End(nil)
	if result.State != Cancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
	if src.moveCount() != 0 {
		t.Fatalf("cancel must not persist")
	}
	if stage, _ := b.StageOf("c"); stage != model.StageContacted {
		t.Fatalf("expected c back in contacted, got %s", stage)
	}
}

func TestOptimisticLeadIsNotDraggable(t *testing.T) {
	ctrl, b, _ := newTestController()

	if err := ctrl.Start(lead(t, b, "p")); err != ErrNotDraggable {
		t.Fatalf("expected ErrNotDraggable, got %v", err)
	}
	if ctrl.State() != Idle || b.Mode() != board.Synced {
		t.Fatalf("rejected start must leave the board synced")
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	ctrl, b, _ := newTestController()

	if err := ctrl.Start(lead(t, b, "a")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctrl.Start(lead(t, b, "b")); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ctrl, b, src := newTestController()

	ctrl.Cancel()
	if err := ctrl.Start(lead(t, b, "a")); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.Over(board.StageTarget(model.StageWon), 0)
	ctrl.Cancel()
	ctrl.Cancel()

	if ctrl.State() != Idle || b.Mode() != board.Synced {
		t.Fatalf("expected idle and synced")
	}
	if src.moveCount() != 0 {
		t.Fatalf("cancel must not persist")
	}
	if result := ctrl.End(nil); result.State != Idle {
		t.Fatalf("end after cancel must be a no-op")
	}
}

func TestPointerSensorShortPressIsClick(t *testing.T) {
	ctrl, b, src := newTestController()
	pointer := NewPointerSensor(ctrl, grid{b})

	pointer.Press(lead(t, b, "a"), 2, 1)
	if pointer.Motion(5, 3) {
		t.Fatalf("motion under the threshold must not drag")
	}
	release := pointer.Release(5, 3)
	if !release.Click || release.Lead.ID != "a" {
		t.Fatalf("expected click on a, got %+v", release)
	}
	if ctrl.State() != Idle || src.moveCount() != 0 {
		t.Fatalf("click must not start a drag")
	}
}

func TestPointerSensorDragAcrossColumns(t *testing.T) {
	ctrl, b, src := newTestController()
	pointer := NewPointerSensor(ctrl, grid{b})

	pointer.Press(lead(t, b, "a"), 2, 1)
	if !pointer.Motion(12, 1) {
		t.Fatalf("expected move into contacted column")
	}
	if ctrl.State() != Active {
		t.Fatalf("expected active drag after threshold")
	}
	if got := b.Column(model.StageContacted); got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("expected a above c, got %v", got)
	}

	release := pointer.Release(12, 1)
	if release.Click || !release.Result.Committed() {
		t.Fatalf("expected commit, got %+v", release)
	}
	if release.Result.To != model.StageContacted || src.moveCount() != 1 {
		t.Fatalf("expected one move to contacted")
	}
}

func TestPointerSensorResetCancelsDrag(t *testing.T) {
	ctrl, b, src := newTestController()
	pointer := NewPointerSensor(ctrl, grid{b})

	pointer.Press(lead(t, b, "a"), 2, 1)
	pointer.Motion(12, 1)
	pointer.Reset()

	if pointer.Pressed() || ctrl.State() != Idle {
		t.Fatalf("reset should end the gesture")
	}
	if got := b.Column(model.StageNew); len(got) != 3 || got[0].ID != "a" {
		t.Fatalf("card should be back in its column, got %v", got)
	}
	if src.moveCount() != 0 {
		t.Fatalf("reset must not persist")
	}

	pointer.Reset()
	if ctrl.State() != Idle {
		t.Fatalf("second reset should be a no-op")
	}
}

func TestPointerSensorIgnoresOptimisticLead(t *testing.T) {
	ctrl, b, _ := newTestController()
	pointer := NewPointerSensor(ctrl, grid{b})

	pointer.Press(lead(t, b, "p"), 2, 8)
	pointer.Motion(40, 8)
	if ctrl.State() != Idle || pointer.Pressed() {
		t.Fatalf("optimistic lead must not be dragged")
	}
}

func TestTouchSensorNeedsHold(t *testing.T) {
	ctrl, b, src := newTestController()
	touch := NewTouchSensor(ctrl, grid{b})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	touch.Press(lead(t, b, "a"), 2, 1, start)
	touch.Motion(9, 1, start.Add(100*time.Millisecond))
	if ctrl.State() != Idle {
		t.Fatalf("drift before the delay must abort")
	}
	if release := touch.Release(9, 1); release.Click {
		t.Fatalf("aborted press is not a tap")
	}

	touch.Press(lead(t, b, "a"), 2, 1, start)
	if touch.Hold(start.Add(200 * time.Millisecond)) {
		t.Fatalf("hold shorter than the delay must not activate")
	}
	touch.Motion(4, 2, start.Add(240*time.Millisecond))
	if !touch.Hold(start.Add(260 * time.Millisecond)) {
		t.Fatalf("expected activation after the delay")
	}
	touch.Motion(22, 0, start.Add(300*time.Millisecond))
	release := touch.Release(22, 0)
	if !release.Result.Committed() || release.Result.To != model.StageResponsible {
		t.Fatalf("expected commit to responsible, got %+v", release.Result)
	}
	if src.moveCount() != 1 {
		t.Fatalf("expected one move")
	}
}

func TestKeyboardSensorSteps(t *testing.T) {
	ctrl, b, src := newTestController()
	keys := NewKeyboardSensor(ctrl)

	if keys.Right() {
		t.Fatalf("steps without a pick up must be ignored")
	}
	if err := keys.PickUp(lead(t, b, "b")); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if keys.Left() {
		t.Fatalf("cannot step left of the first stage")
	}
	keys.Right()
	keys.Right()
	if got := b.Column(model.StageResponsible); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected b in responsible, got %v", got)
	}
	keys.Left()
	if got := b.Column(model.StageContacted); got[len(got)-1].ID != "b" {
		t.Fatalf("keyboard step must append, got %v", got)
	}
	if !keys.Up() {
		t.Fatalf("expected cosmetic step up")
	}

	result := keys.Drop()
	if !result.Committed() || result.To != model.StageContacted {
		t.Fatalf("expected commit to contacted, got %+v", result)
	}
	if src.moveCount() != 1 {
		t.Fatalf("expected one move, got %d", src.moveCount())
	}

	if err := keys.PickUp(lead(t, b, "a")); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	keys.Right()
	keys.Cancel()
	if src.moveCount() != 1 {
		t.Fatalf("cancel must not persist")
	}
	if result := keys.Drop(); result.State != Idle {
		t.Fatalf("drop after cancel must be a no-op")
	}
}

func TestRealtimeUpdateDuringDragKeepsCardInPlace(t *testing.T) {
	sqlDB, err := db.Open(db.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sqlDB.Close()
	hub := gateway.NewHub()
	st := store.New(db.NewGateway(sqlDB, db.SQLite, hub, nil), store.Options{})
	if err := st.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer st.Close()

	var ids []string
	for _, name := range []string{"Ana", "Bruno", "Carla"} {
		_, done := st.Create(model.LeadInput{Name: name}, "")
		if err := <-done; err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		ids = append(ids, st.Snapshot()[0].ID)
	}
	carla, bruno := ids[2], ids[1]

	b := board.New(st)
	cancel := st.Watch(func() { b.Refresh() })
	defer cancel()
	ctrl := New(b, st)

	if err := ctrl.Start(lead(t, b, carla)); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.Over(board.StageTarget(model.StageMeeting), 0)

	err = hub.Publish(context.Background(), gateway.Change{Type: gateway.ChangeUpdate, Table: gateway.TableLeads, New: gateway.Row{
		"id": bruno, "status": string(model.StageMeeting),
	}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := b.Column(model.StageMeeting); len(got) != 1 || got[0].ID != carla {
		t.Fatalf("dragged card must not move during the gesture, got %v", got)
	}

	target := board.StageTarget(model.StageMeeting)
	result := ctrl.End(&target)
	if err := <-result.Done; err != nil {
		t.Fatalf("move: %v", err)
	}
	meeting := b.Column(model.StageMeeting)
	if len(meeting) != 2 {
		t.Fatalf("expected both leads in meeting after the drag, got %d", len(meeting))
	}
	moved, _ := st.Lead(carla)
	if moved.Status != model.StageMeeting {
		t.Fatalf("expected store to hold the move, got %s", moved.Status)
	}
}
