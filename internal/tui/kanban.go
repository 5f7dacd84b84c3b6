package tui

import (
	"errors"
	"fmt"

	"github.com/Joseda-hg/lazycrm/internal/board"
	"github.com/Joseda-hg/lazycrm/internal/config"
	"github.com/Joseda-hg/lazycrm/internal/drag"
	"github.com/Joseda-hg/lazycrm/internal/model"
	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
)

var stageColors = []gocui.Attribute{
	gocui.ColorBlue,
	gocui.ColorCyan,
	gocui.ColorMagenta,
	gocui.ColorYellow,
	gocui.ColorYellow,
	gocui.ColorGreen,
	gocui.ColorRed,
}

func columnView(index int) string {
	return fmt.Sprintf("column-%d", index)
}

func (u *UI) layoutKanban(gui *gocui.Gui, maxX, top, bottom int) error {
	height := bottom - top + 1
	detailHeight := 0
	if height >= 16 {
		detailHeight = min(9, height/3)
	}
	columnsBottom := bottom - detailHeight

	columns := u.board.Columns()
	width := max(maxX/len(columns), 12)
	for i, column := range columns {
		x0 := i * width
		x1 := x0 + width - 1
		if i == len(columns)-1 {
			x1 = max(maxX-1, x0+1)
		}

		view, err := gui.SetView(columnView(i), x0, top, x1, columnsBottom, 0)
		if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		applyViewStyle(view, i == u.column)
		view.Title = fmt.Sprintf("%s (%d)", column.Stage.Label, len(column.Leads))
		if i != u.column {
			view.TitleColor = stageColors[i%len(stageColors)]
		}

		u.rects[i] = rect{x0: x0, y0: top, x1: x1, y1: columnsBottom, oy: u.rects[i].oy}
		u.renderColumn(view, i, column.Leads, x1-x0-1)
	}

	if detailHeight > 0 {
		detail, err := gui.SetView(viewDetail, 0, columnsBottom+1, maxX-1, bottom, 0)
		if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		applyViewStyle(detail, false)
		detail.Title = "Detalhes"
		detail.Wrap = true
		u.renderDetail(detail)
	} else {
		_ = gui.DeleteView(viewDetail)
	}

	if !u.inputActive() {
		_, _ = gui.SetCurrentView(columnView(u.column))
	}
	return nil
}

func (u *UI) deleteKanban(gui *gocui.Gui) {
	for i := range model.Stages {
		_ = gui.DeleteView(columnView(i))
	}
	_ = gui.DeleteView(viewDetail)
}

func (u *UI) renderColumn(view *gocui.View, index int, leads []model.Lead, width int) {
	view.Clear()
	active := u.board.Active()
	for i, lead := range leads {
		marker := " "
		switch {
		case lead.ID == active:
			marker = "*"
		case index == u.column && i == u.row:
			marker = ">"
		}
		for _, line := range formatCard(lead, lead.ID == active, width-2) {
			fmt.Fprintf(view, "%s %s\n", marker, line)
		}
		fmt.Fprintln(view)
	}

	r := &u.rects[index]
	if index == u.column {
		inner := max(r.y1-r.y0-1, cardLines)
		top := u.row * cardLines
		if top < r.oy {
			r.oy = top
		}
		if top+cardLines > r.oy+inner {
			r.oy = top + cardLines - inner
		}
	}
	r.oy = max(min(r.oy, max(len(leads)*cardLines-1, 0)), 0)
	view.SetOrigin(0, r.oy)
}

func (u *UI) renderDetail(view *gocui.View) {
	view.Clear()
	lead, ok := u.selectedLead()
	if !ok {
		fmt.Fprint(view, "Nenhum lead selecionado")
		return
	}
	for _, line := range formatDetail(lead) {
		fmt.Fprintln(view, line)
	}
}

// follow keeps the cursor on the selected lead as it moves between columns,
// falling back to the nearest card when it is gone.
func (u *UI) follow() {
	if u.selected != "" {
		if _, stage, idx, ok := u.board.Find(u.selected); ok {
			u.column = stage.Index()
			u.row = idx
			return
		}
	}
	u.selectAt(u.column, u.row)
}

func (u *UI) selectAt(column, row int) {
	u.column = min(max(column, 0), len(model.Stages)-1)
	leads := u.board.Column(model.Stages[u.column].ID)
	if len(leads) == 0 {
		u.row = 0
		u.selected = ""
		return
	}
	u.row = min(max(row, 0), len(leads)-1)
	u.selected = leads[u.row].ID
}

func (u *UI) selectedLead() (model.Lead, bool) {
	if u.selected == "" {
		return model.Lead{}, false
	}
	lead, _, _, ok := u.board.Find(u.selected)
	return lead, ok
}

func (u *UI) kanbanActive() bool {
	return u.view == config.ViewKanban && !u.inputActive() && u.confirmID == ""
}

func (u *UI) carrying() bool {
	return u.drag.State() == drag.Active
}

func (u *UI) left(gui *gocui.Gui, _ *gocui.View) error {
	return u.horizontal(-1)
}

func (u *UI) right(gui *gocui.Gui, _ *gocui.View) error {
	return u.horizontal(1)
}

func (u *UI) horizontal(delta int) error {
	if !u.kanbanActive() {
		return nil
	}
	if u.carrying() {
		if delta < 0 {
			u.keys.Left()
		} else {
			u.keys.Right()
		}
		u.follow()
		return nil
	}
	u.selectAt(u.column+delta, u.row)
	return nil
}

func (u *UI) up(gui *gocui.Gui, _ *gocui.View) error {
	return u.vertical(-1)
}

func (u *UI) down(gui *gocui.Gui, _ *gocui.View) error {
	return u.vertical(1)
}

func (u *UI) vertical(delta int) error {
	if !u.kanbanActive() {
		return nil
	}
	if u.carrying() {
		if delta < 0 {
			u.keys.Up()
		} else {
			u.keys.Down()
		}
		u.follow()
		return nil
	}
	u.selectAt(u.column, u.row+delta)
	return nil
}

// toggleCarry picks up the selected card, or drops the one being carried.
func (u *UI) toggleCarry(gui *gocui.Gui, _ *gocui.View) error {
	if !u.kanbanActive() {
		return nil
	}
	if u.carrying() {
		u.finishDrop(u.keys.Drop())
		return nil
	}

	lead, ok := u.selectedLead()
	if !ok {
		return nil
	}
	if err := u.keys.PickUp(lead); err != nil {
		u.setStatus(carryError(err))
		return nil
	}
	u.setStatus(fmt.Sprintf("Movendo %s: h/l escolhe a etapa, space solta, esc cancela", lead.Name))
	return nil
}

func (u *UI) finishDrop(result drag.Result) {
	if result.Committed() {
		u.setStatus(fmt.Sprintf("Movido para %s", result.To.Label()))
		u.await("mover lead", result.Done)
	} else {
		u.setStatus("")
	}
	u.board.Refresh()
	u.follow()
}

// cancelCarry drops any gesture in progress without persisting it.
func (u *UI) cancelCarry() bool {
	carrying := u.carrying()
	u.pointer.Reset()
	if carrying {
		u.keys.Cancel()
		u.follow()
	}
	return carrying
}

func carryError(err error) string {
	switch {
	case errors.Is(err, drag.ErrNotDraggable):
		return "Aguarde: o lead ainda está sendo salvo"
	case errors.Is(err, drag.ErrBusy):
		return "Já existe um card em movimento"
	default:
		return err.Error()
	}
}

// onColumnClick selects the card under the pointer. Clicking the selected
// card again picks it up; the next click drops it over whatever is there.
func (u *UI) onColumnClick(index, x, y int) error {
	if u.view != config.ViewKanban || u.inputActive() {
		return nil
	}
	r := u.rects[index]
	sx := r.x0 + 1 + x
	sy := r.y0 + 1 + y - r.oy

	if u.pointer.Pressed() {
		u.pointer.Motion(sx, sy)
		release := u.pointer.Release(sx, sy)
		if !release.Click {
			u.finishDrop(release.Result)
			return nil
		}
		u.setStatus("")
	}

	over, ok := u.HitTest(sx, sy)
	if !ok {
		return nil
	}
	if _, sentinel := model.ParseStage(over.ID); sentinel {
		u.selectAt(index, len(u.board.Column(model.Stages[index].ID)))
		return nil
	}
	lead, _, _, found := u.board.Find(over.ID)
	if !found {
		return nil
	}
	if lead.ID != u.selected {
		u.selected = lead.ID
		u.follow()
		return nil
	}
	if lead.Optimistic {
		u.setStatus(carryError(drag.ErrNotDraggable))
		return nil
	}
	u.pointer.Press(lead, sx, sy)
	u.setStatus(fmt.Sprintf("Movendo %s: clique na etapa de destino, esc cancela", lead.Name))
	return nil
}

// HitTest maps a screen cell to the card under it, or to the column itself
// below its last card.
func (u *UI) HitTest(x, y int) (board.Over, bool) {
	for i, r := range u.rects {
		if r.x1 <= r.x0 || x < r.x0 || x > r.x1 || y < r.y0 || y > r.y1 {
			continue
		}
		stage := model.Stages[i].ID
		leads := u.board.Column(stage)
		row := (y - r.y0 - 1 + r.oy) / cardLines
		if y <= r.y0 || row < 0 || row >= len(leads) {
			return board.StageTarget(stage), true
		}
		return board.Over{
			ID:     leads[row].ID,
			Top:    r.y0 + 1 + row*cardLines - r.oy,
			Height: cardLines,
		}, true
	}
	return board.Over{}, false
}
