package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/Joseda-hg/lazycrm/internal/agent"
	"github.com/Joseda-hg/lazycrm/internal/board"
	"github.com/Joseda-hg/lazycrm/internal/config"
	"github.com/Joseda-hg/lazycrm/internal/drag"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/Joseda-hg/lazycrm/internal/store"
	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
)

const (
	viewHeader = "header"
	viewFooter = "footer"
	viewDetail = "detail"
	viewPanel  = "panel"
	viewPrompt = "prompt"
	viewForm   = "form"
	viewHelp   = "help"
)

type Options struct {
	Store *store.Store
	// Agent and Knowledge are optional; the agent view shows a notice
	// without them.
	Agent     *agent.Service
	Knowledge *agent.KnowledgeBase
	Prefs     *config.Prefs
	Logger    *log.Logger
}

type UI struct {
	store     *store.Store
	board     *board.Board
	drag      *drag.Controller
	keys      *drag.KeyboardSensor
	pointer   *drag.PointerSensor
	agent     *agent.Service
	knowledge *agent.KnowledgeBase
	prefs     *config.Prefs
	logger    *log.Logger
	gui       *gocui.Gui

	view     string
	agentTab string

	column   int
	row      int
	selected string
	rects    []rect

	agentMu    sync.Mutex
	agentLeads []model.AgentLead
	schedules  []model.Schedule
	metrics    model.AgentMetrics

	form       *formState
	formEditor *formEditor
	prompt     *promptState
	confirmID  string
	helpActive bool

	statusMu sync.Mutex
	status   string
}

type rect struct {
	x0, y0, x1, y1 int
	oy             int
}

type promptState struct {
	title    string
	initial  string
	onSubmit func(value string) error
}

func newUI(opts Options) *UI {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	b := board.New(opts.Store)
	ctrl := drag.New(b, opts.Store)
	u := &UI{
		store:     opts.Store,
		board:     b,
		drag:      ctrl,
		keys:      drag.NewKeyboardSensor(ctrl),
		agent:     opts.Agent,
		knowledge: opts.Knowledge,
		prefs:     opts.Prefs,
		logger:    logger,
		view:      config.ViewKanban,
		agentTab:  config.TabDashboard,
		rects:     make([]rect, len(model.Stages)),
	}
	u.pointer = drag.NewPointerSensor(ctrl, u)
	u.formEditor = &formEditor{ui: u}
	if u.prefs != nil {
		u.view = u.prefs.CurrentView()
		u.agentTab = u.prefs.AgentTab()
	}
	return u
}

func Run(opts Options) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(opts)
	ui.gui = gui
	gui.Mouse = true

	stop := opts.Store.Watch(func() {
		gui.Update(func(*gocui.Gui) error {
			ui.board.Refresh()
			ui.follow()
			return nil
		})
	})
	defer stop()

	if ui.agent != nil {
		unwatch, err := ui.agent.WatchLeads(func(leads []model.AgentLead) {
			ui.agentMu.Lock()
			ui.agentLeads = leads
			ui.agentMu.Unlock()
			gui.Update(func(*gocui.Gui) error { return nil })
		})
		if err != nil {
			ui.logger.Printf("[tui] watch agent leads: %v", err)
		} else {
			defer unwatch()
		}
		if ui.view == config.ViewAgent {
			ui.refreshAgent()
		}
	}

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}

	if err := gui.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	global := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, u.quit},
		{'q', u.quit},
		{'1', u.showKanban},
		{'2', u.showDashboard},
		{'3', u.showAgent},
		{'[', u.prevTab},
		{']', u.nextTab},
		{'r', u.reload},
		{'/', u.startSearch},
		{'?', u.toggleHelp},
		{'a', u.add},
		{'e', u.edit},
		{'d', u.deleteLead},
		{'n', u.addNote},
		{'u', u.uploadKnowledge},
		{'y', u.confirmDelete},
		{gocui.KeySpace, u.toggleCarry},
		{gocui.KeyEsc, u.escape},
		{'h', u.left},
		{gocui.KeyArrowLeft, u.left},
		{'l', u.right},
		{gocui.KeyArrowRight, u.right},
		{'j', u.down},
		{gocui.KeyArrowDown, u.down},
		{'k', u.up},
		{gocui.KeyArrowUp, u.up},
	}
	for _, binding := range global {
		if err := gui.SetKeybinding("", binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	if err := gui.SetKeybinding(viewPrompt, gocui.KeyEnter, gocui.ModNone, u.submitPrompt); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewPrompt, gocui.KeyEsc, gocui.ModNone, u.cancelPrompt); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEnter, gocui.ModNone, u.submitFormNow); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyCtrlJ, gocui.ModNone, u.submitFormNow); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyTab, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyBacktab, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowDown, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowUp, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEsc, gocui.ModNone, u.cancelForm); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, gocui.KeyEsc, gocui.ModNone, u.closeHelp); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, '?', gocui.ModNone, u.closeHelp); err != nil {
		return err
	}

	for i := range model.Stages {
		index := i
		name := columnView(index)
		if err := gui.SetViewClickBinding(&gocui.ViewMouseBinding{ViewName: name, Key: gocui.MouseLeft, Handler: func(opts gocui.ViewMouseBindingOpts) error {
			return u.onColumnClick(index, opts.X, opts.Y)
		}}); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelUp, gocui.ModNone, u.scrollUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelDown, gocui.ModNone, u.scrollDown); err != nil {
			return err
		}
	}
	for _, name := range []string{viewPanel, viewDetail} {
		if err := gui.SetKeybinding(name, gocui.MouseWheelUp, gocui.ModNone, u.scrollUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelDown, gocui.ModNone, u.scrollDown); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	if u.view == config.ViewKanban {
		_ = gui.DeleteView(viewPanel)
		if err := u.layoutKanban(gui, maxX, bodyTop, bodyBottom); err != nil {
			return err
		}
	} else {
		u.deleteKanban(gui)
		panel, err := gui.SetView(viewPanel, 0, bodyTop, maxX-1, bodyBottom, 0)
		if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		applyViewStyle(panel, true)
		if u.view == config.ViewDashboard {
			panel.Title = "2 Dashboard"
			u.renderDashboard(panel, maxX-2)
		} else {
			panel.Title = "3 Agente IA"
			u.renderAgent(panel)
		}
		if gui.CurrentView() == nil || !u.inputActive() {
			_, _ = gui.SetCurrentView(viewPanel)
		}
	}

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)

	if u.prompt != nil {
		if err := u.showPrompt(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewPrompt)
	}

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if u.helpActive {
		if err := u.showHelp(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewHelp)
	}

	gui.Cursor = u.prompt != nil || u.form != nil
	return nil
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	tabs := make([]string, 0, len(config.Views))
	for i, name := range config.Views {
		label := fmt.Sprintf("%d %s", i+1, viewLabel(name))
		if name == u.view {
			label = "[" + label + "]"
		}
		tabs = append(tabs, label)
	}

	query := strings.TrimSpace(u.board.Query())
	if query == "" {
		query = "type / to search"
	}
	mode := "synced"
	if u.board.Mode() == board.Dragging {
		mode = "dragging"
	}
	fmt.Fprintf(view, "lazycrm | %s | Busca: %s | %s | %s", strings.Join(tabs, " "), query, mode, u.store.UserID())
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	switch u.view {
	case config.ViewKanban:
		fmt.Fprintln(view, "space pegar/soltar | h/l etapa | j/k card | esc cancelar | a novo | e editar | n nota | d excluir")
	case config.ViewAgent:
		fmt.Fprintln(view, "[ ] abas | a novo lead/agendamento | u enviar arquivo | r recarregar")
	default:
		fmt.Fprintln(view, "r recarregar")
	}
	fmt.Fprintln(view, "/ busca | 1-3 telas | ? ajuda | q sair")
	if status := u.statusText(); status != "" {
		fmt.Fprint(view, status)
	}
}

func viewLabel(name string) string {
	switch name {
	case config.ViewKanban:
		return "Kanban"
	case config.ViewDashboard:
		return "Dashboard"
	case config.ViewAgent:
		return "Agente IA"
	default:
		return name
	}
}

func (u *UI) showKanban(gui *gocui.Gui, _ *gocui.View) error {
	return u.switchView(gui, config.ViewKanban)
}

func (u *UI) showDashboard(gui *gocui.Gui, _ *gocui.View) error {
	return u.switchView(gui, config.ViewDashboard)
}

func (u *UI) showAgent(gui *gocui.Gui, _ *gocui.View) error {
	return u.switchView(gui, config.ViewAgent)
}

func (u *UI) switchView(gui *gocui.Gui, name string) error {
	if u.inputActive() || u.view == name {
		return nil
	}
	u.cancelCarry()
	u.view = name
	if u.prefs != nil {
		if err := u.prefs.SetCurrentView(name); err != nil {
			u.logger.Printf("[tui] save view: %v", err)
		}
	}
	if gui != nil {
		_ = gui.DeleteView(viewPanel)
	}
	if name == config.ViewAgent {
		u.refreshAgent()
	}
	return nil
}

func (u *UI) nextTab(gui *gocui.Gui, _ *gocui.View) error {
	return u.cycleTab(1)
}

func (u *UI) prevTab(gui *gocui.Gui, _ *gocui.View) error {
	return u.cycleTab(-1)
}

func (u *UI) cycleTab(delta int) error {
	if u.inputActive() || u.view != config.ViewAgent {
		return nil
	}
	u.agentTab = cycle(config.AgentTabs, u.agentTab, delta)
	if u.prefs != nil {
		if err := u.prefs.SetAgentTab(u.agentTab); err != nil {
			u.logger.Printf("[tui] save tab: %v", err)
		}
	}
	return nil
}

func (u *UI) reload(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.setStatus("")
	if u.view == config.ViewAgent {
		u.refreshAgent()
		return nil
	}
	go func() {
		if err := u.store.Load(context.Background()); err != nil {
			u.setStatus("Erro ao carregar leads: " + err.Error())
		}
	}()
	return nil
}

func (u *UI) startSearch(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.cancelCarry()
	u.prompt = &promptState{
		title:   "Buscar",
		initial: u.board.Query(),
		onSubmit: func(value string) error {
			u.board.SetQuery(value)
			u.follow()
			return nil
		},
	}
	return nil
}

func (u *UI) showPrompt(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(40, maxX/2)
	height := 3
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewPrompt, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
		view.Clear()
		fmt.Fprint(view, u.prompt.initial)
		view.SetCursor(len([]rune(u.prompt.initial)), 0)
	}
	view.Title = u.prompt.title
	view.Editable = true
	view.Editor = gocui.DefaultEditor
	_, _ = gui.SetCurrentView(viewPrompt)
	return nil
}

func (u *UI) submitPrompt(gui *gocui.Gui, view *gocui.View) error {
	if u.prompt == nil {
		return nil
	}
	value := ""
	if view != nil {
		value = strings.TrimSpace(view.Buffer())
	}
	prompt := u.prompt
	u.prompt = nil
	if gui != nil {
		_ = gui.DeleteView(viewPrompt)
	}
	if err := prompt.onSubmit(value); err != nil {
		u.setStatus(err.Error())
	}
	return nil
}

func (u *UI) cancelPrompt(gui *gocui.Gui, _ *gocui.View) error {
	u.prompt = nil
	if gui != nil {
		_ = gui.DeleteView(viewPrompt)
	}
	return nil
}

func (u *UI) escape(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if u.confirmID != "" {
		u.confirmID = ""
		u.setStatus("")
		return nil
	}
	if u.cancelCarry() {
		u.setStatus("Movimento cancelado")
	}
	return nil
}

func (u *UI) toggleHelp(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() && !u.helpActive {
		return nil
	}
	u.helpActive = !u.helpActive
	return nil
}

func (u *UI) closeHelp(gui *gocui.Gui, _ *gocui.View) error {
	u.helpActive = false
	if gui != nil {
		_ = gui.DeleteView(viewHelp)
	}
	return nil
}

func (u *UI) showHelp(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(64, maxX/2)
	height := 20
	x0 := (maxX - width) / 2
	y0 := max((maxY-height)/2, 0)

	view, err := gui.SetView(viewHelp, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Ajuda"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, helpText())
	_, _ = gui.SetCurrentView(viewHelp)
	return nil
}

func (u *UI) scrollUp(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() || view == nil {
		return nil
	}
	view.ScrollUp(1)
	return nil
}

func (u *UI) scrollDown(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() || view == nil {
		return nil
	}
	view.ScrollDown(1)
	return nil
}

// await reports a failed background write in the footer.
func (u *UI) await(what string, done <-chan error) {
	if done == nil {
		return
	}
	go func() {
		if err := <-done; err != nil {
			u.logger.Printf("[tui] %s: %v", what, err)
			u.setStatus(fmt.Sprintf("Erro ao %s: %v", what, err))
		}
	}()
}

func (u *UI) setStatus(status string) {
	u.statusMu.Lock()
	u.status = status
	u.statusMu.Unlock()
	if u.gui != nil {
		u.gui.Update(func(*gocui.Gui) error { return nil })
	}
}

func (u *UI) statusText() string {
	u.statusMu.Lock()
	defer u.statusMu.Unlock()
	return u.status
}

func (u *UI) inputActive() bool {
	return u.prompt != nil || u.form != nil || u.helpActive
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.cancelCarry()
	return gocui.ErrQuit
}

func helpText() string {
	return strings.Join([]string{
		"Telas:",
		"  1 Kanban | 2 Dashboard | 3 Agente IA | [ ] abas do agente",
		"",
		"Kanban:",
		"  h/l ou setas trocam de etapa | j/k trocam de card",
		"  space pega o card; h/l levam para outra etapa; space solta",
		"  esc cancela o movimento",
		"  clique no card e depois na coluna de destino para mover",
		"",
		"Leads:",
		"  a novo lead | e editar | n nova nota | d excluir (y confirma)",
		"",
		"Agente IA:",
		"  a novo lead (ou agendamento na aba Agendamentos)",
		"  u envia um arquivo para a base de conhecimento",
		"",
		"Outros:",
		"  / busca | r recarregar | ? ajuda | q sair",
	}, "\n")
}

func applyViewStyle(view *gocui.View, focused bool) {
	view.Frame = true
	view.Highlight = false
	if focused {
		view.FrameColor = gocui.ColorCyan
		view.TitleColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
		view.TitleColor = gocui.ColorDefault
	}
}

func cycle(order []string, current string, delta int) string {
	if len(order) == 0 {
		return ""
	}
	index := 0
	for i, value := range order {
		if value == current {
			index = i
			break
		}
	}
	index = (index + delta + len(order)) % len(order)
	return order[index]
}
