package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/config"
	"github.com/Joseda-hg/lazycrm/internal/drag"
	"github.com/Joseda-hg/lazycrm/internal/model"
	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
)

type formKind int

const (
	formLead formKind = iota
	formAgentLead
	formSchedule
)

type formField struct {
	Label string
	Value string
	// Options turns the field into a picker cycled with space and arrows.
	Options []string
}

type formState struct {
	kind     formKind
	leadID   string
	original model.Lead
	fields   []formField
	index    int
	// optionIDs maps the lead picker labels to agent lead ids.
	optionIDs map[string]string
}

type formEditor struct {
	ui *UI
}

const (
	fieldName = iota
	fieldCompany
	fieldPhone
	fieldEmail
	fieldResponsibleName
	fieldResponsiblePhone
	fieldOrigin
	fieldNextAction
	// fieldExtra is the initial note when creating and the stage when editing.
	fieldExtra
)

const scheduleLayout = "2006-01-02 15:04"

func stageLabels() []string {
	labels := make([]string, 0, len(model.Stages))
	for _, info := range model.Stages {
		labels = append(labels, info.Label)
	}
	return labels
}

func stageByLabel(label string) (model.Stage, bool) {
	for _, info := range model.Stages {
		if info.Label == label {
			return info.ID, true
		}
	}
	return "", false
}

func buildLeadFields(lead *model.Lead) []formField {
	fields := []formField{
		{Label: "Nome"},
		{Label: "Empresa"},
		{Label: "Telefone"},
		{Label: "Email"},
		{Label: "Responsável"},
		{Label: "Tel. Responsável"},
		{Label: "Origem"},
		{Label: "Próxima ação"},
	}
	if lead == nil {
		return append(fields, formField{Label: "Nota inicial"})
	}

	fields[fieldName].Value = lead.Name
	fields[fieldCompany].Value = lead.Company
	fields[fieldPhone].Value = lead.Phone
	fields[fieldEmail].Value = lead.Email
	fields[fieldResponsibleName].Value = lead.ResponsibleName
	fields[fieldResponsiblePhone].Value = lead.ResponsiblePhone
	fields[fieldOrigin].Value = lead.Origin
	fields[fieldNextAction].Value = lead.NextAction
	return append(fields, formField{Label: "Etapa", Value: lead.Status.Label(), Options: stageLabels()})
}

func parseLeadInput(fields []formField) (model.LeadInput, string, error) {
	input := model.LeadInput{
		Name:             strings.TrimSpace(fields[fieldName].Value),
		Company:          strings.TrimSpace(fields[fieldCompany].Value),
		Phone:            strings.TrimSpace(fields[fieldPhone].Value),
		Email:            strings.TrimSpace(fields[fieldEmail].Value),
		ResponsibleName:  strings.TrimSpace(fields[fieldResponsibleName].Value),
		ResponsiblePhone: strings.TrimSpace(fields[fieldResponsiblePhone].Value),
		Origin:           strings.TrimSpace(fields[fieldOrigin].Value),
		NextAction:       strings.TrimSpace(fields[fieldNextAction].Value),
	}
	if input.Name == "" {
		return model.LeadInput{}, "", errors.New("Nome é obrigatório")
	}
	return input, strings.TrimSpace(fields[fieldExtra].Value), nil
}

// parseLeadPatch returns only the fields that differ from original.
func parseLeadPatch(fields []formField, original model.Lead) (model.LeadPatch, error) {
	input, _, err := parseLeadInput(fields)
	if err != nil {
		return model.LeadPatch{}, err
	}

	var patch model.LeadPatch
	set := func(target **string, value, current string) {
		if value != current {
			v := value
			*target = &v
		}
	}
	set(&patch.Name, input.Name, original.Name)
	set(&patch.Company, input.Company, original.Company)
	set(&patch.Phone, input.Phone, original.Phone)
	set(&patch.Email, input.Email, original.Email)
	set(&patch.ResponsibleName, input.ResponsibleName, original.ResponsibleName)
	set(&patch.ResponsiblePhone, input.ResponsiblePhone, original.ResponsiblePhone)
	set(&patch.Origin, input.Origin, original.Origin)
	set(&patch.NextAction, input.NextAction, original.NextAction)

	stage, ok := stageByLabel(fields[fieldExtra].Value)
	if !ok {
		return model.LeadPatch{}, fmt.Errorf("etapa inválida %q", fields[fieldExtra].Value)
	}
	if stage != original.Status {
		patch.Status = &stage
	}
	return patch, nil
}

func buildAgentLeadFields() []formField {
	return []formField{
		{Label: "Nome"},
		{Label: "Email"},
		{Label: "WhatsApp"},
		{Label: "Status", Value: model.AgentStatusOptions[0], Options: model.AgentStatusOptions},
		{Label: "Atendimento", Value: attendant(true), Options: []string{attendant(true), attendant(false)}},
	}
}

func parseAgentLeadInput(fields []formField) model.AgentLeadInput {
	return model.AgentLeadInput{
		Name:   strings.TrimSpace(fields[0].Value),
		Email:  strings.TrimSpace(fields[1].Value),
		Phone:  strings.TrimSpace(fields[2].Value),
		Status: fields[3].Value,
		IA:     fields[4].Value == attendant(true),
	}
}

func buildScheduleFields(leads []model.AgentLead) ([]formField, map[string]string) {
	options := make([]string, 0, len(leads))
	ids := make(map[string]string, len(leads))
	for _, lead := range leads {
		label := fmt.Sprintf("%s (%s)", lead.Name, lead.ID)
		options = append(options, label)
		ids[label] = lead.ID
	}
	picked := ""
	if len(options) > 0 {
		picked = options[0]
	}
	return []formField{
		{Label: "Lead", Value: picked, Options: options},
		{Label: "Data (AAAA-MM-DD HH:MM)"},
		{Label: "Serviço"},
	}, ids
}

func parseScheduleInput(fields []formField, ids map[string]string) (model.ScheduleInput, error) {
	input := model.ScheduleInput{
		LeadID:  ids[fields[0].Value],
		Service: strings.TrimSpace(fields[2].Value),
	}
	if value := strings.TrimSpace(fields[1].Value); value != "" {
		start, err := time.ParseInLocation(scheduleLayout, value, time.Local)
		if err != nil {
			return model.ScheduleInput{}, errors.New("data inválida, use AAAA-MM-DD HH:MM")
		}
		input.Start = start
	}
	return input, nil
}

func (u *UI) add(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.cancelCarry()

	if u.view != config.ViewAgent {
		u.form = &formState{kind: formLead, fields: buildLeadFields(nil)}
		return nil
	}
	if u.agent == nil {
		return nil
	}
	if u.agentTab == config.TabSchedules {
		u.agentMu.Lock()
		fields, ids := buildScheduleFields(u.agentLeads)
		u.agentMu.Unlock()
		u.form = &formState{kind: formSchedule, fields: fields, optionIDs: ids}
		return nil
	}
	u.form = &formState{kind: formAgentLead, fields: buildAgentLeadFields()}
	return nil
}

func (u *UI) edit(gui *gocui.Gui, _ *gocui.View) error {
	if !u.kanbanActive() || u.carrying() {
		return nil
	}
	lead, ok := u.selectedLead()
	if !ok {
		return nil
	}
	if lead.Optimistic {
		u.setStatus(carryError(drag.ErrNotDraggable))
		return nil
	}
	u.form = &formState{kind: formLead, leadID: lead.ID, original: lead, fields: buildLeadFields(&lead)}
	return nil
}

func (u *UI) deleteLead(gui *gocui.Gui, _ *gocui.View) error {
	if !u.kanbanActive() || u.carrying() {
		return nil
	}
	lead, ok := u.selectedLead()
	if !ok {
		return nil
	}
	u.confirmID = lead.ID
	u.setStatus(fmt.Sprintf("Excluir %s? y confirma, esc cancela", lead.Name))
	return nil
}

func (u *UI) confirmDelete(gui *gocui.Gui, _ *gocui.View) error {
	if u.confirmID == "" || u.inputActive() {
		return nil
	}
	id := u.confirmID
	u.confirmID = ""
	u.setStatus("")
	u.await("excluir lead", u.store.Delete(id))
	u.board.Refresh()
	u.follow()
	return nil
}

func (u *UI) addNote(gui *gocui.Gui, _ *gocui.View) error {
	if !u.kanbanActive() || u.carrying() {
		return nil
	}
	lead, ok := u.selectedLead()
	if !ok {
		return nil
	}
	id := lead.ID
	u.prompt = &promptState{
		title: "Nova nota: " + lead.Name,
		onSubmit: func(content string) error {
			if content == "" {
				return nil
			}
			u.await("salvar nota", u.store.AddNote(id, content))
			return nil
		},
	}
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	if u.form == nil {
		return nil
	}

	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := min(len(u.form.fields)+2, max(8, maxY-2))
	x0 := (maxX - width) / 2
	y0 := max((maxY-height)/2, 0)

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	switch {
	case u.form.kind == formAgentLead:
		view.Title = "Novo Lead (Agente IA)"
	case u.form.kind == formSchedule:
		view.Title = "Novo Agendamento"
	case u.form.leadID != "":
		view.Title = "Editar Lead"
	default:
		view.Title = "Novo Lead"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) submitFormNow(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if err := u.submitForm(); err != nil {
		u.setStatus(err.Error())
		return nil
	}
	u.setStatus("")
	return u.cancelForm(gui, view)
}

func (u *UI) submitForm() error {
	form := u.form
	switch form.kind {
	case formAgentLead:
		if _, err := u.agent.CreateLead(context.Background(), parseAgentLeadInput(form.fields)); err != nil {
			return err
		}
		u.refreshAgent()
	case formSchedule:
		input, err := parseScheduleInput(form.fields, form.optionIDs)
		if err != nil {
			return err
		}
		if _, err := u.agent.CreateSchedule(context.Background(), input); err != nil {
			return err
		}
		u.refreshAgent()
	default:
		if form.leadID == "" {
			input, note, err := parseLeadInput(form.fields)
			if err != nil {
				return err
			}
			tempID, done := u.store.Create(input, note)
			u.await("criar lead", done)
			u.selected = tempID
		} else {
			patch, err := parseLeadPatch(form.fields, form.original)
			if err != nil {
				return err
			}
			if !patch.Empty() {
				u.await("salvar lead", u.store.Update(form.leadID, patch))
			}
		}
		u.board.Refresh()
		u.follow()
	}
	return nil
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.form = nil
	if gui != nil {
		_ = gui.DeleteView(viewForm)
	}
	return nil
}

func (u *UI) nextFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		value := field.Value
		if len(field.Options) > 0 {
			value = fmt.Sprintf("< %s >", value)
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, value)
	}
	field := u.form.fields[u.form.index]
	cursorX := len([]rune(field.Label)) + len([]rune(field.Value)) + 4
	view.SetCursor(cursorX, u.form.index)
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if len(field.Options) > 0 {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			field.Value = cycle(field.Options, field.Value, 1)
		case gocui.KeyArrowLeft:
			field.Value = cycle(field.Options, field.Value, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}
