package model

import (
	"sort"
	"time"
)

type Stage string

const (
	StageNew          Stage = "NOVO_LEAD"
	StageContacted    Stage = "CONTATO_REALIZADO"
	StageResponsible  Stage = "CONTATO_RESPONSAVEL"
	StageMeeting      Stage = "REUNIAO_AGENDADA"
	StageNegotiation  Stage = "EM_NEGOCIACAO"
	StageWon          Stage = "GANHO"
	StageDisqualified Stage = "DESQUALIFICADO"
)

type StageInfo struct {
	ID     Stage  `json:"id"`
	Label  string `json:"label"`
	Accent string `json:"accent"`
}

// Stages is the pipeline in board and funnel order.
var Stages = []StageInfo{
	{ID: StageNew, Label: "Novo Lead", Accent: "border-blue-400"},
	{ID: StageContacted, Label: "1º Contato", Accent: "border-indigo-400"},
	{ID: StageResponsible, Label: "Com Responsável", Accent: "border-purple-400"},
	{ID: StageMeeting, Label: "Reunião Agendada", Accent: "border-orqio-orange"},
	{ID: StageNegotiation, Label: "Em Negociação", Accent: "border-yellow-500"},
	{ID: StageWon, Label: "Ganho", Accent: "border-green-500"},
	{ID: StageDisqualified, Label: "Desqualificado", Accent: "border-red-400"},
}

func ParseStage(value string) (Stage, bool) {
	for _, info := range Stages {
		if string(info.ID) == value {
			return info.ID, true
		}
	}
	return "", false
}

func (s Stage) Valid() bool {
	return s.Index() >= 0
}

func (s Stage) Index() int {
	for i, info := range Stages {
		if info.ID == s {
			return i
		}
	}
	return -1
}

func (s Stage) Label() string {
	if i := s.Index(); i >= 0 {
		return Stages[i].Label
	}
	return string(s)
}

type Note struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Optimistic bool      `json:"isOptimistic,omitempty"`
}

type Lead struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Company          string    `json:"company"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	Status           Stage     `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	ResponsibleName  string    `json:"responsibleName,omitempty"`
	ResponsiblePhone string    `json:"responsiblePhone,omitempty"`
	Origin           string    `json:"origin,omitempty"`
	Owner            string    `json:"owner,omitempty"`
	LastInteraction  time.Time `json:"lastInteraction"`
	NextAction       string    `json:"nextAction,omitempty"`
	Notes            []Note    `json:"notes"`

	// Optimistic is set while the insert is unconfirmed. Never persisted.
	Optimistic bool `json:"isOptimistic,omitempty"`
}

// Clone returns a copy that shares no slices with l.
func (l Lead) Clone() Lead {
	out := l
	out.Notes = append([]Note(nil), l.Notes...)
	if out.Notes == nil {
		out.Notes = []Note{}
	}
	return out
}

// SortNotes orders notes newest first.
func SortNotes(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})
}

// LeadInput carries the fields a user supplies when creating a lead.
type LeadInput struct {
	Name             string `json:"name"`
	Company          string `json:"company"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	ResponsibleName  string `json:"responsibleName"`
	ResponsiblePhone string `json:"responsiblePhone"`
	Origin           string `json:"origin"`
	NextAction       string `json:"nextAction"`

	// Owner overrides the store's user for this lead and its initial note.
	Owner string `json:"-"`
}

// LeadPatch is a partial update. Nil fields are left untouched.
type LeadPatch struct {
	Name             *string    `json:"name,omitempty"`
	Company          *string    `json:"company,omitempty"`
	Phone            *string    `json:"phone,omitempty"`
	Email            *string    `json:"email,omitempty"`
	Status           *Stage     `json:"status,omitempty"`
	ResponsibleName  *string    `json:"responsibleName,omitempty"`
	ResponsiblePhone *string    `json:"responsiblePhone,omitempty"`
	Origin           *string    `json:"origin,omitempty"`
	NextAction       *string    `json:"nextAction,omitempty"`
	LastInteraction  *time.Time `json:"lastInteraction,omitempty"`
}

func (p LeadPatch) Empty() bool {
	return p.Name == nil && p.Company == nil && p.Phone == nil && p.Email == nil &&
		p.Status == nil && p.ResponsibleName == nil && p.ResponsiblePhone == nil &&
		p.Origin == nil && p.NextAction == nil && p.LastInteraction == nil
}

// Apply writes the set fields of p onto lead.
func (p LeadPatch) Apply(lead *Lead) {
	if p.Name != nil {
		lead.Name = *p.Name
	}
	if p.Company != nil {
		lead.Company = *p.Company
	}
	if p.Phone != nil {
		lead.Phone = *p.Phone
	}
	if p.Email != nil {
		lead.Email = *p.Email
	}
	if p.Status != nil {
		lead.Status = *p.Status
	}
	if p.ResponsibleName != nil {
		lead.ResponsibleName = *p.ResponsibleName
	}
	if p.ResponsiblePhone != nil {
		lead.ResponsiblePhone = *p.ResponsiblePhone
	}
	if p.Origin != nil {
		lead.Origin = *p.Origin
	}
	if p.NextAction != nil {
		lead.NextAction = *p.NextAction
	}
	if p.LastInteraction != nil {
		lead.LastInteraction = *p.LastInteraction
	}
}

// PatchFrom captures the fields of lead that p would overwrite, so the
// result can be applied later to undo p.
func (p LeadPatch) PatchFrom(lead Lead) LeadPatch {
	var undo LeadPatch
	if p.Name != nil {
		undo.Name = ptr(lead.Name)
	}
	if p.Company != nil {
		undo.Company = ptr(lead.Company)
	}
	if p.Phone != nil {
		undo.Phone = ptr(lead.Phone)
	}
	if p.Email != nil {
		undo.Email = ptr(lead.Email)
	}
	if p.Status != nil {
		undo.Status = ptr(lead.Status)
	}
	if p.ResponsibleName != nil {
		undo.ResponsibleName = ptr(lead.ResponsibleName)
	}
	if p.ResponsiblePhone != nil {
		undo.ResponsiblePhone = ptr(lead.ResponsiblePhone)
	}
	if p.Origin != nil {
		undo.Origin = ptr(lead.Origin)
	}
	if p.NextAction != nil {
		undo.NextAction = ptr(lead.NextAction)
	}
	if p.LastInteraction != nil {
		undo.LastInteraction = ptr(lead.LastInteraction)
	}
	return undo
}

func ptr[T any](v T) *T {
	return &v
}
