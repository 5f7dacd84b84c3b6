package model

import "time"

// AgentStage is the coarse column an agent conversation is filed under.
type AgentStage string

const (
	AgentFirstContact AgentStage = "primeiro_contato"
	AgentDisqualified AgentStage = "desqualificado"
	AgentCancelled    AgentStage = "cancelamento"
	AgentScheduled    AgentStage = "agendado"
)

type AgentStageInfo struct {
	ID    AgentStage `json:"id"`
	Label string     `json:"label"`
}

var AgentStages = []AgentStageInfo{
	{ID: AgentFirstContact, Label: "Primeiro Contato"},
	{ID: AgentDisqualified, Label: "Desqualificado"},
	{ID: AgentCancelled, Label: "Cancelamento"},
	{ID: AgentScheduled, Label: "Agendado"},
}

// AgentStatusOptions are the status strings offered when a lead is created
// by hand.
var AgentStatusOptions = []string{"Primeiro Contato", "Desqualificado", "Cancelamento", "Agendado"}

type AgentLead struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Status    string     `json:"status"`
	Stage     AgentStage `json:"stage"`
	CreatedAt time.Time  `json:"createdAt"`
	IA        bool       `json:"isIA"`
}

type AgentLeadInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	IA     bool   `json:"ia"`
	Status string `json:"status"`
}

type Schedule struct {
	ID       string    `json:"id"`
	LeadID   string    `json:"leadId"`
	LeadName string    `json:"leadName"`
	Date     time.Time `json:"date"`
	Status   string    `json:"status"`
	Notes    string    `json:"notes,omitempty"`
}

type ScheduleInput struct {
	LeadID  string    `json:"leadId"`
	Start   time.Time `json:"start"`
	Service string    `json:"service"`
}

type AgentMetrics struct {
	ConversionRate float64 `json:"conversionRate"`
	ScheduleRate   float64 `json:"scheduleRate"`
	TotalLeads     int     `json:"totalLeads"`
	TotalScheduled int     `json:"totalScheduled"`
	ActiveIA       int     `json:"activeIA"`
	ActiveHuman    int     `json:"activeHuman"`
}
