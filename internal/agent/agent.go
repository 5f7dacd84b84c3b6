// Package agent serves the AI-agent workspace: the conversations the agent
// is handling, the meetings it booked and the knowledge-base it reads from.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"

	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	leadLimit     = 50
	scheduleLimit = 20
	unnamedLead   = "Sem Nome"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("agent lead not found")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ClassifyStatus files a free-text chat status under one of the agent
// stages. The first keyword found wins, in this order: cancel, agendad,
// desqualific, ganh.
func ClassifyStatus(status string) model.AgentStage {
	s := strings.ToLower(status)
	switch {
	case s == "":
		return model.AgentFirstContact
	case strings.Contains(s, "cancel"):
		return model.AgentCancelled
	case strings.Contains(s, "agendad"):
		return model.AgentScheduled
	case strings.Contains(s, "desqualific"):
		return model.AgentDisqualified
	case strings.Contains(s, "ganh"):
		return model.AgentScheduled
	default:
		return model.AgentFirstContact
	}
}

type Service struct {
	gw     gateway.Gateway
	logger *log.Logger
}

func NewService(gw gateway.Gateway, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{gw: gw, logger: logger}
}

// Leads returns the most recent conversations. On failure the error is
// logged and an empty list comes back with it.
func (s *Service) Leads(ctx context.Context) ([]model.AgentLead, error) {
	rows, err := s.gw.Select(ctx, gateway.TableChats, gateway.Query{
		Order: []gateway.Order{{Column: "created_at", Desc: true}},
		Limit: leadLimit,
	})
	if err != nil {
		s.logger.Printf("[agent] fetch leads: %v", err)
		return []model.AgentLead{}, err
	}

	leads := make([]model.AgentLead, 0, len(rows))
	for _, row := range rows {
		leads = append(leads, leadFromChat(row))
	}
	return leads, nil
}

// WatchLeads refetches the conversations after every change to chats and
// hands them to fn. The returned func stops watching.
func (s *Service) WatchLeads(fn func([]model.AgentLead)) (func(), error) {
	sub, err := s.gw.Subscribe(gateway.TableChats, func(gateway.Change) {
		leads, _ := s.Leads(context.Background())
		fn(leads)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe chats: %w", err)
	}
	return func() {
		if err := s.gw.Unsubscribe(sub); err != nil {
			s.logger.Printf("[agent] unsubscribe chats: %v", err)
		}
	}, nil
}

func (s *Service) Lead(ctx context.Context, id string) (model.AgentLead, error) {
	rows, err := s.gw.Select(ctx, gateway.TableChats, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return model.AgentLead{}, fmt.Errorf("fetch agent lead %s: %w", id, err)
	}
	if len(rows) == 0 {
		return model.AgentLead{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return leadFromChat(rows[0]), nil
}

func (s *Service) CreateLead(ctx context.Context, input model.AgentLeadInput) (model.AgentLead, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	if input.Status == "" {
		input.Status = model.AgentStatusOptions[0]
	}

	switch {
	case input.Name == "":
		return model.AgentLead{}, fmt.Errorf("%w: Nome é obrigatório", ErrValidation)
	case input.Email != "" && !emailPattern.MatchString(input.Email):
		return model.AgentLead{}, fmt.Errorf("%w: Formato de email inválido", ErrValidation)
	case input.Phone == "":
		return model.AgentLead{}, fmt.Errorf("%w: Número de WhatsApp é obrigatório", ErrValidation)
	case !slices.Contains(model.AgentStatusOptions, input.Status):
		return model.AgentLead{}, fmt.Errorf("%w: status desconhecido %q", ErrValidation, input.Status)
	}

	row, err := s.gw.Insert(ctx, gateway.TableChats, gateway.Row{
		"name":      input.Name,
		"email":     input.Email,
		"remotejid": input.Phone,
		"ia":        input.IA,
		"status":    input.Status,
	})
	if err != nil {
		s.logger.Printf("[agent] create lead: %v", err)
		return model.AgentLead{}, fmt.Errorf("create agent lead: %w", err)
	}
	return leadFromChat(row), nil
}

// Schedules returns the latest bookings with the lead names filled in from
// chats.
func (s *Service) Schedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := s.gw.Select(ctx, gateway.TableAgendamentos, gateway.Query{
		Order: []gateway.Order{{Column: "horario_inicio", Desc: true}},
		Limit: scheduleLimit,
	})
	if err != nil {
		s.logger.Printf("[agent] fetch schedules: %v", err)
		return []model.Schedule{}, err
	}

	var ids []any
	for _, row := range rows {
		if id := row.String("cliente_id"); id != "" {
			ids = append(ids, id)
		}
	}
	names := map[string]string{}
	if len(ids) > 0 {
		clients, err := s.gw.Select(ctx, gateway.TableChats, gateway.Query{
			Columns: []string{"id", "name"},
			Filters: []gateway.Filter{gateway.In("id", ids...)},
		})
		if err != nil {
			s.logger.Printf("[agent] fetch schedule names: %v", err)
		}
		for _, client := range clients {
			names[client.String("id")] = client.String("name")
		}
	}

	schedules := make([]model.Schedule, 0, len(rows))
	for _, row := range rows {
		schedules = append(schedules, scheduleFromRow(row, names))
	}
	return schedules, nil
}

func (s *Service) CreateSchedule(ctx context.Context, input model.ScheduleInput) (model.Schedule, error) {
	input.LeadID = strings.TrimSpace(input.LeadID)
	input.Service = strings.TrimSpace(input.Service)
	switch {
	case input.LeadID == "":
		return model.Schedule{}, fmt.Errorf("%w: selecione um lead", ErrValidation)
	case input.Start.IsZero():
		return model.Schedule{}, fmt.Errorf("%w: informe data e horário", ErrValidation)
	case input.Service == "":
		return model.Schedule{}, fmt.Errorf("%w: informe o serviço", ErrValidation)
	}

	row, err := s.gw.Insert(ctx, gateway.TableAgendamentos, gateway.Row{
		"cliente_id":     input.LeadID,
		"horario_inicio": input.Start.UTC(),
		"servico":        input.Service,
	})
	if err != nil {
		s.logger.Printf("[agent] create schedule: %v", err)
		return model.Schedule{}, fmt.Errorf("create schedule: %w", err)
	}

	names := map[string]string{}
	if lead, err := s.Lead(ctx, input.LeadID); err == nil {
		names[input.LeadID] = lead.Name
	}
	return scheduleFromRow(row, names), nil
}

// Metrics counts conversations and bookings concurrently. Schedule rate is
// bookings over conversations; conversion rate is the share of
// conversations classified as scheduled.
func (s *Service) Metrics(ctx context.Context) (model.AgentMetrics, error) {
	var m model.AgentMetrics
	var statuses []gateway.Row

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		m.TotalLeads, err = s.gw.Count(ctx, gateway.TableChats)
		return err
	})
	g.Go(func() (err error) {
		m.TotalScheduled, err = s.gw.Count(ctx, gateway.TableAgendamentos)
		return err
	})
	g.Go(func() (err error) {
		m.ActiveIA, err = s.gw.Count(ctx, gateway.TableChats, gateway.Eq("ia", true))
		return err
	})
	g.Go(func() (err error) {
		m.ActiveHuman, err = s.gw.Count(ctx, gateway.TableChats, gateway.NotTrue("ia"))
		return err
	})
	g.Go(func() (err error) {
		statuses, err = s.gw.Select(ctx, gateway.TableChats, gateway.Query{Columns: []string{"status"}})
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Printf("[agent] metrics: %v", err)
		return model.AgentMetrics{}, fmt.Errorf("agent metrics: %w", err)
	}

	if m.TotalLeads > 0 {
		scheduled := 0
		for _, row := range statuses {
			if ClassifyStatus(row.String("status")) == model.AgentScheduled {
				scheduled++
			}
		}
		m.ScheduleRate = rate(m.TotalScheduled, m.TotalLeads)
		m.ConversionRate = rate(scheduled, m.TotalLeads)
	}
	return m, nil
}

// Filter keeps leads whose name, email or phone contain query.
func Filter(leads []model.AgentLead, query string) []model.AgentLead {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return leads
	}
	out := make([]model.AgentLead, 0, len(leads))
	for _, lead := range leads {
		if strings.Contains(strings.ToLower(lead.Name), query) ||
			strings.Contains(strings.ToLower(lead.Email), query) ||
			strings.Contains(lead.Phone, query) {
			out = append(out, lead)
		}
	}
	return out
}

// ByStage groups leads into the agent kanban columns, keeping their order.
func ByStage(leads []model.AgentLead) map[model.AgentStage][]model.AgentLead {
	out := make(map[model.AgentStage][]model.AgentLead, len(model.AgentStages))
	for _, info := range model.AgentStages {
		out[info.ID] = []model.AgentLead{}
	}
	for _, lead := range leads {
		out[lead.Stage] = append(out[lead.Stage], lead)
	}
	return out
}

func leadFromChat(row gateway.Row) model.AgentLead {
	name := row.String("name")
	if name == "" {
		name = unnamedLead
	}
	return model.AgentLead{
		ID:        row.String("id"),
		Name:      name,
		Email:     row.String("email"),
		Phone:     row.String("remotejid"),
		Status:    row.String("status"),
		Stage:     ClassifyStatus(row.String("status")),
		CreatedAt: row.Time("created_at"),
		IA:        row.Bool("ia"),
	}
}

func scheduleFromRow(row gateway.Row, names map[string]string) model.Schedule {
	leadID := row.String("cliente_id")
	if leadID == "" {
		leadID = "0"
	}
	name := names[leadID]
	if name == "" {
		name = "Cliente " + leadID
	}
	return model.Schedule{
		ID:       row.String("id"),
		LeadID:   leadID,
		LeadName: name,
		Date:     row.Time("horario_inicio"),
		Status:   "confirmed",
		Notes:    row.String("servico"),
	}
}

func rate(part, total int) float64 {
	return float64(part) / float64(total) * 100
}
