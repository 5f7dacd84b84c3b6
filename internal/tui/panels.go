package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Joseda-hg/lazycrm/internal/agent"
	"github.com/Joseda-hg/lazycrm/internal/config"
	"github.com/Joseda-hg/lazycrm/internal/dashboard"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/jesseduffield/gocui"
	"golang.org/x/sync/errgroup"
)

func (u *UI) renderDashboard(view *gocui.View, width int) {
	view.Clear()
	summary := dashboard.Compute(u.store.Snapshot())

	cards := make([]string, 0, 4)
	for _, kpi := range summary.KPIs() {
		cards = append(cards, fmt.Sprintf("%s: %s", kpi.Title, kpi.Value))
	}
	fmt.Fprintln(view, strings.Join(cards, "   "))
	fmt.Fprintln(view)
	fmt.Fprintln(view, "Funil de vendas")

	labelWidth := 0
	for _, info := range model.Stages {
		labelWidth = max(labelWidth, len([]rune(info.Label)))
	}
	barWidth := max(width-labelWidth-16, 10)
	for _, bucket := range summary.Funnel {
		label := bucket.Stage.Label + strings.Repeat(" ", labelWidth-len([]rune(bucket.Stage.Label)))
		fmt.Fprintf(view, "%s %s %4d %5.1f%%\n", label, bar(bucket.Percent, barWidth), bucket.Count, bucket.Percent)
	}
}

// refreshAgent reloads the agent workspace. Without a gui it runs inline.
func (u *UI) refreshAgent() {
	if u.agent == nil {
		return
	}
	load := func() {
		if err := u.loadAgent(context.Background()); err != nil {
			u.setStatus("Erro ao carregar dados do agente: " + err.Error())
		}
	}
	if u.gui == nil {
		load()
		return
	}
	go func() {
		load()
		u.gui.Update(func(*gocui.Gui) error { return nil })
	}()
}

func (u *UI) loadAgent(ctx context.Context) error {
	var (
		leads     []model.AgentLead
		schedules []model.Schedule
		metrics   model.AgentMetrics
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		leads, err = u.agent.Leads(ctx)
		return err
	})
	g.Go(func() (err error) {
		schedules, err = u.agent.Schedules(ctx)
		return err
	})
	g.Go(func() (err error) {
		metrics, err = u.agent.Metrics(ctx)
		return err
	})
	err := g.Wait()

	u.agentMu.Lock()
	u.agentLeads = leads
	u.schedules = schedules
	u.metrics = metrics
	u.agentMu.Unlock()
	return err
}

func (u *UI) renderAgent(view *gocui.View) {
	view.Clear()

	tabs := make([]string, 0, len(config.AgentTabs))
	for _, tab := range config.AgentTabs {
		label := tabLabel(tab)
		if tab == u.agentTab {
			label = "[" + label + "]"
		}
		tabs = append(tabs, label)
	}
	fmt.Fprintln(view, strings.Join(tabs, "  "))
	fmt.Fprintln(view)

	if u.agent == nil {
		fmt.Fprint(view, "Agente IA indisponível: nenhum banco configurado")
		return
	}

	u.agentMu.Lock()
	leads := agent.Filter(u.agentLeads, u.board.Query())
	schedules := u.schedules
	metrics := u.metrics
	u.agentMu.Unlock()

	switch u.agentTab {
	case config.TabKanban:
		for _, lines := range agentColumns(leads) {
			for _, line := range lines {
				fmt.Fprintln(view, line)
			}
			fmt.Fprintln(view)
		}
	case config.TabSchedules:
		if len(schedules) == 0 {
			fmt.Fprint(view, "Nenhum agendamento")
			return
		}
		for _, schedule := range schedules {
			fmt.Fprintf(view, "%s | %s | %s | %s\n",
				schedule.Date.Local().Format("02/01/2006 15:04"), schedule.LeadName, schedule.Status, orDash(schedule.Notes))
		}
	default:
		fmt.Fprintf(view, "Taxa de Conversão: %.1f%%   Taxa de Agendamento: %.1f%%\n", metrics.ConversionRate, metrics.ScheduleRate)
		fmt.Fprintf(view, "Total de Leads: %d   Agendamentos: %d   IA Ativa: %d   Humano: %d\n",
			metrics.TotalLeads, metrics.TotalScheduled, metrics.ActiveIA, metrics.ActiveHuman)
		fmt.Fprintln(view)
		fmt.Fprintln(view, "Conversas recentes")
		for _, lead := range leads[:min(len(leads), 10)] {
			fmt.Fprintf(view, "- %s | %s | %s | %s\n", lead.Name, orDash(lead.Phone), lead.Status, attendant(lead.IA))
		}
	}
}

func agentColumns(leads []model.AgentLead) [][]string {
	grouped := agent.ByStage(leads)
	columns := make([][]string, 0, len(model.AgentStages))
	for _, info := range model.AgentStages {
		column := []string{fmt.Sprintf("%s (%d)", info.Label, len(grouped[info.ID]))}
		for _, lead := range grouped[info.ID] {
			column = append(column, fmt.Sprintf("  %s | %s | %s", lead.Name, attendant(lead.IA), since(lead.CreatedAt)))
		}
		columns = append(columns, column)
	}
	return columns
}

func tabLabel(tab string) string {
	switch tab {
	case config.TabDashboard:
		return "Dashboard"
	case config.TabKanban:
		return "Kanban"
	case config.TabSchedules:
		return "Agendamentos"
	default:
		return tab
	}
}

func attendant(ia bool) string {
	if ia {
		return "IA"
	}
	return "Humano"
}

func (u *UI) uploadKnowledge(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.view != config.ViewAgent {
		return nil
	}
	if u.knowledge == nil {
		u.setStatus("Armazenamento de arquivos não configurado")
		return nil
	}
	u.prompt = &promptState{
		title: "Arquivo para a base de conhecimento",
		onSubmit: func(path string) error {
			if path == "" {
				return nil
			}
			go func() {
				message, err := u.upload(context.Background(), path)
				if err != nil {
					u.setStatus("Erro no upload: " + err.Error())
					return
				}
				u.setStatus(message)
			}()
			return nil
		},
	}
	return nil
}

func (u *UI) upload(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	result, err := u.knowledge.Upload(ctx, filepath.Base(path), file, info.Size(), "")
	if err != nil {
		return "", err
	}
	return result.Message, nil
}
