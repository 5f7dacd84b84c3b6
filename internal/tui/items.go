package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/dustin/go-humanize"
)

// cardLines is the height of one card in a column, spacer included.
const cardLines = 4

const savingLabel = "Salvando..."

func formatCard(lead model.Lead, carried bool, width int) []string {
	detail := lead.Company
	if detail == "" {
		detail = lead.Phone
	}
	when := since(lead.LastInteraction)
	switch {
	case lead.Optimistic:
		when = savingLabel
	case carried:
		when = "movendo..."
	}
	return []string{
		truncate(lead.Name, width),
		truncate(detail, width),
		truncate(when, width),
	}
}

func formatDetail(lead model.Lead) []string {
	lines := []string{
		fmt.Sprintf("%s | %s | %s", lead.Name, orDash(lead.Company), lead.Status.Label()),
		fmt.Sprintf("Telefone: %s | Email: %s", orDash(lead.Phone), orDash(lead.Email)),
	}
	if lead.ResponsibleName != "" || lead.ResponsiblePhone != "" {
		lines = append(lines, fmt.Sprintf("Responsável: %s %s", lead.ResponsibleName, lead.ResponsiblePhone))
	}
	if lead.Origin != "" {
		lines = append(lines, "Origem: "+lead.Origin)
	}
	if lead.NextAction != "" {
		lines = append(lines, "Próxima ação: "+lead.NextAction)
	}
	if lead.Optimistic {
		lines = append(lines, savingLabel)
	} else {
		lines = append(lines, fmt.Sprintf("Última interação: %s (%s)", since(lead.LastInteraction), lead.LastInteraction.Local().Format("02/01/2006 15:04")))
	}

	if len(lead.Notes) > 0 {
		lines = append(lines, "", fmt.Sprintf("Notas (%d):", len(lead.Notes)))
		for _, note := range lead.Notes {
			when := since(note.CreatedAt)
			if note.Optimistic {
				when = savingLabel
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", note.Content, when))
		}
	}
	return lines
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func truncate(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	if width == 1 {
		return string(runes[:1])
	}
	return string(runes[:width-1]) + "…"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

// bar draws a proportional bar of at most width cells.
func bar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(percent / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
