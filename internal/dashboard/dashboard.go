// Package dashboard computes pipeline KPIs from the lead collection.
package dashboard

import (
	"fmt"
	"strconv"

	"github.com/Joseda-hg/lazycrm/internal/model"
)

type Bucket struct {
	Stage   model.StageInfo `json:"stage"`
	Count   int             `json:"count"`
	Percent float64         `json:"percent"`
}

type KPI struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type Summary struct {
	Total      int      `json:"total"`
	Won        int      `json:"won"`
	Lost       int      `json:"lost"`
	Active     int      `json:"active"`
	Conversion string   `json:"conversionRate"`
	Funnel     []Bucket `json:"funnel"`
}

// Compute counts leads per stage. Conversion is won over closed deals
// (won plus disqualified) with one decimal, "0.0" when nothing is closed.
func Compute(leads []model.Lead) Summary {
	counts := make(map[model.Stage]int, len(model.Stages))
	for _, lead := range leads {
		counts[lead.Status]++
	}

	s := Summary{
		Total: len(leads),
		Won:   counts[model.StageWon],
		Lost:  counts[model.StageDisqualified],
	}
	s.Active = s.Total - s.Won - s.Lost
	s.Conversion = "0.0"
	if closed := s.Won + s.Lost; closed > 0 {
		s.Conversion = strconv.FormatFloat(float64(s.Won)/float64(closed)*100, 'f', 1, 64)
	}

	s.Funnel = make([]Bucket, 0, len(model.Stages))
	for _, info := range model.Stages {
		bucket := Bucket{Stage: info, Count: counts[info.ID]}
		if s.Total > 0 {
			bucket.Percent = float64(bucket.Count) / float64(s.Total) * 100
		}
		s.Funnel = append(s.Funnel, bucket)
	}
	return s
}

// KPIs returns the headline cards in display order.
func (s Summary) KPIs() []KPI {
	return []KPI{
		{Title: "Total de Leads", Value: strconv.Itoa(s.Total)},
		{Title: "Pipeline Ativo", Value: strconv.Itoa(s.Active)},
		{Title: "Leads Ganhos", Value: strconv.Itoa(s.Won)},
		{Title: "Taxa de Conversão", Value: fmt.Sprintf("%s%%", s.Conversion)},
	}
}
