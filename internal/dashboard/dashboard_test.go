package dashboard

import (
	"testing"

	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadsIn(stages ...model.Stage) []model.Lead {
	leads := make([]model.Lead, len(stages))
	for i, stage := range stages {
		leads[i] = model.Lead{ID: string(rune('a' + i)), Status: stage}
	}
	return leads
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil)

	assert.Equal(t, 0, s.Total)
	assert.Equal(t, "0.0", s.Conversion)
	require.Len(t, s.Funnel, len(model.Stages))
	for _, bucket := range s.Funnel {
		assert.Zero(t, bucket.Count)
		assert.Zero(t, bucket.Percent)
	}
}

func TestComputeCountsAndConversion(t *testing.T) {
	s := Compute(leadsIn(
		model.StageNew, model.StageNew, model.StageNegotiation,
		model.StageWon, model.StageDisqualified, model.StageDisqualified,
	))

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 1, s.Won)
	assert.Equal(t, 2, s.Lost)
	assert.Equal(t, 3, s.Active)
	assert.Equal(t, "33.3", s.Conversion)

	require.Len(t, s.Funnel, 7)
	assert.Equal(t, model.StageNew, s.Funnel[0].Stage.ID)
	assert.Equal(t, 2, s.Funnel[0].Count)
	assert.InDelta(t, 33.33, s.Funnel[0].Percent, 0.01)
	assert.Equal(t, model.StageDisqualified, s.Funnel[6].Stage.ID)
	assert.Equal(t, 2, s.Funnel[6].Count)
}

func TestConversionFollowsMove(t *testing.T) {
	leads := leadsIn(model.StageNegotiation, model.StageDisqualified)
	assert.Equal(t, "0.0", Compute(leads).Conversion)

	leads[0].Status = model.StageWon
	s := Compute(leads)
	assert.Equal(t, "50.0", s.Conversion)
	assert.Equal(t, 0, s.Funnel[model.StageNegotiation.Index()].Count)
	assert.Equal(t, 1, s.Funnel[model.StageWon.Index()].Count)
}

func TestKPIs(t *testing.T) {
	kpis := Compute(leadsIn(model.StageWon, model.StageNew)).KPIs()

	require.Len(t, kpis, 4)
	assert.Equal(t, KPI{Title: "Total de Leads", Value: "2"}, kpis[0])
	assert.Equal(t, KPI{Title: "Pipeline Ativo", Value: "1"}, kpis[1])
	assert.Equal(t, KPI{Title: "Taxa de Conversão", Value: "100.0%"}, kpis[3])
}
