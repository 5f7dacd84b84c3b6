package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/db"
	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// faultyGateway wraps a real gateway and fails or holds selected calls.
type faultyGateway struct {
	gateway.Gateway

	mu         sync.Mutex
	insertGate chan struct{}
	// selectGate holds the next leads select after it has read its rows;
	// selectRead is closed once those rows are in hand.
	selectGate chan struct{}
	selectRead chan struct{}
	failInsert func(table string, row gateway.Row) error
	failUpdate func(id string, row gateway.Row) error
	failDelete error
	failSelect error
	updates    int
}

func (g *faultyGateway) Select(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	g.mu.Lock()
	err := g.failSelect
	var gate, read chan struct{}
	if table == gateway.TableLeads {
		gate, read = g.selectGate, g.selectRead
		g.selectGate, g.selectRead = nil, nil
	}
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	rows, err := g.Gateway.Select(ctx, table, q)
	if gate != nil {
		close(read)
		<-gate
	}
	return rows, err
}

// holdLoad starts a Load whose leads are read right away but only applied
// once release is called.
func holdLoad(t *testing.T, s *Store, gw *faultyGateway) (release func() error) {
	t.Helper()
	gate, read := make(chan struct{}), make(chan struct{})
	gw.mu.Lock()
	gw.selectGate, gw.selectRead = gate, read
	gw.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- s.Load(context.Background()) }()
	<-read
	return func() error {
		close(gate)
		return <-errc
	}
}

func (g *faultyGateway) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	g.mu.Lock()
	gate, fail := g.insertGate, g.failInsert
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail != nil {
		if err := fail(table, row); err != nil {
			return nil, err
		}
	}
	return g.Gateway.Insert(ctx, table, row)
}

func (g *faultyGateway) Update(ctx context.Context, table, id string, row gateway.Row) error {
	g.mu.Lock()
	g.updates++
	fail := g.failUpdate
	g.mu.Unlock()
	if fail != nil {
		if err := fail(id, row); err != nil {
			return err
		}
	}
	return g.Gateway.Update(ctx, table, id, row)
}

func (g *faultyGateway) Delete(ctx context.Context, table, id string) error {
	g.mu.Lock()
	err := g.failDelete
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.Gateway.Delete(ctx, table, id)
}

func newTestStore(t *testing.T, connect bool) (*Store, *faultyGateway, *gateway.Hub) {
	t.Helper()
	sqlDB, err := db.Open(db.SQLite, ":memory:")
	require.NoError(t, err)
	hub := gateway.NewHub()
	gw := &faultyGateway{Gateway: db.NewGateway(sqlDB, db.SQLite, hub, nil)}
	s := New(gw, Options{UserID: "user-1"})
	if connect {
		require.NoError(t, s.Connect())
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = sqlDB.Close()
	})
	return s, gw, hub
}

func ana() model.LeadInput {
	return model.LeadInput{Name: "Ana", Company: "Acme", Phone: "11999990000", Email: "a@acme.com"}
}

func seedLead(t *testing.T, s *Store, input model.LeadInput) string {
	t.Helper()
	_, done := s.Create(input, "")
	require.NoError(t, <-done)
	snapshot := s.Snapshot()
	require.NotEmpty(t, snapshot)
	return snapshot[0].ID
}

func TestCreateShowsOptimisticLeadThenConfirms(t *testing.T) {
	for _, connect := range []bool{false, true} {
		t.Run(map[bool]string{false: "without realtime", true: "with realtime echo"}[connect], func(t *testing.T) {
			s, gw, _ := newTestStore(t, connect)
			gw.insertGate = make(chan struct{})

			tempID, done := s.Create(ana(), "")
			snapshot := s.Snapshot()
			require.Len(t, snapshot, 1)
			assert.Equal(t, tempID, snapshot[0].ID)
			assert.True(t, snapshot[0].Optimistic)
			assert.Equal(t, model.StageNew, snapshot[0].Status)
			assert.Equal(t, "user-1", snapshot[0].Owner)

			close(gw.insertGate)
			require.NoError(t, <-done)

			snapshot = s.Snapshot()
			require.Len(t, snapshot, 1)
			assert.NotEqual(t, tempID, snapshot[0].ID)
			assert.False(t, strings.HasPrefix(snapshot[0].ID, tempLeadPrefix))
			assert.False(t, snapshot[0].Optimistic)
		})
	}
}

func TestCreateKeepsPositionAtHead(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	first := seedLead(t, s, ana())
	second := seedLead(t, s, model.LeadInput{Name: "Bruno", Company: "Beta"})

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, second, snapshot[0].ID)
	assert.Equal(t, first, snapshot[1].ID)
}

func TestCreateFailureRemovesTemporaryLead(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	gw.failInsert = func(string, gateway.Row) error { return errBoom }

	tempID, done := s.Create(ana(), "first call")
	err := <-done

	var mutationErr *MutationError
	require.ErrorAs(t, err, &mutationErr)
	assert.Equal(t, "create", mutationErr.Op)
	assert.Equal(t, tempID, mutationErr.ID)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, s.Snapshot())
}

func TestCreateRequiresName(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	_, done := s.Create(model.LeadInput{Company: "Acme"}, "")
	assert.ErrorIs(t, <-done, ErrNameRequired)
	assert.Empty(t, s.Snapshot())
}

func TestCreateWithInitialNotePersistsNoteUnderRealID(t *testing.T) {
	for _, connect := range []bool{false, true} {
		s, _, _ := newTestStore(t, connect)

		_, done := s.Create(ana(), "liked the demo")
		optimistic := s.Snapshot()[0]
		require.Len(t, optimistic.Notes, 1)
		assert.True(t, optimistic.Notes[0].Optimistic)

		require.NoError(t, <-done)
		s.Wait()

		lead := s.Snapshot()[0]
		require.Len(t, lead.Notes, 1)
		assert.False(t, lead.Notes[0].Optimistic)
		assert.False(t, strings.HasPrefix(lead.Notes[0].ID, tempNotePrefix))

		require.NoError(t, s.Load(context.Background()))
		reloaded := s.Snapshot()
		require.Len(t, reloaded, 1)
		require.Len(t, reloaded[0].Notes, 1)
		assert.Equal(t, "liked the demo", reloaded[0].Notes[0].Content)
		assert.Equal(t, lead.Notes[0].ID, reloaded[0].Notes[0].ID)
	}
}

func TestCreateThenLoadRoundTrips(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	input := model.LeadInput{
		Name:             "Ana",
		Company:          "Acme",
		Phone:            "11999990000",
		Email:            "a@acme.com",
		ResponsibleName:  "Carla",
		ResponsiblePhone: "11888880000",
		Origin:           "Indicação",
		NextAction:       "Enviar proposta",
	}
	_, done := s.Create(input, "")
	require.NoError(t, <-done)
	local := s.Snapshot()[0]

	require.NoError(t, s.Load(context.Background()))
	loaded := s.Snapshot()
	require.Len(t, loaded, 1)

	assert.Equal(t, local.ID, loaded[0].ID)
	assert.Equal(t, local.Name, loaded[0].Name)
	assert.Equal(t, local.Company, loaded[0].Company)
	assert.Equal(t, local.Phone, loaded[0].Phone)
	assert.Equal(t, local.Email, loaded[0].Email)
	assert.Equal(t, local.Status, loaded[0].Status)
	assert.Equal(t, local.Owner, loaded[0].Owner)
	assert.Equal(t, local.Origin, loaded[0].Origin)
	assert.Equal(t, local.ResponsibleName, loaded[0].ResponsibleName)
	assert.Equal(t, local.ResponsiblePhone, loaded[0].ResponsiblePhone)
	assert.Equal(t, local.NextAction, loaded[0].NextAction)
	assert.True(t, local.CreatedAt.Equal(loaded[0].CreatedAt))
	assert.True(t, local.LastInteraction.Equal(loaded[0].LastInteraction))
}

func TestMoveAppliesBeforePersisting(t *testing.T) {
	fixed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	sqlDB, err := db.Open(db.SQLite, ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()
	s := New(db.NewGateway(sqlDB, db.SQLite, nil, nil), Options{Now: func() time.Time { return fixed }})
	defer s.Close()

	id := seedLead(t, s, ana())
	before, _ := s.Lead(id)

	done := s.Move(id, model.StageNegotiation)
	after, ok := s.Lead(id)
	require.True(t, ok)
	assert.Equal(t, model.StageNegotiation, after.Status)
	assert.True(t, after.LastInteraction.After(before.LastInteraction))
	require.NoError(t, <-done)

	done = s.Move(id, model.StageWon)
	won, _ := s.Lead(id)
	assert.Equal(t, model.StageWon, won.Status)
	assert.True(t, won.LastInteraction.After(after.LastInteraction))
	require.NoError(t, <-done)
}

func TestRapidMovesKeepSecondStage(t *testing.T) {
	s, _, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())

	first := s.Move(id, model.StageContacted)
	second := s.Move(id, model.StageMeeting)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, model.StageMeeting, snapshot[0].Status)
}

func TestMoveFailureRollsBack(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())
	before, _ := s.Lead(id)
	gw.failUpdate = func(string, gateway.Row) error { return errBoom }

	err := <-s.Move(id, model.StageWon)
	assert.ErrorIs(t, err, errBoom)

	after, _ := s.Lead(id)
	assert.Equal(t, model.StageNew, after.Status)
	assert.True(t, after.LastInteraction.Equal(before.LastInteraction))
}

func TestRollbackSkippedWhenNewerMoveExists(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())
	gw.failUpdate = func(_ string, row gateway.Row) error {
		if row.String("status") == string(model.StageContacted) {
			return errBoom
		}
		return nil
	}

	first := s.Move(id, model.StageContacted)
	second := s.Move(id, model.StageMeeting)
	assert.ErrorIs(t, <-first, errBoom)
	require.NoError(t, <-second)

	lead, _ := s.Lead(id)
	assert.Equal(t, model.StageMeeting, lead.Status)
}

func TestUpdateFailureRestoresFields(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())
	gw.failUpdate = func(string, gateway.Row) error { return errBoom }

	name := "Ana Maria"
	next := "Ligar amanhã"
	done := s.Update(id, model.LeadPatch{Name: &name, NextAction: &next})
	lead, _ := s.Lead(id)
	assert.Equal(t, "Ana Maria", lead.Name)

	assert.ErrorIs(t, <-done, errBoom)
	lead, _ = s.Lead(id)
	assert.Equal(t, "Ana", lead.Name)
	assert.Equal(t, "", lead.NextAction)
	assert.Equal(t, "Acme", lead.Company)
}

func TestUpdateStatusTouchesLastInteraction(t *testing.T) {
	s, _, _ := newTestStore(t, false)
	id := seedLead(t, s, ana())
	before, _ := s.Lead(id)

	stage := model.StageResponsible
	require.NoError(t, <-s.Update(id, model.LeadPatch{Status: &stage}))

	after, _ := s.Lead(id)
	assert.Equal(t, model.StageResponsible, after.Status)
	assert.True(t, after.LastInteraction.After(before.LastInteraction))

	invalid := model.Stage("ARCHIVED")
	assert.ErrorIs(t, <-s.Update(id, model.LeadPatch{Status: &invalid}), ErrInvalidStage)
	assert.ErrorIs(t, <-s.Move(id, invalid), ErrInvalidStage)
}

func TestAddNotePrependsAndPersists(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())
	require.NoError(t, <-s.AddNote(id, "first"))
	before, _ := s.Lead(id)
	updatesBefore := gw.updates

	done := s.AddNote(id, "second")
	lead, _ := s.Lead(id)
	require.Len(t, lead.Notes, 2)
	assert.Equal(t, "second", lead.Notes[0].Content)
	assert.True(t, lead.LastInteraction.After(before.LastInteraction))
	require.NoError(t, <-done)

	lead, _ = s.Lead(id)
	require.Len(t, lead.Notes, 2)
	assert.False(t, lead.Notes[0].Optimistic)
	assert.Equal(t, updatesBefore+1, gw.updates)

	assert.ErrorIs(t, <-s.AddNote(id, "   "), ErrEmptyNote)
}

func TestAddNoteFailureDropsTemporaryNote(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	id := seedLead(t, s, ana())
	before, _ := s.Lead(id)
	gw.failInsert = func(table string, _ gateway.Row) error {
		if table == gateway.TableNotes {
			return errBoom
		}
		return nil
	}

	assert.ErrorIs(t, <-s.AddNote(id, "lost"), errBoom)
	lead, _ := s.Lead(id)
	assert.Empty(t, lead.Notes)
	assert.True(t, lead.LastInteraction.Equal(before.LastInteraction))
}

func TestDeleteRemovesAndStaysGoneAfterLoad(t *testing.T) {
	s, _, _ := newTestStore(t, true)
	keep := seedLead(t, s, ana())
	gone := seedLead(t, s, model.LeadInput{Name: "Bruno"})

	done := s.Delete(gone)
	_, ok := s.Lead(gone)
	assert.False(t, ok)
	require.NoError(t, <-done)

	require.NoError(t, s.Load(context.Background()))
	snapshot := s.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, keep, snapshot[0].ID)
}

func TestDeleteFailureRestoresPosition(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	oldest := seedLead(t, s, ana())
	middle := seedLead(t, s, model.LeadInput{Name: "Bruno"})
	newest := seedLead(t, s, model.LeadInput{Name: "Caio"})
	gw.failDelete = errBoom

	assert.ErrorIs(t, <-s.Delete(middle), errBoom)

	ids := []string{}
	for _, lead := range s.Snapshot() {
		ids = append(ids, lead.ID)
	}
	assert.Equal(t, []string{newest, middle, oldest}, ids)
}

func TestOptimisticLeadRejectsMutations(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	gw.insertGate = make(chan struct{})

	tempID, done := s.Create(ana(), "")
	assert.ErrorIs(t, <-s.Move(tempID, model.StageWon), ErrPending)
	assert.ErrorIs(t, <-s.Delete(tempID), ErrPending)
	assert.ErrorIs(t, <-s.AddNote(tempID, "hi"), ErrPending)
	assert.ErrorIs(t, <-s.Move("nope", model.StageWon), ErrNotFound)

	close(gw.insertGate)
	require.NoError(t, <-done)
}

func TestLoadFailureLeavesCollectionEmpty(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	seedLead(t, s, ana())
	gw.failSelect = errBoom

	assert.ErrorIs(t, s.Load(context.Background()), errBoom)
	assert.Empty(t, s.Snapshot())
}

func TestLoadKeepsPendingCreates(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	seedLead(t, s, ana())
	gw.insertGate = make(chan struct{})

	tempID, done := s.Create(model.LeadInput{Name: "Bruno"}, "")
	require.NoError(t, s.Load(context.Background()))

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, tempID, snapshot[0].ID)

	close(gw.insertGate)
	require.NoError(t, <-done)
}

func TestLoadSortsNotesNewestFirst(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	id := seedLead(t, s, ana())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, content := range []string{"old", "newest", "middle"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		_, err := gw.Gateway.Insert(context.Background(), gateway.TableNotes, gateway.Row{
			"lead_id": id, "content": content, "created_at": base.Add(offset),
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Load(context.Background()))
	lead, _ := s.Lead(id)
	require.Len(t, lead.Notes, 3)
	assert.Equal(t, []string{"newest", "middle", "old"}, []string{lead.Notes[0].Content, lead.Notes[1].Content, lead.Notes[2].Content})
}

func TestWatchRunsAfterMutations(t *testing.T) {
	s, _, _ := newTestStore(t, false)

	var mu sync.Mutex
	calls := 0
	cancel := s.Watch(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	seedLead(t, s, ana())
	mu.Lock()
	afterCreate := calls
	mu.Unlock()
	assert.GreaterOrEqual(t, afterCreate, 2)

	cancel()
	seedLead(t, s, model.LeadInput{Name: "Bruno"})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, afterCreate, calls)
}

func TestLoadKeepsMoveMadeDuringFetch(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())

	release := holdLoad(t, s, gw)
	require.NoError(t, <-s.Move(id, model.StageWon))
	require.NoError(t, release())

	lead, ok := s.Lead(id)
	require.True(t, ok)
	assert.Equal(t, model.StageWon, lead.Status)

	require.NoError(t, s.Load(context.Background()))
	lead, _ = s.Lead(id)
	assert.Equal(t, model.StageWon, lead.Status)
}

func TestLoadDoesNotResurrectDeleteMadeDuringFetch(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	id := seedLead(t, s, ana())
	keep := seedLead(t, s, model.LeadInput{Name: "Bruno"})

	release := holdLoad(t, s, gw)
	require.NoError(t, <-s.Delete(id))
	require.NoError(t, release())

	_, ok := s.Lead(id)
	assert.False(t, ok)
	_, ok = s.Lead(keep)
	assert.True(t, ok)
}

func TestLoadKeepsRemoteInsertMadeDuringFetch(t *testing.T) {
	s, gw, _ := newTestStore(t, true)
	seedLead(t, s, ana())

	release := holdLoad(t, s, gw)
	row, err := gw.Gateway.Insert(context.Background(), gateway.TableLeads, gateway.Row{
		"name": "Carla", "status": string(model.StageNew), "owner": "user-2",
	})
	require.NoError(t, err)
	require.NoError(t, release())

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, row.String("id"), snapshot[0].ID)
	assert.Equal(t, "Carla", snapshot[0].Name)
}

func TestLoadAfterFetchWindowUsesServerState(t *testing.T) {
	s, gw, _ := newTestStore(t, false)
	id := seedLead(t, s, ana())

	release := holdLoad(t, s, gw)
	require.NoError(t, <-s.Move(id, model.StageMeeting))
	require.NoError(t, release())

	// Without a realtime echo the next load must still pick up the server row.
	require.NoError(t, gw.Gateway.Update(context.Background(), gateway.TableLeads, id, gateway.Row{"status": string(model.StageDisqualified)}))
	require.NoError(t, s.Load(context.Background()))
	lead, _ := s.Lead(id)
	assert.Equal(t, model.StageDisqualified, lead.Status)
}

func TestOwnerOverridesStoreUser(t *testing.T) {
	s, gw, _ := newTestStore(t, true)

	input := ana()
	input.Owner = "user-9"
	lead, err := s.CreateWait(context.Background(), input, "primeiro contato")
	require.NoError(t, err)
	assert.Equal(t, "user-9", lead.Owner)
	assert.Len(t, s.Snapshot(), 1)

	require.NoError(t, <-s.AddNoteBy(lead.ID, "retorno", "user-7"))
	require.NoError(t, <-s.AddNote(lead.ID, "proposta"))

	rows, err := gw.Gateway.Select(context.Background(), gateway.TableNotes, gateway.Query{})
	require.NoError(t, err)
	authors := map[string]string{}
	for _, row := range rows {
		authors[row.String("content")] = row.String("user_id")
	}
	assert.Equal(t, map[string]string{"primeiro contato": "user-9", "retorno": "user-7", "proposta": "user-1"}, authors)
}
