package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/agent"
	"github.com/Joseda-hg/lazycrm/internal/auth"
	"github.com/Joseda-hg/lazycrm/internal/board"
	"github.com/Joseda-hg/lazycrm/internal/dashboard"
	"github.com/Joseda-hg/lazycrm/internal/metrics"
	"github.com/Joseda-hg/lazycrm/internal/model"
	"github.com/Joseda-hg/lazycrm/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.tmpl").Funcs(template.FuncMap{
	"since": func(t time.Time) string { return t.Format("02/01 15:04") },
}).ParseFS(templateFS, "templates/index.tmpl"))

// maxUpload caps knowledge-base files.
const maxUpload = 32 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Options struct {
	Store *store.Store
	Agent *agent.Service
	// Knowledge is nil when no object storage is configured.
	Knowledge   *agent.KnowledgeBase
	JWTSecret   string
	CorsOrigins []string
	Logger      *log.Logger
}

type Server struct {
	store     *store.Store
	agent     *agent.Service
	knowledge *agent.KnowledgeBase
	secret    string
	origins   []string
	logger    *log.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	origins := opts.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:     opts.Store,
		agent:     opts.Agent,
		knowledge: opts.Knowledge,
		secret:    opts.JWTSecret,
		origins:   origins,
		logger:    logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/", s.indexHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(s.secret))

		r.Get("/leads", s.listLeads)
		r.Post("/leads", s.createLead)
		r.Get("/leads/{id}", s.getLead)
		r.Patch("/leads/{id}", s.updateLead)
		r.Post("/leads/{id}/move", s.moveLead)
		r.Post("/leads/{id}/notes", s.addNote)
		r.Delete("/leads/{id}", s.deleteLead)

		r.Get("/board", s.boardHandler)
		r.Get("/dashboard", s.dashboardHandler)

		r.Route("/agent", func(r chi.Router) {
			r.Get("/leads", s.agentLeads)
			r.Post("/leads", s.agentCreateLead)
			r.Get("/leads/{id}", s.agentLead)
			r.Get("/schedules", s.agentSchedules)
			r.Post("/schedules", s.agentCreateSchedule)
			r.Get("/metrics", s.agentMetrics)
			r.Post("/knowledge", s.uploadKnowledge)
		})
	})

	r.Get("/ws", s.streamBoard)
	return r
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	b := board.New(s.store)
	b.SetQuery(r.URL.Query().Get("q"))

	data := struct {
		Query   string
		Summary dashboard.Summary
		Columns []board.Column
	}{
		Query:   b.Query(),
		Summary: dashboard.Compute(s.store.Snapshot()),
		Columns: b.Columns(),
	}
	if err := indexTemplate.Execute(w, data); err != nil {
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	leads := make([]model.Lead, 0)
	for _, lead := range s.store.Snapshot() {
		if board.Matches(lead, query) {
			leads = append(leads, lead)
		}
	}
	writeJSON(w, leads)
}

type createLeadRequest struct {
	model.LeadInput
	Note string `json:"note"`
}

func (s *Server) createLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req.LeadInput.Owner = sessionUser(r)
	lead, err := s.store.CreateWait(r.Context(), req.LeadInput, req.Note)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(lead)
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	lead, ok := s.store.Lead(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	writeJSON(w, lead)
}

func (s *Server) updateLead(w http.ResponseWriter, r *http.Request) {
	var patch model.LeadPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.settle(w, r, chi.URLParam(r, "id"), s.store.Update(chi.URLParam(r, "id"), patch))
}

func (s *Server) moveLead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage model.Stage `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	s.settle(w, r, id, s.store.Move(id, req.Stage))
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	s.settle(w, r, id, s.store.AddNoteBy(id, req.Content, sessionUser(r)))
}

// sessionUser is the signed-in user, or empty for anonymous requests so the
// store's own user applies.
func sessionUser(r *http.Request) string {
	session := auth.FromContext(r.Context())
	if session.UserID == auth.AnonymousUser {
		return ""
	}
	return session.UserID
}

func (s *Server) deleteLead(w http.ResponseWriter, r *http.Request) {
	if err := wait(r.Context(), s.store.Delete(chi.URLParam(r, "id"))); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// settle waits for a mutation and answers with the lead as it now stands.
func (s *Server) settle(w http.ResponseWriter, r *http.Request, id string, done <-chan error) {
	if err := wait(r.Context(), done); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	lead, ok := s.store.Lead(id)
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	writeJSON(w, lead)
}

func (s *Server) boardHandler(w http.ResponseWriter, r *http.Request) {
	b := board.New(s.store)
	b.SetQuery(r.URL.Query().Get("q"))
	writeJSON(w, b.Columns())
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	summary := dashboard.Compute(s.store.Snapshot())
	writeJSON(w, struct {
		dashboard.Summary
		KPIs []dashboard.KPI `json:"kpis"`
	}{summary, summary.KPIs()})
}

func (s *Server) agentLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.agent.Leads(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, agent.Filter(leads, r.URL.Query().Get("q")))
}

func (s *Server) agentLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.agent.Lead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, lead)
}

func (s *Server) agentCreateLead(w http.ResponseWriter, r *http.Request) {
	var input model.AgentLeadInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lead, err := s.agent.CreateLead(r.Context(), input)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(lead)
}

func (s *Server) agentSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.agent.Schedules(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, schedules)
}

func (s *Server) agentCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var input model.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	schedule, err := s.agent.CreateSchedule(r.Context(), input)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(schedule)
}

func (s *Server) agentMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.agent.Metrics(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) uploadKnowledge(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("object storage is not configured"))
		return
	}
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	upload, err := s.knowledge.Upload(r.Context(), header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, upload)
}

// streamBoard pushes the board columns on connect and after every change
// until the client goes away.
func (s *Server) streamBoard(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" {
		token := r.URL.Query().Get("token")
		if _, err := auth.ParseSession(token, s.secret); err != nil || token == "" {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[web] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	metrics.StreamOpened()
	defer metrics.StreamClosed()

	changed := make(chan struct{}, 1)
	stop := s.store.Watch(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	b := board.New(s.store)
	b.SetQuery(r.URL.Query().Get("q"))
	for {
		if err := conn.WriteJSON(b.Columns()); err != nil {
			s.logger.Printf("[web] websocket write: %v", err)
			return
		}
		select {
		case <-closed:
			return
		case <-changed:
			b.Refresh()
		}
	}
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPending):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidStage), errors.Is(err, store.ErrEmptyNote),
		errors.Is(err, store.ErrNameRequired), errors.Is(err, agent.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		var mutation *store.MutationError
		if errors.As(err, &mutation) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(strings.TrimSpace(err.Error())))
}
