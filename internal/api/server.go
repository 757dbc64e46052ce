// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/queue"
	"github.com/sells-group/pipeline-intel/internal/store"
	"github.com/sells-group/pipeline-intel/internal/triage"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Triage is the scoring and ranking surface.
type Triage interface {
	Predict(ctx context.Context, entityID string, opts triage.PredictOptions) (*triage.Prediction, error)
	PredictBatch(ctx context.Context, ids []string, opts triage.PredictOptions) (*triage.BatchPrediction, error)
	GenerateQueue(ctx context.Context, req triage.Request) (*triage.Result, error)
}

// Queue is the action queue surface.
type Queue interface {
	Persist(ctx context.Context, ownerID string, items []model.TriageItem) *queue.PersistResult
	List(ctx context.Context, f store.QueueFilter) ([]model.ActionQueueEntry, error)
	Simulate(ctx context.Context, ownerID, entityID string, action model.ActionType) (*model.TriageItem, error)
	Execute(ctx context.Context, req queue.ExecuteRequest) (*model.ActionExecution, error)
	RecordOutcome(ctx context.Context, executionID string, o model.Outcome) (*model.ActionExecution, error)
}

// Benchmarks lists the loaded benchmark rates.
type Benchmarks interface {
	Entries() []model.SectorBenchmark
}

// Pinger checks the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handlers' collaborators.
type Server struct {
	triage     Triage
	queue      Queue
	benchmarks Benchmarks
	pinger     Pinger
	gatherer   prometheus.Gatherer
	origins    []string
	log        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithPinger adds a store check to /health.
func WithPinger(p Pinger) Option { return func(s *Server) { s.pinger = p } }

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins []string) Option { return func(s *Server) { s.origins = origins } }

// New creates a Server.
func New(t Triage, q Queue, b Benchmarks, opts ...Option) *Server {
	s := &Server{
		triage:     t,
		queue:      q,
		benchmarks: b,
		gatherer:   prometheus.DefaultGatherer,
		log:        zap.L().With(zap.String("component", "api")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/predictions", s.predict)
		r.Post("/predictions/batch", s.predictBatch)
		r.Post("/triage", s.runTriage)
		r.Get("/triage/next", s.nextAction)
		r.Get("/queue", s.listQueue)
		r.Post("/actions/simulate", s.simulate)
		r.Post("/actions/execute", s.execute)
		r.Post("/executions/{id}/outcome", s.recordOutcome)
		r.Get("/benchmarks", s.listBenchmarks)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.log.Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type predictRequest struct {
	EntityID        string   `json:"entity_id"`
	EntityIDs       []string `json:"entity_ids"`
	OwnerID         string   `json:"owner_id"`
	IncludeBlockers bool     `json:"include_blockers"`
	IncludeNBA      bool     `json:"include_nba"`
}

func (p predictRequest) options() triage.PredictOptions {
	return triage.PredictOptions{IncludeBlockers: p.IncludeBlockers, IncludeNBA: p.IncludeNBA, OwnerID: p.OwnerID}
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.EntityID == "" {
		s.writeError(w, model.InvalidInputf("api: entity_id is required"))
		return
	}
	p, err := s.triage.Predict(r.Context(), req.EntityID, req.options())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) predictBatch(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.triage.PredictBatch(r.Context(), req.EntityIDs, req.options())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type triageRequest struct {
	triage.Request
	Persist bool `json:"persist"`
}

type triageResponse struct {
	*triage.Result
	Persisted *queue.PersistResult `json:"persisted,omitempty"`
}

func (s *Server) runTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.triage.GenerateQueue(r.Context(), req.Request)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := triageResponse{Result: res}
	if req.Persist {
		out.Persisted = s.queue.Persist(r.Context(), req.OwnerID, res.Items)
	}
	writeJSON(w, http.StatusOK, out)
}

// nextAction returns the owner's top active queue entry, or the top fresh
// triage item when the queue is empty.
func (s *Server) nextAction(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	entries, err := s.queue.List(r.Context(), store.QueueFilter{OwnerID: owner, Limit: 1})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(entries) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"source": "queue", "entry": entries[0]})
		return
	}

	res, err := s.triage.GenerateQueue(r.Context(), triage.Request{OwnerID: owner, Limit: 1})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(res.Items) == 0 {
		s.writeError(w, model.NotFoundf("api: no actionable candidates for owner %q", owner))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": "triage", "item": res.Items[0]})
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.QueueFilter{
		OwnerID:    q.Get("owner_id"),
		EntityID:   q.Get("entity_id"),
		ActionType: model.ActionType(q.Get("action_type")),
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, err)
		return
	}
	if f.ActionType != "" && !f.ActionType.Valid() {
		s.writeError(w, model.InvalidInputf("api: unknown action type %q", f.ActionType))
		return
	}

	entries, err := s.queue.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.ActionQueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type simulateRequest struct {
	OwnerID    string           `json:"owner_id"`
	EntityID   string           `json:"entity_id"`
	ActionType model.ActionType `json:"action_type"`
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.EntityID == "" {
		s.writeError(w, model.InvalidInputf("api: entity_id is required"))
		return
	}
	it, err := s.queue.Simulate(r.Context(), req.OwnerID, req.EntityID, req.ActionType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req queue.ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}
	exec, err := s.queue.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, executeResponse{
		OK:          true,
		ExecutionID: exec.ID,
		Result:      exec.Result,
		Execution:   exec,
	})
}

type executeResponse struct {
	OK          bool                   `json:"ok"`
	ExecutionID string                 `json:"execution_id"`
	Result      model.ExecutionResult  `json:"result"`
	Execution   *model.ActionExecution `json:"execution"`
}

func (s *Server) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var o model.Outcome
	if !s.decode(w, r, &o) {
		return
	}
	exec, err := s.queue.RecordOutcome(r.Context(), chi.URLParam(r, "id"), o)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) listBenchmarks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"benchmarks": s.benchmarks.Entries()})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, model.InvalidInputf("api: %q is not a non-negative integer", v)
	}
	return n, nil
}
