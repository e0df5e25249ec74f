package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/litigio/comunicasync/internal/cnj"
	"github.com/litigio/comunicasync/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Store interface {
	CreateSchedule(ctx context.Context, sched domain.SyncSchedule) error
	GetScheduleByID(ctx context.Context, id uuid.UUID) (domain.SyncSchedule, error)
	ListSchedules(ctx context.Context, limit, offset int) ([]domain.SyncSchedule, error)
	SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	ListRuns(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.SyncRun, error)
}

// SourceClient is the manual lookup path against the external source.
type SourceClient interface {
	Query(ctx context.Context, f cnj.Filters) (*cnj.QueryResult, error)
}

// EventEmitter queues manual run requests.
type EventEmitter interface {
	Emit(ctx context.Context, req domain.RunRequest) error
}

// HealthChecker provides database health status for /health.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store   Store
	source  SourceClient
	emitter EventEmitter
	db      HealthChecker // optional
	clock   func() time.Time
}

func NewHandler(store Store, source SourceClient, emitter EventEmitter) *Handler {
	return &Handler{
		store:   store,
		source:  source,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithHealthChecker enables verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)

	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)

	case path == "/communications" && r.Method == http.MethodGet:
		h.queryCommunications(w, r)

	case strings.HasSuffix(path, "/runs") && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasSuffix(path, "/trigger") && r.Method == http.MethodPost:
		h.triggerSchedule(w, r)

	case strings.HasSuffix(path, "/pause") && r.Method == http.MethodPost:
		h.setActive(w, r, false)

	case strings.HasSuffix(path, "/resume") && r.Method == http.MethodPost:
		h.setActive(w, r, true)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodGet:
		h.getSchedule(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodDelete:
		h.deleteSchedule(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateSchedule(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	sched := domain.SyncSchedule{
		ID:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		Mode:           domain.SyncMode(req.Mode),
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Active != nil {
		sched.Active = *req.Active
	}
	for _, raw := range req.AttorneyIDs {
		id, _ := uuid.Parse(raw) // validated above
		sched.AttorneyIDs = append(sched.AttorneyIDs, id)
	}
	if req.Params != nil {
		sched.Params = *req.Params
	}
	if req.WebhookEndpointID != "" {
		id, _ := uuid.Parse(req.WebhookEndpointID)
		sched.WebhookEndpointID = &id
	}

	if err := h.store.CreateSchedule(r.Context(), sched); err != nil {
		log.Printf("api: create schedule failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse(sched))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	schedules, err := h.store.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list schedules failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, 0, len(schedules))}
	for _, sched := range schedules {
		resp.Schedules = append(resp.Schedules, scheduleResponse(sched))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r, "/schedules/")
	if !ok {
		return
	}

	sched, err := h.store.GetScheduleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		log.Printf("api: get schedule failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched))
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r, "/schedules/")
	if !ok {
		return
	}

	if err := h.store.DeleteSchedule(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		log.Printf("api: delete schedule failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	action := "/pause"
	if active {
		action = "/resume"
	}
	id, ok := scheduleIDBetween(w, r, "/schedules/", action)
	if !ok {
		return
	}

	if err := h.store.SetScheduleActive(r.Context(), id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		log.Printf("api: set schedule active failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIDBetween(w, r, "/schedules/", "/trigger")
	if !ok {
		return
	}

	sched, err := h.store.GetScheduleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		log.Printf("api: trigger schedule failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	if !sched.Active {
		writeError(w, http.StatusConflict, "schedule is paused")
		return
	}

	req := domain.RunRequest{
		ScheduleID: sched.ID,
		Trigger:    domain.RunTriggerManual,
		FiredAt:    h.clock().UTC(),
	}
	if err := h.emitter.Emit(r.Context(), req); err != nil {
		log.Printf("api: queue manual run schedule=%s failed: %v", sched.ID, err)
		writeError(w, http.StatusServiceUnavailable, "run queue is full")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{ScheduleID: sched.ID.String(), Queued: true})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIDBetween(w, r, "/schedules/", "/runs")
	if !ok {
		return
	}
	limit, offset := parsePagination(r)

	runs, err := h.store.ListRuns(r.Context(), id, limit, offset)
	if err != nil {
		log.Printf("api: list runs failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, runResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryCommunications proxies an ad-hoc lookup to the external source.
func (h *Handler) queryCommunications(w http.ResponseWriter, r *http.Request) {
	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.source.Query(r.Context(), filters)
	if err != nil {
		var rle *cnj.RateLimitError
		if errors.As(err, &rle) {
			resp := ErrorResponse{
				Error:      "rate limit exceeded",
				RetryAfter: int(rle.RetryAfter.Seconds()),
			}
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
			writeJSON(w, http.StatusTooManyRequests, resp)
			return
		}
		log.Printf("api: source query failed: %v", err)
		writeError(w, http.StatusBadGateway, "source query failed")
		return
	}

	writeJSON(w, http.StatusOK, queryResponse(res))
}

func filtersFromQuery(r *http.Request) (cnj.Filters, error) {
	q := r.URL.Query()

	f := cnj.Filters{
		Text:          q.Get("text"),
		Tribunal:      q.Get("tribunal"),
		PartyName:     q.Get("party_name"),
		LawyerName:    q.Get("lawyer_name"),
		OABNumber:     q.Get("oab_number"),
		OABState:      q.Get("oab_state"),
		ProcessNumber: q.Get("process_number"),
		JudicialUnit:  q.Get("judicial_unit"),
		DateFrom:      q.Get("date_from"),
		DateTo:        q.Get("date_to"),
		Medium:        domain.Medium(q.Get("medium")),
		Page:          1,
		PageSize:      cnj.PageSizeSmall,
	}

	if raw := q.Get("communication_number"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cnj.Filters{}, errors.New("communication_number must be an integer")
		}
		f.CommunicationNumber = n
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cnj.Filters{}, errors.New("page must be an integer")
		}
		f.Page = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cnj.Filters{}, errors.New("page_size must be an integer")
		}
		f.PageSize = n
	}

	if err := f.Validate(); err != nil {
		return cnj.Filters{}, err
	}
	return f, nil
}

func scheduleID(w http.ResponseWriter, r *http.Request, prefix string) (uuid.UUID, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return uuid.UUID{}, false
	}
	return id, true
}

func scheduleIDBetween(w http.ResponseWriter, r *http.Request, prefix, suffix string) (uuid.UUID, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), suffix)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return uuid.UUID{}, false
	}
	return id, true
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= MaxLimit {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
