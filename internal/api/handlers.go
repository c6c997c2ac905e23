// Package api exposes HTTP handlers for the activity scoring service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/fittrack/internal/auth"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/persistence"
)

const (
	defaultListLimit    = 20
	defaultCalendarDays = 365
	maxBodyBytes        = 4 << 20
	integrationsPrefix  = "/v1/integrations/"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service  *domain.Service
	state    auth.Config
	validate *validator.Validate
	logger   *log.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler builds a Handler. stateCfg signs the OAuth state handed to providers.
func NewHandler(service *domain.Service, stateCfg auth.Config, opts ...Option) *Handler {
	h := &Handler{
		service:  service,
		state:    stateCfg,
		validate: newValidator(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/activities/validate", h.validateActivity)
	mux.HandleFunc("/v1/imports", h.importActivities)
	mux.HandleFunc("/v1/progress", h.progress)
	mux.HandleFunc("/v1/progress/calendar", h.calendar)
	mux.HandleFunc(integrationsPrefix, h.integrations)
	mux.HandleFunc("/healthz", healthz)
}

// CallbackPath is the unauthenticated OAuth redirect target for a provider.
func CallbackPath(provider string) string {
	return integrationsPrefix + provider + "/callback"
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.logActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/activities/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// authorize resolves the caller and checks the scope needed for the request.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, write bool) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if write && !claims.CanWrite() {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:write required")
		return nil, false
	}
	if !write && !claims.CanRead() {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:read required")
		return nil, false
	}
	if claims.Subject == "" || claims.TenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "token is missing subject or tenant")
		return nil, false
	}
	return claims, true
}

// decode reads a JSON body and applies struct tag checks.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", formatValidationError(err))
		return false
	}
	return true
}

func (h *Handler) logActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	var req ActivityRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.LogActivity(r.Context(), domain.LogActivityInput{
		TenantID:       claims.TenantID,
		UserID:         claims.Subject,
		Candidate:      req.candidate(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if !result.Accepted() {
		writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
			Type:     "validation_failed",
			Detail:   "activity rejected",
			Errors:   nonNil(result.Validation.Errors),
			Warnings: nonNil(result.Validation.Warnings),
		})
		return
	}

	resp := LogActivityResponse{
		Activity: toActivityView(*result.Activity),
		Progress: toProgressView(*result.Progress),
		Warnings: nonNil(result.Validation.Warnings),
		Replay:   result.Replay,
	}
	status := http.StatusCreated
	if result.Replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) validateActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := h.authorize(w, r, false); !ok {
		return
	}

	var req ActivityRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, toValidationView(h.service.Validate(req.candidate())))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	activity, err := h.service.GetActivity(r.Context(), claims.TenantID, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if activity.UserID != claims.Subject {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	q := listQuery{Limit: defaultListLimit, Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be an integer")
			return
		}
		q.Limit = parsed
	}
	if err := h.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", formatValidationError(err))
		return
	}

	cursor, err := persistence.DecodeCursor(q.Cursor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivitiesByUser(r.Context(), claims.TenantID, claims.Subject, cursor, q.Limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) importActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	var req ImportRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.service.ImportActivities(r.Context(), domain.ImportInput{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Source:   strings.ToLower(req.Source),
		Items:    req.items(),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(report))
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	progress, err := h.service.GetProgress(r.Context(), claims.TenantID, claims.Subject)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := toProgressView(progress)
	view.UserID = claims.Subject
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	q := calendarQuery{From: r.URL.Query().Get("from"), To: r.URL.Query().Get("to")}
	if err := h.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", formatValidationError(err))
		return
	}

	to := h.service.Today()
	if q.To != "" {
		to, _ = domain.ParseDate(q.To)
	}
	from := to.AddDate(0, 0, -(defaultCalendarDays - 1))
	if q.From != "" {
		from, _ = domain.ParseDate(q.From)
	}

	days, err := h.service.ActivityCalendar(r.Context(), claims.TenantID, claims.Subject, from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := CalendarResponse{
		From: domain.FormatDate(from),
		To:   domain.FormatDate(to),
		Days: make([]CalendarDayView, 0, len(days)),
	}
	for _, d := range days {
		resp.Days = append(resp.Days, CalendarDayView{
			Date:            domain.FormatDate(d.Date),
			Activities:      d.Activities,
			Points:          d.Points,
			DistanceKm:      d.DistanceKm,
			DurationMinutes: d.DurationMinutes,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// integrations routes /v1/integrations/{provider}/{connect|callback|sync}.
func (h *Handler) integrations(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, integrationsPrefix), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown integration route")
		return
	}
	provider, action := strings.ToLower(parts[0]), parts[1]

	switch {
	case action == "connect" && r.Method == http.MethodGet:
		h.connectProvider(w, r, provider)
	case action == "callback" && r.Method == http.MethodGet:
		h.providerCallback(w, r, provider)
	case action == "sync" && r.Method == http.MethodPost:
		h.syncProvider(w, r, provider)
	case action == "connect" || action == "callback" || action == "sync":
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown integration route")
	}
}

func (h *Handler) connectProvider(w http.ResponseWriter, r *http.Request, provider string) {
	claims, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	state, err := auth.SignState(h.state, auth.State{TenantID: claims.TenantID, UserID: claims.Subject, Provider: provider})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "unable to sign state")
		return
	}
	url, err := h.service.ConnectURL(provider, state)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{Provider: provider, AuthorizeURL: url})
}

// providerCallback completes the OAuth redirect. The request carries no bearer
// token; the caller is identified by the signed state.
func (h *Handler) providerCallback(w http.ResponseWriter, r *http.Request, provider string) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "access_denied", "authorisation was not granted: "+reason)
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code parameter")
		return
	}

	state, err := auth.ParseState(h.state, q.Get("state"))
	if err != nil || state.Provider != provider {
		writeError(w, http.StatusBadRequest, "invalid_state", "state is invalid or expired")
		return
	}

	conn, err := h.service.CompleteConnection(r.Context(), state.TenantID, state.UserID, provider, code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectionView{Provider: provider, AthleteID: conn.AthleteID, Connected: true})
}

func (h *Handler) syncProvider(w http.ResponseWriter, r *http.Request, provider string) {
	claims, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	report, err := h.service.SyncProvider(r.Context(), claims.TenantID, claims.Subject, provider)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(report))
}

// writeServiceError maps domain errors onto HTTP problem responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrConnectionNotFound):
		writeError(w, http.StatusNotFound, "not_connected", "provider is not connected for this user")
	case errors.Is(err, domain.ErrImportInProgress):
		writeError(w, http.StatusConflict, "import_in_progress", err.Error())
	case errors.Is(err, domain.ErrSyncCooldown):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrProviderNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "provider_unavailable", err.Error())
	case errors.Is(err, domain.ErrProviderFetch):
		h.logger.Printf("provider error: %v", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "provider request failed")
	default:
		h.logger.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
