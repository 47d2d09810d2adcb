package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"school-service/internal/audit"
	"school-service/internal/ratelimit"
	"school-service/internal/service"
	"school-service/internal/util"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	defaultLogHours = 24
	statsWindow     = 24 * time.Hour

	// AdminKeyHeader carries the operator credential. A bearer token in
	// Authorization is accepted as well.
	AdminKeyHeader = "X-Admin-Key"
)

// AdminDeps are the collaborators of the admin routes.
type AdminDeps struct {
	Auth    *service.AuthService
	Limiter *ratelimit.Limiter
	Events  audit.RecentReader
	// Audit receives the security event of a rejected operator credential.
	Audit  audit.Sink
	APIKey string
	Clock  func() time.Time
}

// AdminHandler exposes the audit trail, lockout records and rate windows to
// operators holding the admin key.
type AdminHandler struct {
	responder
	auth    *service.AuthService
	limiter *ratelimit.Limiter
	events  audit.RecentReader
	sink    audit.Sink
	keySum  [sha256.Size]byte
	enabled bool
	now     func() time.Time
}

func NewAdminHandler(deps AdminDeps, r responder) *AdminHandler {
	h := &AdminHandler{
		responder: r,
		auth:      deps.Auth,
		limiter:   deps.Limiter,
		events:    deps.Events,
		sink:      deps.Audit,
		enabled:   deps.APIKey != "",
		keySum:    sha256.Sum256([]byte(deps.APIKey)),
		now:       deps.Clock,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.sink == nil {
		h.sink = audit.Discard
	}
	return h
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(h.requireOperator)
		r.Get("/logs", h.Logs)
		r.Get("/stats", h.Stats)
		r.Get("/lockouts/{identifier}", h.GetLockout)
		r.Delete("/lockouts/{identifier}", h.ClearLockout)
		r.Get("/rate-limits/{client}", h.GetRateLimits)
		r.Delete("/rate-limits/{client}", h.ResetRateLimits)
	})
}

// requireOperator admits requests presenting the configured admin key. The
// admin routes answer 403 while no key is configured.
func (h *AdminHandler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.enabled {
			util.RespondError(w, http.StatusForbidden, "admin_disabled", "Admin API is not enabled")
			return
		}
		presented := operatorKey(r)
		sum := sha256.Sum256([]byte(presented))
		if presented == "" || subtle.ConstantTimeCompare(sum[:], h.keySum[:]) != 1 {
			c := h.client(r)
			e := audit.SecurityEvent("admin_auth_failed", audit.SeverityHigh, c.Address, map[string]any{
				"method":    r.Method,
				"path":      r.URL.Path,
				"presented": presented != "",
			})
			e.Timestamp = h.now().UTC()
			e.UserAgent = c.UserAgent
			e.RequestID = c.RequestID
			h.sink.Record(e)
			util.RespondError(w, http.StatusUnauthorized, "unauthorized", "Admin credential required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func operatorKey(r *http.Request) string {
	if k := r.Header.Get(AdminKeyHeader); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Logs returns recent audit events, newest first. Without a category every
// category is read.
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	categories := audit.Categories
	if c := q.Get("category"); c != "" {
		cat, err := audit.ParseCategory(c)
		if err != nil {
			h.respondWithError(w, r, service.ValidationErrors{{Field: "category", Message: err.Error()}}, "Invalid category")
			return
		}
		categories = []audit.Category{cat}
	}
	limit := boundedParam(q.Get("limit"), defaultLogLimit, maxLogLimit)
	hours := boundedParam(q.Get("hours"), defaultLogHours, 24*90)

	now := h.now().UTC()
	from := now.Add(-time.Duration(hours) * time.Hour)
	var events []audit.Event
	for _, c := range categories {
		got, err := h.events.Recent(c, limit, from, now)
		if err != nil {
			h.respondWithError(w, r, err, "Failed to read audit log")
			return
		}
		events = append(events, got...)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if len(events) > limit {
		events = events[:limit]
	}

	resp := util.SuccessResponse(events, "")
	resp.Meta = &util.Meta{Total: len(events), Limit: limit}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := audit.CollectStats(h.events, statsWindow, h.now().UTC(), maxLogLimit*10)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to collect stats")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(st, ""))
}

func (h *AdminHandler) GetLockout(w http.ResponseWriter, r *http.Request) {
	status, rec, err := h.auth.LockoutStatus(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to read lockout")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(map[string]any{
		"status": status,
		"record": rec,
	}, ""))
}

func (h *AdminHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	if err := h.auth.ClearLockout(r.Context(), chi.URLParam(r, "identifier"), actor.ID, actor.Client); err != nil {
		h.respondWithError(w, r, err, "Failed to clear lockout")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(nil, "Lockout cleared"))
}

// rateScopes are the scopes reported and reset per client.
var rateScopes = []ratelimit.Scope{ratelimit.ScopeGeneral, ratelimit.ScopeSensitive}

type rateWindowView struct {
	Scope       ratelimit.Scope `json:"scope"`
	Limit       int             `json:"limit"`
	Window      string          `json:"window"`
	Active      bool            `json:"active"`
	Count       int             `json:"count"`
	Remaining   int             `json:"remaining"`
	ResetAt     *time.Time      `json:"resetAt,omitempty"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
}

// GetRateLimits reports the live window of every scope for one client key
// without counting a request.
func (h *AdminHandler) GetRateLimits(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "client")
	now := h.now().UTC()
	views := make([]rateWindowView, 0, len(rateScopes))
	for _, scope := range rateScopes {
		rule, ok := h.limiter.Rule(scope)
		if !ok {
			continue
		}
		v := rateWindowView{Scope: scope, Limit: rule.MaxRequests, Window: rule.Window.String(), Remaining: rule.MaxRequests}
		win, found, err := h.limiter.Peek(r.Context(), key, scope, now)
		if err != nil {
			h.respondWithError(w, r, err, "Failed to read rate window")
			return
		}
		if found {
			v.Active = true
			v.Count = win.Count
			v.Remaining = max(rule.MaxRequests-win.Count, 0)
			reset := win.ResetAt
			v.ResetAt = &reset
			if !win.LockedUntil.IsZero() {
				locked := win.LockedUntil
				v.LockedUntil = &locked
			}
		}
		views = append(views, v)
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(map[string]any{
		"client":  key,
		"windows": views,
	}, ""))
}

// ResetRateLimits drops every scope window of one client key.
func (h *AdminHandler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "client")
	for _, scope := range rateScopes {
		if _, ok := h.limiter.Rule(scope); !ok {
			continue
		}
		if err := h.limiter.Reset(r.Context(), key, scope); err != nil {
			h.respondWithError(w, r, err, "Failed to reset rate window")
			return
		}
	}
	actor := h.actor(r)
	e := audit.UserAction("RESET_RATE_LIMIT", actor.ID, "", actor.Role, actor.Client.Address, map[string]any{"client": key})
	e.Timestamp = h.now().UTC()
	e.UserAgent = actor.Client.UserAgent
	e.RequestID = actor.Client.RequestID
	h.sink.Record(e)
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(nil, "Rate limits reset"))
}

// boundedParam parses a positive integer, falling back to def and capping at
// max.
func boundedParam(s string, def, max int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
