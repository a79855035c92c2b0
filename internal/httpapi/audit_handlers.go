package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/authz"
)

func (a *API) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermAuditView) {
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action:     q.Get("action"),
		ActorID:    q.Get("actor_id"),
		TargetType: q.Get("target_type"),
	}
	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid 'from' timestamp")
		return
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid 'to' timestamp")
		return
	}
	if f.Page, err = parseIntParam(q.Get("page")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid 'page'")
		return
	}
	if f.PerPage, err = parseIntParam(q.Get("per_page")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid 'per_page'")
		return
	}

	entries, total, err := a.auditLog.Query(r.Context(), f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
