package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"sentinel/api/internal/auth"
	"sentinel/api/internal/backup"
	"sentinel/api/internal/export"
	"sentinel/api/internal/scope"
	"sentinel/api/internal/session"
	"sentinel/api/internal/store"
	"sentinel/api/pkg/logger"
)

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, a scope.Actor) error
	Lookup(ctx context.Context, tokenHash string) (scope.Actor, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type HTTPServer struct {
	service  *Service
	sessions sessionStore
	backups  *backup.Service
	validate *validator.Validate
}

func NewHTTPServer(service *Service, sessions sessionStore, backups *backup.Service) *HTTPServer {
	return &HTTPServer{
		service:  service,
		sessions: sessions,
		backups:  backups,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "store unavailable", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/bootstrap" {
		s.handleBootstrap(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	// Everything below requires a session.
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		_ = s.sessions.Revoke(r.Context(), auth.HashToken(bearerToken(r)))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": actor.UserID, "is_admin": actor.IsAdmin,
		})
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[0] {
	case "users":
		s.handleUsers(w, r, actor, parts[1:])
	case "matters":
		s.handleMatters(w, r, actor, parts[1:])
	case "entries":
		s.handleEntries(w, r, actor, parts[1:])
	case "timer":
		s.handleTimer(w, r, actor, parts[1:])
	case "reports":
		s.handleReports(w, r, actor, parts[1:])
	case "backup":
		s.handleBackup(w, r, actor, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (scope.Actor, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNSET_USER", "no acting user supplied", nil)
		return scope.Actor{}, false
	}
	actor, err := s.sessions.Lookup(r.Context(), auth.HashToken(token))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "UNSET_USER", "session expired", nil)
		} else {
			s.writeMappedError(w, err)
		}
		return scope.Actor{}, false
	}
	return actor, true
}

func (s *HTTPServer) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var in CreateUserInput
	if !s.decodeValid(w, r, &in) {
		return
	}
	u, err := s.service.Bootstrap(r.Context(), in)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !s.decodeValid(w, r, &body) {
		return
	}
	actor, err := s.service.Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	token, err := auth.NewToken()
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if err := s.sessions.Save(r.Context(), auth.HashToken(token), actor); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token, "user_id": actor.UserID, "is_admin": actor.IsAdmin,
	})
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, actor scope.Actor, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		users, err := s.service.ListUsers(r.Context(), actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var in CreateUserInput
		if !s.decodeValid(w, r, &in) {
			return
		}
		u, err := s.service.CreateUser(r.Context(), actor, in)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		if err := s.service.DeleteUser(r.Context(), actor, id); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "rate" && r.Method == http.MethodPut:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			Rate *float64 `json:"default_hourly_rate_euro" validate:"omitempty,gte=0"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if err := s.service.SetUserDefaultRate(r.Context(), actor, id, body.Rate); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMatters(w http.ResponseWriter, r *http.Request, actor scope.Actor, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		nodes, err := s.service.ListMatters(ctx, actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var in CreateMatterInput
		if !s.decodeValid(w, r, &in) {
			return
		}
		node, err := s.service.CreateMatter(ctx, actor, in)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, node)

	case len(parts) == 1 && parts[0] == "suggest-code" && r.Method == http.MethodGet:
		code, err := s.service.SuggestCode(ctx, actor.UserID, r.URL.Query().Get("name"))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": code})

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		nodes, err := s.service.SearchMatters(ctx, actor, r.URL.Query().Get("q"), limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)

	case len(parts) == 1 && r.Method == http.MethodGet:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		node, err := s.service.GetMatter(ctx, actor, id)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, node)

	case len(parts) == 2 && parts[1] == "descendants" && r.Method == http.MethodGet:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		nodes, err := s.service.Descendants(ctx, actor, id)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)

	case len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			NewParentID *int64 `json:"new_parent_id"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if err := s.service.MoveMatter(ctx, actor, id, body.NewParentID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "merge" && r.Method == http.MethodPost:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			TargetID int64 `json:"target_id" validate:"required"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if err := s.service.MergeMatters(ctx, actor, id, body.TargetID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "shares" && r.Method == http.MethodGet:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		shares, err := s.service.store.ListShares(ctx, actor, id)
		if err != nil {
			s.writeMappedError(w, mapStoreErr(err, "matter"))
			return
		}
		writeJSON(w, http.StatusOK, shares)

	case len(parts) == 2 && parts[1] == "share" && r.Method == http.MethodPost:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			UserID int64 `json:"user_id" validate:"required"`
			// resolve=merge runs merge-then-share after a path conflict.
			Resolve string `json:"resolve" validate:"omitempty,oneof=merge"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		var err error
		if body.Resolve == "merge" {
			err = s.service.MergeThenShare(ctx, actor, id, body.UserID)
		} else {
			err = s.service.ShareMatter(ctx, actor, id, body.UserID)
		}
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 3 && parts[1] == "share" && r.Method == http.MethodDelete:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		userID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		if err := s.service.UnshareMatter(ctx, actor, id, userID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "rate" && r.Method == http.MethodPut:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			Rate *float64 `json:"hourly_rate_euro" validate:"omitempty,gte=0"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if err := s.service.SetMatterRate(ctx, actor, id, body.Rate); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "user-rate" && r.Method == http.MethodPut:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			UserID int64   `json:"user_id" validate:"required"`
			Rate   float64 `json:"hourly_rate_euro" validate:"gte=0"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if err := s.service.SetUserMatterRate(ctx, actor, body.UserID, id, body.Rate); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "rate" && r.Method == http.MethodGet:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		// Visibility check before the system-scoped cascade.
		if _, err := s.service.GetMatter(ctx, actor, id); err != nil {
			s.writeMappedError(w, err)
			return
		}
		userID := actor.UserID
		if raw := r.URL.Query().Get("user_id"); raw != "" && actor.IsAdmin {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				userID = v
			}
		}
		res, err := s.service.ResolveRate(ctx, userID, id)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleEntries(w http.ResponseWriter, r *http.Request, actor scope.Actor, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		filter, err := entryFilterFromQuery(r)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		entries, err := s.service.ListEntries(ctx, actor, filter)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var in CreateEntryInput
		if !s.decodeValid(w, r, &in) {
			return
		}
		e, err := s.service.CreateEntry(ctx, actor, in)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.SearchEntries(ctx, actor, r.URL.Query().Get("q"), limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)

	case len(parts) == 1 && r.Method == http.MethodPut:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var in UpdateEntryInput
		if !s.decodeValid(w, r, &in) {
			return
		}
		e, err := s.service.UpdateEntry(ctx, actor, id, in)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if e == nil {
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
			return
		}
		writeJSON(w, http.StatusOK, e)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		if err := s.service.DeleteEntry(ctx, actor, id); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "invoiced" && r.Method == http.MethodPost:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		var body struct {
			Invoiced bool `json:"invoiced"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if err := s.service.SetInvoiced(ctx, actor, id, body.Invoiced); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "continue" && r.Method == http.MethodPost:
		id, ok := parseID(w, parts[0])
		if !ok {
			return
		}
		e, err := s.service.ContinueEntry(ctx, actor, id)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTimer(w http.ResponseWriter, r *http.Request, actor scope.Actor, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		e, err := s.service.RunningEntry(ctx, actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"running": e})

	case len(parts) == 1 && parts[0] == "start" && r.Method == http.MethodPost:
		var body struct {
			MatterID    int64  `json:"matter_id" validate:"required"`
			Description string `json:"description" validate:"max=2000"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		e, err := s.service.StartTimer(ctx, actor, body.MatterID, body.Description)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)

	case len(parts) == 1 && parts[0] == "stop" && r.Method == http.MethodPost:
		e, err := s.service.StopTimer(ctx, actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stopped": e})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, actor scope.Actor, parts []string) {
	ctx := r.Context()
	from, to, err := dateRangeFromQuery(r)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "rollup" && r.Method == http.MethodGet:
		rows, err := s.service.Rollup(ctx, actor, from, to)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)

	case len(parts) == 1 && parts[0] == "export" && r.Method == http.MethodGet:
		ids, err := idListFromQuery(r, "matter_ids")
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		descendants := r.URL.Query().Get("descendants") == "true"
		records, err := s.service.ExportRecords(ctx, actor, ids, descendants, from, to)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" || format == "json" {
			writeJSON(w, http.StatusOK, records)
			return
		}
		preview, err := s.service.PreviewRows(ctx, actor, ids, descendants, from, to)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		res, err := export.Export(export.Timesheet{
			Title:       "Timesheet",
			GeneratedAt: time.Now().UTC(),
			From:        from,
			To:          to,
			Records:     exportRecords(records),
			Summary:     exportSummary(preview),
		}, export.Format(format))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", res.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Data)

	case len(parts) == 1 && parts[0] == "preview" && r.Method == http.MethodGet:
		ids, err := idListFromQuery(r, "matter_ids")
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		rows, err := s.service.PreviewRows(ctx, actor, ids, r.URL.Query().Get("descendants") == "true", from, to)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBackup(w http.ResponseWriter, r *http.Request, actor scope.Actor, parts []string) {
	if !actor.IsAdmin {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	switch {
	case len(parts) == 1 && parts[0] == "export" && r.Method == http.MethodGet:
		upload := r.URL.Query().Get("upload") == "true"
		if upload {
			snap, object, err := s.backups.ExportAndUpload(ctx)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "object": object})
			return
		}
		snap, err := s.backups.Export(ctx)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)

	case len(parts) == 1 && parts[0] == "import" && r.Method == http.MethodPost:
		var snap backup.Snapshot
		if err := decodeBody(r, &snap); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.backups.Import(ctx, snap); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func exportRecords(records []ExportRecord) []export.Record {
	out := make([]export.Record, 0, len(records))
	for _, r := range records {
		out = append(out, export.Record{
			ID: r.ID, MatterPath: r.MatterPath, Description: r.Description,
			StartTime: r.StartTime, EndTime: r.EndTime,
			DurationSeconds: r.DurationSeconds, Invoiced: r.Invoiced,
			Rate: r.Rate, RateSource: r.RateSource, Amount: r.Amount,
		})
	}
	return out
}

func exportSummary(rows []PreviewRow) []export.SummaryRow {
	out := make([]export.SummaryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, export.SummaryRow{
			MatterPath: r.MatterPath, Description: r.Description,
			Segments: r.Segments, DurationSeconds: r.DurationSeconds, Amount: r.Amount,
		})
	}
	return out
}

// decodeValid decodes the JSON body into target and runs struct
// validation; it writes the error response itself.
func (s *HTTPServer) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logger.Get().Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "INTERNAL", "Internal error", nil
}

func entryFilterFromQuery(r *http.Request) (store.EntryFilter, error) {
	var f store.EntryFilter
	ids, err := idListFromQuery(r, "matter_ids")
	if err != nil {
		return f, err
	}
	f.MatterIDs = ids
	if raw := r.URL.Query().Get("matter_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, errValidation("matter_id must be an integer")
		}
		f.MatterIDs = append(f.MatterIDs, id)
	}
	f.From, f.To, err = dateRangeFromQuery(r)
	if err != nil {
		return f, err
	}
	f.CompletedOnly = r.URL.Query().Get("completed") == "true"
	return f, nil
}

func dateRangeFromQuery(r *http.Request) (*time.Time, *time.Time, error) {
	parse := func(key string) (*time.Time, error) {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			if t, err = time.Parse("2006-01-02", raw); err != nil {
				return nil, errValidation(key + " must be RFC 3339 or YYYY-MM-DD")
			}
		}
		return &t, nil
	}
	from, err := parse("from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parse("to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func idListFromQuery(r *http.Request, key string) ([]int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errValidation(key + " must be a comma-separated list of integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id", nil)
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		route := routeGroup(r.URL.Path)
		elapsed := time.Since(started)
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		logger.Get().Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", elapsed).
			Msg("request")
	})
}

// routeGroup collapses paths to their first two segments so metrics
// labels stay low-cardinality.
func routeGroup(path string) string {
	parts := splitPath(path)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
