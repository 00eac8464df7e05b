package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/middleware"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/response"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
	"github.com/polytech-platform/traffic-attendance-service/internal/service"
)

type SessionHandler struct {
	sessions    *service.SessionService
	attendances *service.AttendanceService
	tablets     *service.TabletService
}

func NewSessionHandler(
	sessions *service.SessionService,
	attendances *service.AttendanceService,
	tablets *service.TabletService,
) *SessionHandler {
	return &SessionHandler{sessions: sessions, attendances: attendances, tablets: tablets}
}

type openSessionRequest struct {
	DisplayPIN string `json:"display_pin"`
	Discipline string `json:"discipline"`
}

type attendRequest struct {
	Token string `json:"token"`
}

// sessionView is the staff-facing session shape, augmented with the live
// attendee count.
type sessionView struct {
	*domain.Session
	AttendanceCount int64 `json:"attendance_count"`
}

// Open starts a session on the tablet whose display PIN the teacher typed.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	req.Discipline = strings.TrimSpace(req.Discipline)
	if req.DisplayPIN == "" || req.Discipline == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "display_pin and discipline are required", nil)
		return
	}

	tablet, err := h.tablets.ByDisplayPIN(r.Context(), req.DisplayPIN)
	if err != nil {
		if errors.Is(err, service.ErrTabletNotFound) {
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "no tablet with that pin", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "tablet lookup failed", nil)
		return
	}

	in := service.OpenSessionInput{
		TabletID:    tablet.ID,
		TeacherName: claims.FullName,
		Discipline:  req.Discipline,
	}
	if claims.Role == security.RoleTeacher {
		teacherID := claims.Subject
		in.TeacherID = &teacherID
	}

	session, err := h.sessions.Open(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTabletNotRegistered):
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "no registered tablet with that pin", nil)
		case errors.Is(err, service.ErrSessionConflict):
			response.Error(w, r, http.StatusConflict, "SESSION_CONFLICT", "tablet already has an active session", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not open session", nil)
		}
		return
	}
	observability.Audit(r, "session.opened", "session_id", session.ID, "tablet_id", tablet.ID)
	response.JSON(w, r, http.StatusCreated, session)
}

// sessionActor narrows session access for teachers; admins see every
// session.
func sessionActor(claims *security.StaffClaims) string {
	if claims.Role == security.RoleTeacher {
		return claims.Subject
	}
	return service.AdminActor
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "session_id"), sessionActor(claims))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session lookup failed", nil)
		return
	}
	count, err := h.attendances.CountForSession(r.Context(), session.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "attendance count failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, sessionView{Session: session, AttendanceCount: count})
}

// List returns the calling teacher's sessions, optionally scoped to one
// tablet via ?tablet_id=.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	sessions, err := h.sessions.ListForTeacher(r.Context(), claims.Subject, r.URL.Query().Get("tablet_id"))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session list failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, sessions)
}

// Close ends a session. Safe to retry. Teachers can only close sessions
// they opened; anything else reads as not found.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	session, err := h.sessions.Close(r.Context(), chi.URLParam(r, "session_id"), sessionActor(claims))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not close session", nil)
		return
	}
	observability.Audit(r, "session.closed", "session_id", session.ID)
	response.JSON(w, r, http.StatusOK, session)
}

// Attendances returns the roster in scan order, limited to the teacher's
// own sessions.
func (h *SessionHandler) Attendances(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	rows, err := h.attendances.ListForSession(r.Context(), chi.URLParam(r, "session_id"), sessionActor(claims))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "attendance list failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, rows)
}

// Attend verifies a scanned token and records the student from the launch
// token. Repeat scans succeed and report already_recorded.
func (h *SessionHandler) Attend(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.LaunchFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing launch identity", nil)
		return
	}

	var req attendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if req.Token == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "token is required", nil)
		return
	}

	result, err := h.attendances.VerifyAndRecord(r.Context(), chi.URLParam(r, "session_id"), req.Token, *identity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
		case errors.Is(err, service.ErrSessionClosed):
			response.Error(w, r, http.StatusConflict, "SESSION_CLOSED", "session is no longer accepting attendance", nil)
		case errors.Is(err, service.ErrInvalidToken):
			response.Error(w, r, http.StatusUnprocessableEntity, "INVALID_TOKEN", "token is invalid or stale, rescan the code", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not record attendance", nil)
		}
		return
	}

	status := http.StatusCreated
	state := "recorded"
	if result.AlreadyRecorded {
		status = http.StatusOK
		state = "already_recorded"
	}
	response.JSON(w, r, status, map[string]any{
		"status":     state,
		"session_id": result.Attendance.SessionID,
		"marked_at":  result.Attendance.MarkedAt.Format(time.RFC3339),
	})
}
