package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/polytech-platform/traffic-attendance-service/internal/http/middleware"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/response"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createTeacherRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *AuthHandler) TeacherLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "username and password are required", nil)
		return
	}

	token, teacher, err := h.auth.TeacherLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		return
	}
	observability.Audit(r, "auth.teacher.login", "teacher_id", teacher.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token":   token,
		"teacher": teacher,
	})
}

func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}

	token, err := h.auth.AdminLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		return
	}
	observability.Audit(r, "auth.admin.login")
	response.JSON(w, r, http.StatusOK, map[string]any{"token": token})
}

// CreateTeacher provisions a teacher account. Admin only; the router wires
// the role check.
func (h *AuthHandler) CreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req createTeacherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Username == "" || req.FullName == "" || len(req.Password) < 8 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "username, full_name and a password of at least 8 characters are required", nil)
		return
	}

	teacher, err := h.auth.CreateTeacher(r.Context(), req.Username, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, service.ErrTeacherExists) {
			response.Error(w, r, http.StatusConflict, "TEACHER_EXISTS", "username already taken", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not create teacher", nil)
		return
	}
	observability.Audit(r, "auth.teacher.created", "teacher_id", teacher.ID)
	response.JSON(w, r, http.StatusCreated, teacher)
}

// LaunchMe echoes back the student identity from the launch token. The
// mini-app calls it on startup to render the student's name.
func (h *AuthHandler) LaunchMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.LaunchFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing launch identity", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{
		"student_id":    identity.StudentExternalID,
		"student_name":  identity.StudentName,
		"student_email": identity.StudentEmail,
	})
}
