package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/response"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/realtime"
	"github.com/polytech-platform/traffic-attendance-service/internal/service"
)

type TabletHandler struct {
	tablets  *service.TabletService
	sessions *service.SessionService
	hub      *realtime.Hub

	heartbeat time.Duration
}

func NewTabletHandler(
	tablets *service.TabletService,
	sessions *service.SessionService,
	hub *realtime.Hub,
	heartbeat time.Duration,
) *TabletHandler {
	if heartbeat <= 0 {
		heartbeat = 8 * time.Second
	}
	return &TabletHandler{tablets: tablets, sessions: sessions, hub: hub, heartbeat: heartbeat}
}

type registerTabletRequest struct {
	RegPIN       string `json:"reg_pin"`
	BuildingID   int    `json:"building_id"`
	BuildingName string `json:"building_name"`
	RoomID       int    `json:"room_id"`
	RoomName     string `json:"room_name"`
}

// provisionedTabletView exposes the PINs once, at provisioning time. List
// and detail responses never include them.
type provisionedTabletView struct {
	ID         string `json:"id"`
	RegPIN     string `json:"reg_pin"`
	DisplayPIN string `json:"display_pin"`
}

type tabletListView struct {
	domain.Tablet
	Online bool `json:"online"`
}

// kioskStateView is what the display polls for: the tablet's assignment plus
// the active session including the rotation secret. Only the display PIN
// unlocks it, so the secret stays between backend and kiosk.
type kioskStateView struct {
	Tablet     *domain.Tablet `json:"tablet"`
	Session    *kioskSession  `json:"session,omitempty"`
	ServerTime time.Time      `json:"server_time"`
}

type kioskSession struct {
	ID            string    `json:"id"`
	Discipline    string    `json:"discipline"`
	TeacherName   string    `json:"teacher_name"`
	StartedAt     time.Time `json:"started_at"`
	RotateSeconds int       `json:"rotate_seconds"`
	QRSecret      string    `json:"qr_secret"`
}

// Init is the kiosk's first contact: provision a tablet record and hand back
// both PINs for the device to persist and display.
func (h *TabletHandler) Init(w http.ResponseWriter, r *http.Request) {
	tablet, err := h.tablets.Init(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not provision tablet", nil)
		return
	}
	observability.Audit(r, "tablet.provisioned", "tablet_id", tablet.ID)
	response.JSON(w, r, http.StatusCreated, provisionedTabletView{
		ID:         tablet.ID,
		RegPIN:     tablet.RegPIN,
		DisplayPIN: tablet.DisplayPIN,
	})
}

// Register binds a tablet to a room by its registration PIN. Admin only.
func (h *TabletHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerTabletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if req.RegPIN == "" || req.RoomID == 0 || req.RoomName == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "reg_pin, room_id and room_name are required", nil)
		return
	}

	tablet, err := h.tablets.Register(r.Context(), req.RegPIN, domain.RoomAssignment{
		BuildingID:   req.BuildingID,
		BuildingName: req.BuildingName,
		RoomID:       req.RoomID,
		RoomName:     req.RoomName,
	})
	if err != nil {
		if errors.Is(err, service.ErrTabletNotFound) {
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "no tablet with that registration pin", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not register tablet", nil)
		return
	}
	observability.Audit(r, "tablet.registered", "tablet_id", tablet.ID, "room_id", req.RoomID)
	response.JSON(w, r, http.StatusOK, tablet)
}

// List returns the fleet with liveness. Admin only.
func (h *TabletHandler) List(w http.ResponseWriter, r *http.Request) {
	tablets, err := h.tablets.List(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "tablet list failed", nil)
		return
	}
	views := make([]tabletListView, 0, len(tablets))
	for i := range tablets {
		views = append(views, tabletListView{
			Tablet: tablets[i],
			Online: h.hub.Online(tablets[i].ID),
		})
	}
	response.JSON(w, r, http.StatusOK, views)
}

// Get returns one tablet. Admin only.
func (h *TabletHandler) Get(w http.ResponseWriter, r *http.Request) {
	tablet, err := h.tablets.Get(r.Context(), chi.URLParam(r, "tablet_id"))
	if err != nil {
		if errors.Is(err, service.ErrTabletNotFound) {
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "tablet not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "tablet lookup failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, tabletListView{Tablet: *tablet, Online: h.hub.Online(tablet.ID)})
}

// ByRegPIN resolves a tablet from the registration PIN an admin is reading
// off the kiosk screen, so the room binding form can confirm the device
// before committing.
func (h *TabletHandler) ByRegPIN(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("reg_pin")
	if pin == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "reg_pin is required", nil)
		return
	}
	tablet, err := h.tablets.ByRegPIN(r.Context(), pin)
	if err != nil {
		if errors.Is(err, service.ErrTabletNotFound) {
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "no tablet with that registration pin", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "tablet lookup failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, tablet)
}

// Statuses returns liveness only, for dashboards that already hold the
// roster.
func (h *TabletHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	ids, err := h.tablets.ListIDs(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "tablet list failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, h.hub.Statuses(ids))
}

// Delete removes a tablet and its history. Admin only.
func (h *TabletHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tabletID := chi.URLParam(r, "tablet_id")
	if err := h.tablets.Delete(r.Context(), tabletID); err != nil {
		if errors.Is(err, service.ErrTabletNotFound) {
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "tablet not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not delete tablet", nil)
		return
	}
	observability.Audit(r, "tablet.deleted", "tablet_id", tabletID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// Current returns the kiosk state for the tablet authenticated by display
// PIN. Counts as a heartbeat.
func (h *TabletHandler) Current(w http.ResponseWriter, r *http.Request) {
	tablet, ok := h.kioskTablet(w, r)
	if !ok {
		return
	}
	h.hub.MarkOnline(tablet.ID)
	response.JSON(w, r, http.StatusOK, h.kioskState(r, tablet))
}

func (h *TabletHandler) kioskTablet(w http.ResponseWriter, r *http.Request) (*domain.Tablet, bool) {
	pin := r.URL.Query().Get("display_pin")
	if pin == "" {
		pin = r.Header.Get("X-Display-Pin")
	}
	if pin == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "display_pin is required", nil)
		return nil, false
	}
	tablet, err := h.tablets.ByDisplayPIN(r.Context(), pin)
	if err != nil {
		if errors.Is(err, service.ErrTabletNotFound) {
			response.Error(w, r, http.StatusNotFound, "TABLET_NOT_FOUND", "no tablet with that pin", nil)
			return nil, false
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "tablet lookup failed", nil)
		return nil, false
	}
	return tablet, true
}

func (h *TabletHandler) kioskState(r *http.Request, tablet *domain.Tablet) kioskStateView {
	view := kioskStateView{Tablet: tablet, ServerTime: time.Now().UTC()}
	session, err := h.sessions.ActiveForTablet(r.Context(), tablet.ID)
	if err == nil {
		view.Session = &kioskSession{
			ID:            session.ID,
			Discipline:    session.Discipline,
			TeacherName:   session.TeacherName,
			StartedAt:     session.StartedAt,
			RotateSeconds: session.RotateSeconds,
			QRSecret:      session.QRSecret,
		}
	}
	return view
}

// Events streams kiosk state over SSE. The kiosk gets the current state
// immediately, then a fresh snapshot on every change signal, with heartbeats
// keeping intermediaries from closing the connection.
func (h *TabletHandler) Events(w http.ResponseWriter, r *http.Request) {
	tablet, ok := h.kioskTablet(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "streaming unsupported", nil)
		return
	}

	signals, cancel := h.hub.Subscribe(tablet.ID)
	defer cancel()
	h.hub.MarkOnline(tablet.ID)

	setSSEHeaders(w)
	writeSSE(w, flusher, "state", h.kioskState(r, tablet))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-signals:
			h.hub.MarkOnline(tablet.ID)
			writeSSE(w, flusher, "state", h.kioskState(r, tablet))
		case <-heartbeat.C:
			h.hub.MarkOnline(tablet.ID)
			writeSSEComment(w, flusher, "heartbeat")
		}
	}
}

// StatusesStream streams fleet liveness to admin dashboards over SSE.
func (h *TabletHandler) StatusesStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "streaming unsupported", nil)
		return
	}

	signals, cancel := h.hub.SubscribeRoster()
	defer cancel()

	setSSEHeaders(w)
	h.writeStatuses(w, flusher, r)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-signals:
			h.writeStatuses(w, flusher, r)
		case <-heartbeat.C:
			writeSSEComment(w, flusher, "heartbeat")
		}
	}
}

func (h *TabletHandler) writeStatuses(w http.ResponseWriter, flusher http.Flusher, r *http.Request) {
	ids, err := h.tablets.ListIDs(r.Context())
	if err != nil {
		return
	}
	writeSSE(w, flusher, "statuses", h.hub.Statuses(ids))
}

func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	fmt.Fprintf(w, ": %s\n\n", comment)
	flusher.Flush()
}
