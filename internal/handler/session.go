package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
)

// SessionHandler lets session owners publish and edit bookable
// sessions.  Edits run inside a transaction holding the session row
// lock, so a capacity change can never race a reservation into
// overselling.
type SessionHandler struct {
	Sessions *repository.SessionRepo
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *repository.SessionRepo) *SessionHandler {
	if sessions == nil {
		panic("nil repository passed to NewSessionHandler")
	}
	return &SessionHandler{Sessions: sessions}
}

type sessionBody struct {
	EventID  uint64 `json:"event_id"`
	Title    string `json:"title"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
	Capacity uint32 `json:"capacity"`
	FeeCents uint32 `json:"fee_cents"`
}

// sessionJSON shapes a session for API responses; timestamps go out as
// RFC3339 UTC.
func sessionJSON(s *model.Session) echo.Map {
	return echo.Map{
		"id":        s.ID,
		"event_id":  s.EventID,
		"owner_id":  s.OwnerID,
		"title":     s.Title,
		"starts_at": s.StartsAt.UTC().Format(time.RFC3339),
		"ends_at":   s.EndsAt.UTC().Format(time.RFC3339),
		"capacity":  s.Capacity,
		"fee_cents": s.FeeCents,
	}
}

// parseWindow validates the start and end timestamps of a session body.
func parseWindow(b *sessionBody) (startsAt, endsAt time.Time, ok bool) {
	startsAt, err := time.Parse(time.RFC3339, b.StartsAt)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	endsAt, err = time.Parse(time.RFC3339, b.EndsAt)
	if err != nil || !endsAt.After(startsAt) {
		return time.Time{}, time.Time{}, false
	}
	return startsAt.UTC(), endsAt.UTC(), true
}

// Create handles POST /v1/sessions.  The caller becomes the session
// owner; the session must start in the future and offer at least one
// seat.
func (h *SessionHandler) Create(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body sessionBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Title == "" || body.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id and title are required"})
	}
	if body.Capacity == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "capacity must be at least 1"})
	}
	startsAt, endsAt, ok := parseWindow(&body)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at and ends_at must be RFC3339 with ends_at after starts_at"})
	}
	if !startsAt.After(time.Now().UTC()) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at must be in the future"})
	}
	s := &model.Session{
		EventID:  body.EventID,
		OwnerID:  ownerID,
		Title:    body.Title,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Capacity: body.Capacity,
		FeeCents: body.FeeCents,
	}
	if err := h.Sessions.Create(c.Request().Context(), s); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, sessionJSON(s))
}

// Update handles PUT /v1/sessions/:id.  Sessions freeze 24 hours before
// start; inside the freeze window every edit is rejected.  Capacity may
// never drop below the number of seats currently taken, a check that
// runs under the same row lock reservations take.
func (h *SessionHandler) Update(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessionID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	var body sessionBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title is required"})
	}
	if body.Capacity == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "capacity must be at least 1"})
	}
	startsAt, endsAt, okWindow := parseWindow(&body)
	if !okWindow {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at and ends_at must be RFC3339 with ends_at after starts_at"})
	}

	ctx := c.Request().Context()
	now := time.Now().UTC()
	tx, err := h.Sessions.DB().BeginTx(ctx, nil)
	if err != nil {
		return fail(c, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	s, err := h.Sessions.LockTx(ctx, tx, sessionID)
	if err != nil {
		return fail(c, err)
	}
	if s.OwnerID != ownerID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	if !s.Editable(now) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "session is frozen within 24 hours of start"})
	}
	if !startsAt.After(now) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at must be in the future"})
	}
	if body.Capacity < s.Capacity {
		taken, err := h.Sessions.CountActiveTx(ctx, tx, sessionID, now)
		if err != nil {
			return fail(c, err)
		}
		if body.Capacity < taken {
			return c.JSON(http.StatusConflict, echo.Map{
				"error": "capacity cannot drop below the seats already taken",
				"taken": taken,
			})
		}
	}
	s.Title = body.Title
	s.StartsAt = startsAt
	s.EndsAt = endsAt
	s.Capacity = body.Capacity
	s.FeeCents = body.FeeCents
	if err := h.Sessions.UpdateTx(ctx, tx, s); err != nil {
		return fail(c, err)
	}
	if err := tx.Commit(); err != nil {
		return fail(c, err)
	}
	committed = true
	return c.JSON(http.StatusOK, sessionJSON(s))
}

// Get handles GET /v1/sessions/:id.  Public read of one session.
func (h *SessionHandler) Get(c echo.Context) error {
	sessionID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	s, err := h.Sessions.GetByID(c.Request().Context(), sessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sessionJSON(s))
}
