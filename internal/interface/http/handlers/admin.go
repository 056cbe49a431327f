package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lessondrip/coursebot/internal/domain/course"
	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/logger"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITLEMENT LOOKUP
// ══════════════════════════════════════════════════════════════════════════════

// EntitlementReader is the read side of entitlement.Store.
type EntitlementReader interface {
	Get(ctx context.Context, userID entitlement.UserID) (*entitlement.Record, error)
}

// EntitlementView is the admin representation of a record.
type EntitlementView struct {
	UserID             int64      `json:"user_id"`
	ActivatedAt        time.Time  `json:"activated_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastDeliveredIndex int        `json:"last_delivered_index"`
	DueIndex           int        `json:"due_index"`
	LessonPending      bool       `json:"lesson_pending"`
	CatalogLength      int        `json:"catalog_length"`
	NextUnlockAt       *time.Time `json:"next_unlock_at,omitempty"`
	NextUnlockIn       string     `json:"next_unlock_in,omitempty"`
}

// EntitlementHandler serves GET /admin/entitlements/{userID}.
type EntitlementHandler struct {
	store         EntitlementReader
	catalogLength int
	clock         timeutil.Clock
	logger        *slog.Logger
}

// NewEntitlementHandler creates a new lookup handler.
func NewEntitlementHandler(store EntitlementReader, catalogLength int, clock timeutil.Clock, log *slog.Logger) *EntitlementHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &EntitlementHandler{
		store:         store,
		catalogLength: catalogLength,
		clock:         clock,
		logger:        log.With(logger.Component("admin")),
	}
}

// ServeHTTP implements http.Handler.
func (h *EntitlementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.ParseTelegramID(r.PathValue("userID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_user_id", "userID must be a positive integer")
		return
	}

	record, err := h.store.Get(r.Context(), userID)
	if err != nil {
		if shared.IsNotFound(err) {
			writeJSONError(w, http.StatusNotFound, "not_found", "no entitlement for this user")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to read entitlement",
			logger.UserID(userID.Int64()),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "store_error", "failed to read entitlement")
		return
	}

	writeJSON(w, http.StatusOK, h.view(record))
}

func (h *EntitlementHandler) view(record *entitlement.Record) EntitlementView {
	now := h.clock.Now()
	_, pending := course.DueLesson(record.LastDeliveredIndex, record.ActivatedAt, now, h.catalogLength)

	v := EntitlementView{
		UserID:             record.UserID.Int64(),
		ActivatedAt:        record.ActivatedAt.UTC(),
		UpdatedAt:          record.UpdatedAt.UTC(),
		LastDeliveredIndex: record.LastDeliveredIndex,
		DueIndex:           course.NextDueIndex(record.ActivatedAt, now, h.catalogLength),
		LessonPending:      pending,
		CatalogLength:      h.catalogLength,
	}

	if at, ok := course.NextUnlockAt(record.LastDeliveredIndex, record.ActivatedAt, h.catalogLength); ok {
		at = at.UTC()
		v.NextUnlockAt = &at
		v.NextUnlockIn = timeutil.FormatUntil(at.Sub(now))
	}

	return v
}
