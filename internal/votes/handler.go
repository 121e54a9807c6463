package votes

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/middleware"
	"github.com/gatherly/backend/pkg/response"
)

// RegisterRequest is the body for POST /events/:id/votes.
type RegisterRequest struct {
	Votes []Form `json:"votes" binding:"required,min=1"`
}

// CastRequest is the body for POST /votes/:id/ballots.
type CastRequest struct {
	OptionID string `json:"option_id" binding:"required,uuid"`
}

// Handler handles vote HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a votes handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /events/:id/votes.
func (h *Handler) List(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, err := h.svc.TallyAll(c.Request.Context(), eventID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// Get handles GET /events/:id/votes/:voteId.
func (h *Handler) Get(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	voteID, err := uuid.Parse(c.Param("voteId"))
	if err != nil {
		response.BadRequest(c, "invalid vote id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, err := h.svc.TallyOne(c.Request.Context(), eventID, voteID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// Register handles POST /events/:id/votes (event creator).
func (h *Handler) Register(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if _, err := h.svc.RequireCreator(c.Request.Context(), eventID, userID); err != nil {
		h.fail(c, err)
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var set IntentSet
	for i := range req.Votes {
		in, err := req.Votes[i].Build()
		if err == nil {
			err = checkSlots(in)
		}
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := set.Add(in); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	created, err := h.svc.Register(c.Request.Context(), eventID, set)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, created)
}

// Cast handles POST /votes/:id/ballots.
func (h *Handler) Cast(c *gin.Context) {
	voteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid vote id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	optionID, err := uuid.Parse(req.OptionID)
	if err != nil {
		response.BadRequest(c, "invalid option id")
		return
	}

	ballot, err := h.svc.Cast(c.Request.Context(), voteID, optionID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, ballot)
}

// Close handles POST /votes/:id/close (event creator).
func (h *Handler) Close(c *gin.Context) {
	voteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid vote id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	v, err := h.svc.Close(c.Request.Context(), voteID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"id": v.ID, "deadline": v.Deadline, "closed": true})
}

// Delete handles DELETE /votes/:id (event creator).
func (h *Handler) Delete(c *gin.Context) {
	voteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid vote id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.svc.Remove(c.Request.Context(), voteID, userID); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"id": voteID, "deleted": true})
}

// currentUser returns the authenticated user or answers 401.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return id, ok
}

// fail maps a service error onto the response envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAccessDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrVoteClosed), errors.Is(err, ErrAlreadyVoted):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrInvalidOption), errors.Is(err, ErrValidationFailed):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("vote request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.Internal(c, err.Error())
	}
}
