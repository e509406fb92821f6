// Haiku HTTP handlers.
//
// This file exposes the REST endpoints for the haiku resource:
//   - GET  /haikus        (list, paginated, newest first, ETag support)
//   - GET  /haikus/{id}   (one day's haiku; empty 200 when absent)
//   - POST /haikus        (write today's haiku; basic auth in the router)
//
// Handlers are transport-thin: they validate input into typed values, call
// the HaikuService, and translate results and errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-haiku-backend/internal/domain"
	"github.com/tbourn/go-haiku-backend/internal/http/middleware"
	"github.com/tbourn/go-haiku-backend/internal/services"
	"github.com/tbourn/go-haiku-backend/internal/utils"
)

// HaikuService defines the haiku operations consumed by the handlers.
//
// Implementations must be safe for concurrent use and honor ctx.
type HaikuService interface {
	// List returns one page of haikus, newest first.
	List(ctx context.Context, page utils.Page) ([]domain.Haiku, error)
	// Get returns the haiku with the given day id, or (nil, nil).
	Get(ctx context.Context, id string) (*domain.Haiku, error)
	// CreateToday writes today's haiku and returns it as stored.
	CreateToday(ctx context.Context, text string) (*domain.Haiku, error)
	// Stats returns the haiku count and newest date.
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// Handlers groups the haiku endpoints.
type Handlers struct {
	svc HaikuService
}

// New constructs Handlers bound to svc.
func New(svc HaikuService) *Handlers {
	return &Handlers{svc: svc}
}

//
// DTOs
//

// ListHaikusQuery holds the pagination parameters of GET /haikus.
type ListHaikusQuery struct {
	Size   int `form:"page.size,default=5" binding:"min=0"`
	Number int `form:"page.number,default=0" binding:"min=0"`
}

// HaikuIDParam is the path parameter of GET /haikus/{id}.
type HaikuIDParam struct {
	ID string `uri:"id" binding:"required,number"`
}

// CreateHaikuRequest is the JSON payload of POST /haikus.
type CreateHaikuRequest struct {
	Text string `json:"text" binding:"required" example:"An old silent pond / A frog jumps into the pond / Splash! Silence again"`
}

// ListHaikusResponse wraps a page of haikus.
type ListHaikusResponse struct {
	Data []domain.Haiku `json:"data"`
}

//
// Handlers
//

// ListHaikus godoc
// @ID          listHaikus
// @Summary     List haikus (paginated)
// @Description Returns haikus newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Haikus
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"haikus:3:1792321200:5:0\")
// @Param       page.size      query   int     false "Items per page"              minimum(0) default(5)
// @Param       page.number    query   int     false "Zero-based page index"       minimum(0) default(0)
//
// @Success     200  {object} handlers.ListHaikusResponse
// @Header      200  {string} ETag  "Weak ETag for the page"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Invalid pagination"
// @Failure     500  {object} handlers.ErrorResponse "Storage failure"
// @Router      /haikus [get]
func (h *Handlers) ListHaikus(c *gin.Context) {
	var q ListHaikusQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failValidation(c, toValidationError(err, "page.size and page.number must be non-negative integers"))
		return
	}
	page := utils.Page{Size: q.Size, Number: q.Number}
	if _, err := page.Offset(); err != nil {
		failValidation(c, &ValidationError{Message: "page out of range", Details: []ErrorDetail{{Field: "page.number", Message: "too large for page.size"}}})
		return
	}

	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if count, latest, err := h.svc.Stats(ctx); err == nil {
		etag := listETag(count, latest, page)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			noBody(c, http.StatusNotModified)
			return
		}
	} else {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("etag skipped")
	}

	items, err := h.svc.List(ctx, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, ListHaikusResponse{Data: items})
}

// GetHaiku godoc
// @ID          getHaiku
// @Summary     Get a haiku by day id
// @Description Returns the haiku written on the day encoded as MMDDYYYY. A day without a haiku yields 200 with an empty body.
// @Tags        Haikus
// @Produce     json
//
// @Param       id  path  string  true  "Day id (MMDDYYYY)"  example(10182026)
//
// @Success     200  {object} domain.Haiku
// @Failure     400  {object} handlers.ErrorResponse "Id is not numeric"
// @Failure     500  {object} handlers.ErrorResponse "Storage failure"
// @Router      /haikus/{id} [get]
func (h *Handlers) GetHaiku(c *gin.Context) {
	var p HaikuIDParam
	if err := c.ShouldBindUri(&p); err != nil {
		failValidation(c, toValidationError(err, "invalid id"))
		return
	}

	hk, err := h.svc.Get(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if hk == nil {
		noBody(c, http.StatusOK)
		return
	}
	ok(c, http.StatusOK, hk)
}

// CreateHaiku godoc
// @ID          createHaiku
// @Summary     Write today's haiku
// @Description Stores the text as the haiku of the current day. Only one haiku may exist per day.
// @Tags        Haikus
// @Accept      json
// @Produce     json
// @Security    BasicAuth
//
// @Param       body  body  handlers.CreateHaikuRequest  true  "Haiku text"
//
// @Success     200  {object} domain.Haiku
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     401  {object} handlers.ErrorResponse "Missing or wrong credentials"
// @Failure     409  {object} handlers.ErrorResponse "Today's haiku already exists"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Storage failure"
// @Router      /haikus [post]
func (h *Handlers) CreateHaiku(c *gin.Context) {
	var req CreateHaikuRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, toValidationError(err, "invalid JSON body"))
		return
	}

	hk, err := h.svc.CreateToday(c.Request.Context(), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, hk)
}

//
// Helpers
//

// listETag identifies a page by the collection's size, its newest date and
// the page coordinates. Haikus are immutable, so these change exactly when
// the page's content can.
func listETag(count int64, latest *time.Time, page utils.Page) string {
	var ts int64
	if latest != nil {
		ts = latest.Unix()
	}
	return fmt.Sprintf(`W/"haikus:%d:%d:%d:%d"`, count, ts, page.Size, page.Number)
}

func failValidation(c *gin.Context, ve *ValidationError) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Message, ve.Details...)
}

// fail maps service errors to responses.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrHaikuExists):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, utils.ErrPageOutOfRange):
		failValidation(c, &ValidationError{Message: "page out of range"})
	case services.IsStorage(err):
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeStorage, "storage failure")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
