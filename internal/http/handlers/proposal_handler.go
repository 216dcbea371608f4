// Proposal HTTP handlers.
//
// This file exposes REST endpoints for proposal resources:
//   - POST   /proposals        (submit, Idempotency-Key aware)
//   - GET    /proposals        (list, optional pagination and filter, ETag support)
//   - GET    /proposals/{id}   (fetch one)
//
// Handlers are transport-thin: they bind input, call the proposal service,
// and translate results into HTTP responses. Responses always carry the
// public ProposalView, never the stored entity.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/http/middleware"
	"github.com/tbourn/go-proposal-backend/internal/services"
	"github.com/tbourn/go-proposal-backend/internal/utils"
)

// HeaderReplayed marks a response served from a previous request with the
// same Idempotency-Key.
const HeaderReplayed = "Idempotency-Replayed"

//
// Service contract (context-aware)
//

// ProposalService defines the proposal operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ProposalService interface {
	// Create validates, stores and publishes a submission.
	Create(ctx context.Context, in services.CreateProposalInput) (*domain.Proposal, error)
	// Get returns one proposal or services.ErrProposalNotFound.
	Get(ctx context.Context, id uint64) (*domain.Proposal, error)
	// List returns every matching proposal (non-paginated).
	List(ctx context.Context, integrated *bool) ([]domain.Proposal, error)
	// ListPage returns a page of matching proposals and the total count.
	ListPage(ctx context.Context, integrated *bool, page, pageSize int) ([]domain.Proposal, int64, error)
	// Stats returns the count and latest update time used for ETags.
	Stats(ctx context.Context, integrated *bool) (int64, *time.Time, error)
	// Replay returns the proposal recorded for (clientID, key), if any.
	Replay(ctx context.Context, clientID, key string) (*domain.Proposal, bool)
	// Remember records the proposal created for (clientID, key).
	Remember(ctx context.Context, clientID, key string, proposalID uint64, status int)
}

//
// Handler wiring
//

// Handlers groups the proposal HTTP endpoints.
type Handlers struct {
	svc ProposalService
}

// New constructs and returns a Handlers instance bound to the given service.
func New(svc ProposalService) *Handlers {
	return &Handlers{svc: svc}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params,
// returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))
	return p.Number, p.Size
}

// paginated reports whether the caller asked for a page.
func paginated(c *gin.Context) bool {
	return c.Query("page") != "" || c.Query("page_size") != ""
}

// integratedFilter parses ?integrated=true|false. An empty value means no filter.
func integratedFilter(c *gin.Context) (*bool, error) {
	raw := strings.TrimSpace(c.Query("integrated"))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func filterLabel(f *bool) string {
	if f == nil {
		return "all"
	}
	return strconv.FormatBool(*f)
}

//
// Handlers
//

// CreateProposal godoc
// @ID          createProposal
// @Summary     Submit a proposal
// @Description Stores the proposal and hands it to the analysis pipeline. A 503 means the proposal was stored but delivery will be retried in the background.
// @Tags        Proposals
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Replay-safe request key"  example(3f1c2a-retry-1)
// @Param       body             body    services.CreateProposalInput  true  "Proposal payload"
//
// @Success     201  {object}  domain.ProposalView
// @Header      201  {string}  Location  "URL of the created proposal"
// @Success     200  {object}  domain.ProposalView  "Replayed response"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid body or fields"
// @Failure     503  {object}  handlers.ErrorResponse  "Stored, delivery pending"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /proposals [post]
func (h *Handlers) CreateProposal(c *gin.Context) {
	ctx := c.Request.Context()
	key, hasKey := middleware.GetIdempotencyKey(c)
	client := middleware.ClientID(c)

	if hasKey && middleware.IsReplay(c) {
		if p, found := h.svc.Replay(ctx, client, key); found {
			c.Header(HeaderReplayed, "true")
			ok(c, http.StatusOK, domain.NewProposalView(p))
			return
		}
	}

	var in services.CreateProposalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.svc.Create(ctx, in)
	var ve *services.ValidationError
	switch {
	case err == nil:
		if hasKey {
			h.svc.Remember(ctx, client, key, p.ID, http.StatusCreated)
		}
		c.Header("Location", fmt.Sprintf("%s/%d", strings.TrimRight(c.FullPath(), "/"), p.ID))
		ok(c, http.StatusCreated, domain.NewProposalView(p))

	case errors.As(err, &ve):
		failWithDetails(c, http.StatusBadRequest, ErrCodeValidation, "invalid proposal", ve.Fields)

	case errors.Is(err, services.ErrDeliveryFailed) && p != nil:
		if hasKey {
			h.svc.Remember(ctx, client, key, p.ID, http.StatusServiceUnavailable)
		}
		middleware.LoggerFrom(c).Warn().Err(err).Uint64("proposal_id", p.ID).Msg("proposal accepted without delivery")
		failWithDetails(c, http.StatusServiceUnavailable, ErrCodeDeliveryFailed,
			"proposal stored; delivery to analysis will be retried",
			map[string]string{"id": strconv.FormatUint(p.ID, 10)})

	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("create proposal")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ListProposals godoc
// @ID          listProposals
// @Summary     List proposals
// @Description Returns proposals in creation order. Pagination is applied only when page or page_size is given. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Proposals
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"proposals:all:3:1700000000\")
// @Param       integrated     query   bool    false "Filter by integration state"
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {array}  domain.ProposalView
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Header      200  {int}    X-Total-Count  "Total matching proposals (paginated requests)"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /proposals [get]
func (h *Handlers) ListProposals(c *gin.Context) {
	ctx := c.Request.Context()
	filter, err := integratedFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "integrated must be true or false")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.svc.Stats(ctx, filter); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"proposals:%s:%d:%d"`, filterLabel(filter), count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	if !paginated(c) {
		items, err := h.svc.List(ctx, filter)
		if err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("list proposals")
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			return
		}
		ok(c, http.StatusOK, domain.NewProposalViews(items))
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.svc.ListPage(ctx, filter, page, pageSize)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("list proposals page")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}
	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	ok(c, http.StatusOK, domain.NewProposalViews(items))
}

// GetProposal godoc
// @ID          getProposal
// @Summary     Get a proposal
// @Tags        Proposals
// @Produce     json
//
// @Param       id  path  int  true  "Proposal ID"  minimum(1) example(42)
//
// @Success     200  {object} domain.ProposalView
// @Failure     400  {object} handlers.ErrorResponse "Malformed id"
// @Failure     404  {object} handlers.ErrorResponse "Proposal not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /proposals/{id} [get]
func (h *Handlers) GetProposal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return
	}

	p, err := h.svc.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrProposalNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "proposal not found")
	case err != nil:
		middleware.LoggerFrom(c).Error().Err(err).Uint64("proposal_id", id).Msg("get proposal")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	default:
		ok(c, http.StatusOK, domain.NewProposalView(p))
	}
}
