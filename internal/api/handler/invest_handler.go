package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/evetabi/invest/internal/domain"
	"github.com/evetabi/invest/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InvestHandler serves position and history endpoints.
type InvestHandler struct {
	mgr *service.PositionManager
}

// NewInvestHandler creates an InvestHandler.
func NewInvestHandler(mgr *service.PositionManager) *InvestHandler {
	return &InvestHandler{mgr: mgr}
}

// GetState godoc
// GET /api/invest/state
func (h *InvestHandler) GetState(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.mgr.Snapshot())
}

// GetActive godoc
// GET /api/invest/active
func (h *InvestHandler) GetActive(c *gin.Context) {
	pos, err := h.mgr.Active()
	if err != nil {
		respondError(c, http.StatusNotFound, "ERR_NO_ACTIVE_POSITION", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, pos)
}

// OpenPosition godoc
// POST /api/invest/positions
// Body: {"room_id":1,"amount":"10000"}. amount may also be a JSON number.
func (h *InvestHandler) OpenPosition(c *gin.Context) {
	var body struct {
		RoomID int             `json:"room_id"`
		Amount json.RawMessage `json:"amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	pos, err := h.mgr.Open(c.Request.Context(), domain.OpenRequest{
		RoomID: body.RoomID,
		Amount: parseAmount(body.Amount),
	})
	if err != nil {
		respondOpenError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{
		"position": pos,
		"balance":  h.mgr.Balance(),
	})
}

// GetHistory godoc
// GET /api/invest/history?page=1&limit=20
func (h *InvestHandler) GetHistory(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	records, total := h.mgr.History(limit, offset)
	respondList(c, records, total, page, limit)
}

// openErrorCodes maps each Open failure to its response code.
var openErrorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrPositionAlreadyActive, "ERR_POSITION_ACTIVE"},
	{domain.ErrRoomNotFound, "ERR_ROOM_NOT_FOUND"},
	{domain.ErrBelowMinimum, "ERR_BELOW_MINIMUM"},
	{domain.ErrAboveMaximum, "ERR_ABOVE_MAXIMUM"},
	{domain.ErrInsufficientBalance, "ERR_INSUFFICIENT_BALANCE"},
}

func respondOpenError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsConflict(err):
		status = http.StatusConflict
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not open position")
		return
	}
	for _, e := range openErrorCodes {
		if errors.Is(err, e.err) {
			respondError(c, status, e.code, err.Error())
			return
		}
	}
	respondError(c, status, "ERR_VALIDATION", err.Error())
}

// parseAmount accepts either a JSON string or a JSON number. Anything else,
// including a missing field, yields an invalid amount.
func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	if len(raw) == 0 {
		return decimal.NullDecimal{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return domain.ParseStake(strings.TrimSpace(s))
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return domain.ParseStake(n.String())
	}
	return decimal.NullDecimal{}
}
