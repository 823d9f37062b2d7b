package handler

import (
	"net/http"

	"github.com/evetabi/invest/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WalletHandler serves the simulated cash balance.
type WalletHandler struct {
	mgr *service.PositionManager
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(mgr *service.PositionManager) *WalletHandler {
	return &WalletHandler{mgr: mgr}
}

// GetBalance godoc
// GET /api/wallet/balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	snap := h.mgr.Snapshot()
	locked := decimal.Zero
	if snap.Active != nil {
		locked = snap.Active.Amount
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"balance": snap.Balance,
		"locked":  locked,
	})
}
