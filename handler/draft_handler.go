package handler

import (
	"net/http"
	"strings"

	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DraftHandler struct {
	svc *service.DraftService
	log *zap.Logger
}

func NewDraftHandler(svc *service.DraftService, log *zap.Logger) *DraftHandler {
	return &DraftHandler{svc: svc, log: log}
}

type createDraftRequest struct {
	Recipient       string   `json:"recipient" binding:"required"`
	Amount          string   `json:"amount" binding:"required,numeric"`
	FeeRate         float64  `json:"feeRate" binding:"required,gt=0"`
	SelectedUTXOIDs []string `json:"selectedUtxoIds" binding:"omitempty,dive,required"`
	EnableRBF       *bool    `json:"enableRbf"`
	IsRBF           bool     `json:"isRbf"`
	ReplacesTxID    *string  `json:"replacesTxid" binding:"omitempty,len=64,hexadecimal"`
	PSBTBase64      string   `json:"psbtBase64" binding:"required,base64"`
	Label           *string  `json:"label" binding:"omitempty,max=256"`
	Memo            *string  `json:"memo"`
	TotalInput      string   `json:"totalInput" binding:"omitempty,numeric"`
	TotalOutput     string   `json:"totalOutput" binding:"omitempty,numeric"`
	ChangeAmount    string   `json:"changeAmount" binding:"omitempty,numeric"`
	ChangeAddress   *string  `json:"changeAddress"`
	EffectiveFee    string   `json:"effectiveFee" binding:"omitempty,numeric"`
	InputPaths      []string `json:"inputPaths"`
}

func (r createDraftRequest) input() service.DraftInput {
	enableRBF := true
	if r.EnableRBF != nil {
		enableRBF = *r.EnableRBF
	}
	return service.DraftInput{
		Recipient:       r.Recipient,
		Amount:          r.Amount,
		FeeRate:         r.FeeRate,
		SelectedUTXOIDs: r.SelectedUTXOIDs,
		EnableRBF:       enableRBF,
		IsRBF:           r.IsRBF,
		ReplacesTxID:    r.ReplacesTxID,
		PSBTBase64:      r.PSBTBase64,
		Label:           r.Label,
		Memo:            r.Memo,
		TotalInput:      r.TotalInput,
		TotalOutput:     r.TotalOutput,
		ChangeAmount:    r.ChangeAmount,
		ChangeAddress:   r.ChangeAddress,
		EffectiveFee:    r.EffectiveFee,
		InputPaths:      r.InputPaths,
	}
}

type updateDraftRequest struct {
	SignedPSBTBase64 *string `json:"signedPsbtBase64" binding:"omitempty,base64"`
	SignedDeviceID   *string `json:"signedDeviceId" binding:"omitempty,max=128"`
	Status           *string `json:"status" binding:"omitempty,draftstatus"`
	Label            *string `json:"label" binding:"omitempty,max=256"`
	Memo             *string `json:"memo"`
}

func (r updateDraftRequest) patch() service.DraftPatch {
	p := service.DraftPatch{
		SignedPSBTBase64: r.SignedPSBTBase64,
		SignedDeviceID:   r.SignedDeviceID,
		Label:            r.Label,
		Memo:             r.Memo,
	}
	if r.Status != nil {
		st := model.DraftStatus(*r.Status)
		p.Status = &st
	}
	return p
}

// GET /api/wallets/:walletId/drafts
func (h *DraftHandler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), c.Param("walletId"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(list), "records": list})
}

// GET /api/wallets/:walletId/drafts/:draftId
func (h *DraftHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("walletId"), c.Param("draftId"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// POST /api/wallets/:walletId/drafts
func (h *DraftHandler) Create(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.svc.Create(c.Request.Context(), c.Param("walletId"), actorID(c), req.input())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// PATCH /api/wallets/:walletId/drafts/:draftId
func (h *DraftHandler) Update(c *gin.Context) {
	var req updateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.svc.Update(c.Request.Context(), c.Param("walletId"), c.Param("draftId"), actorID(c), req.patch())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// DELETE /api/wallets/:walletId/drafts/:draftId
func (h *DraftHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("walletId"), c.Param("draftId"), actorID(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/wallets/:walletId/drafts/:draftId/relock
func (h *DraftHandler) Relock(c *gin.Context) {
	res, err := h.svc.Relock(c.Request.Context(), c.Param("walletId"), c.Param("draftId"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/wallets/:walletId/utxos/locks?utxo=txid:vout&utxo=...&excludeDraftId=
//
// utxo may also be given once as a comma separated list.
func (h *DraftHandler) CheckLocks(c *gin.Context) {
	var refs []string
	for _, v := range c.QueryArray("utxo") {
		for _, ref := range strings.Split(v, ",") {
			if ref = strings.TrimSpace(ref); ref != "" {
				refs = append(refs, ref)
			}
		}
	}
	if len(refs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one utxo query parameter is required"})
		return
	}

	check, unresolved, err := h.svc.CheckUTXOs(c.Request.Context(), c.Param("walletId"), actorID(c), refs, c.Query("excludeDraftId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if unresolved == nil {
		unresolved = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"available":  check.Available,
		"locked":     check.Locked,
		"unresolved": unresolved,
	})
}
