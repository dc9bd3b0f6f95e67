package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"datamask/internal/ledger"
)

func (h *Handler) storeRecord(c *gin.Context) {
	result := c.PostForm("result")
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ledger.ErrNoFile.Error()})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()

	receipt, err := h.ledger.StoreRecord(c.Request.Context(), f, result)
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) listRecords(c *gin.Context) {
	records, err := h.ledger.ListMyRecords(c.Request.Context())
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	account, _ := h.ledger.Account()
	c.JSON(http.StatusOK, gin.H{"account": account, "records": records})
}

func (h *Handler) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrProviderNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNoFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
