package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"remitmatch/internal"
	"remitmatch/internal/ledger"
	"remitmatch/internal/pipeline"
	"remitmatch/internal/util"
)

const (
	maxBodySize  = 10 << 20 // 10MB
	maxBatchDocs = 100

	// statusClientClosedRequest is the de facto code for an aborted request.
	statusClientClosedRequest = 499
)

type batchRequest struct {
	Documents []internal.Document `json:"documents"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}

func (s *Server) handleReconcile(c *gin.Context) {
	var doc internal.Document
	if !bindBody(c, &doc) {
		return
	}

	out, err := s.reconciler.ReconcileBatch(c.Request.Context(), []internal.Document{doc})
	if err != nil {
		writeReconcileError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"name": doc.Name, "groups": out[0]},
	})
}

func (s *Server) handleReconcileBatch(c *gin.Context) {
	var req batchRequest
	if !bindBody(c, &req) {
		return
	}
	if len(req.Documents) == 0 || len(req.Documents) > maxBatchDocs {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "documents must hold between 1 and 100 entries",
		})
		return
	}

	out, err := s.reconciler.ReconcileBatch(c.Request.Context(), req.Documents)
	if err != nil {
		writeReconcileError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"documents": out},
	})
}

func (s *Server) handleInvoiceSearch(c *gin.Context) {
	q := internal.CandidateQuery{InvoiceNumbers: nonBlank(c.QueryArray("invoice_number"))}
	if name := strings.TrimSpace(c.Query("customer_name")); name != "" {
		q.CustomerName = util.StringPtr(name)
	}
	if raw := strings.TrimSpace(c.Query("amount")); raw != "" {
		amount := util.ParseAmount(raw)
		if amount == nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "amount is not a number"})
			return
		}
		q.Amount = amount
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = limit
	}
	if q.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "one of invoice_number, customer_name or amount is required",
		})
		return
	}

	invoices, err := s.source.SearchInvoices(c.Request.Context(), q)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ledger.ErrInvalidQuery) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    invoices,
		"count":   len(invoices),
	})
}

func (s *Server) handleInvoice(c *gin.Context) {
	invoice, err := s.lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	if invoice == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "invoice not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": invoice})
}

func bindBody(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return false
	}
	return true
}

func writeReconcileError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrPrecondition):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		status = statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
