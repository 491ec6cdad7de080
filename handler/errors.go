package handler

import (
	"errors"
	"net/http"

	"github.com/crypto_custody/draftvault/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusOf(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps service errors to responses. Anything that is not a
// DraftError is logged and reported as 500 without detail.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var de *service.DraftError
	if !errors.As(err, &de) {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": de.Error()}
	if len(de.ConflictingUTXOs) > 0 || len(de.ConflictingDrafts) > 0 {
		body["conflicts"] = gin.H{
			"utxos":  nonNil(de.ConflictingUTXOs),
			"drafts": nonNil(de.ConflictingDrafts),
		}
	}
	c.JSON(statusOf(de.Kind), body)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
