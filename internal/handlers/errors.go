package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"blocksentinel/internal/ledger"
)

// RespondError maps ledger error codes onto HTTP responses. Retriable
// storage outages carry a Retry-After hint; unexpected errors are logged and
// surfaced as opaque 500s.
func RespondError(c *gin.Context, logger *zap.Logger, err error, logMessage string) {
	code := ledger.CodeOf(err)
	body := gin.H{"error": err.Error(), "code": string(code)}

	switch code {
	case ledger.CodeUnauthorized:
		c.JSON(http.StatusForbidden, body)
	case ledger.CodeInvalidTransition, ledger.CodeContentMismatch, ledger.CodeAppendConflict:
		c.JSON(http.StatusConflict, body)
	case ledger.CodeNotFound:
		c.JSON(http.StatusNotFound, body)
	case ledger.CodeInvalidArgument:
		c.JSON(http.StatusBadRequest, body)
	case ledger.CodeContentStoreUnavailable:
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, body)
	case ledger.CodeChainCorruption:
		logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, body)
	default:
		logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}
