package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 返回给客户端的 500 响应，不暴露存储层细节
const internalErrorMessage = "Internal server error"

// RespondError writes a JSON error body and aborts the chain.
func RespondError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// RespondInternal logs err with the request context and answers 500 with a generic detail.
func RespondInternal(c *gin.Context, err error, details string) {
	_ = c.Error(err)
	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	}).Error(details)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   internalErrorMessage,
		"details": details,
	})
}
