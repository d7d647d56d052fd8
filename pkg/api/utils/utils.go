// Package utils maps domain errors to api responses.
package utils

import (
	"errors"
	"net/http"

	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/gin-gonic/gin"
)

// StatusCode returns the http status of a domain error.
func StatusCode(err error) int {
	var verrs errs.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	if errors.Is(err, errs.ErrJobFinished) {
		return http.StatusConflict
	}
	switch errs.CodeOf(err) {
	case errs.CodeInvalidInput, errs.CodeInvariant:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeTransient, errs.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes the error response matching err, internal errors are logged and masked.
func AbortWithError(c *gin.Context, err error, logger lumber.Logger) {
	code := StatusCode(err)
	var verrs errs.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.AbortWithStatusJSON(code, gin.H{"code": errs.CodeInvalidInput, "errors": verrs})
	case code == http.StatusInternalServerError:
		logger.Errorf("request %s %s failed, error: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(code, errs.GenericErrorMessage)
	default:
		c.AbortWithStatusJSON(code, gin.H{"code": errs.CodeOf(err), "message": err.Error()})
	}
}
