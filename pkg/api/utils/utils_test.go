package utils

import (
	"errors"
	"net/http"
	"testing"

	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.ValidationErrors{{Field: "run_id", Reason: "required"}}, http.StatusBadRequest},
		{errs.MissingInReqErr("run_id"), http.StatusBadRequest},
		{errs.ErrMissingTenant, http.StatusBadRequest},
		{errs.ErrJobNotFound, http.StatusNotFound},
		{errs.ErrJobFinished, http.StatusConflict},
		{errs.Transient(errors.New("broker down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}
