// Package job serves the job submission and status contract.
package job

import (
	"net/http"

	apiutils "github.com/LambdaTest/flakewatch/pkg/api/utils"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
)

// CorrelationHeader carries the caller's correlation id.
const CorrelationHeader = "X-Correlation-ID"

type submitRequest struct {
	OrgID          string   `json:"org_id" binding:"required,max=64"`
	Repo           string   `json:"repo" binding:"required,max=255"`
	RunID          string   `json:"run_id" binding:"required,max=64"`
	Branch         string   `json:"branch" binding:"max=255"`
	Ref            string   `json:"ref" binding:"max=255"`
	Kind           string   `json:"kind" binding:"omitempty,oneof=ingestion analysis"`
	ArtifactFilter []string `json:"artifact_filter" binding:"max=20,dive,required"`
	Labels         []string `json:"labels" binding:"max=50,dive,required"`
	Team           string   `json:"team" binding:"max=64"`
	Priority       int      `json:"priority" binding:"gte=0,lte=10"`
	CorrelationID  string   `json:"correlation_id" binding:"max=64"`
}

type jobURI struct {
	OrgID string `uri:"org" binding:"required"`
	JobID string `uri:"id" binding:"required"`
}

// HandleSubmit submits a job, returning 202 for a new job and 200 for an active one.
func HandleSubmit(service core.JobService, trans ut.Translator, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := new(submitRequest)
		if err := c.ShouldBindJSON(req); err != nil {
			apiutils.AbortWithError(c, bindErr(err, trans), logger)
			return
		}
		repo, err := core.ParseRepository(req.OrgID, req.Repo)
		if err != nil {
			apiutils.AbortWithError(c, err, logger)
			return
		}
		if req.CorrelationID == "" {
			req.CorrelationID = c.GetHeader(CorrelationHeader)
		}
		resp, err := service.Submit(c.Request.Context(), &core.SubmitRequest{
			Repo:           repo,
			RunID:          req.RunID,
			Branch:         req.Branch,
			Ref:            req.Ref,
			Kind:           core.JobKind(req.Kind),
			ArtifactFilter: req.ArtifactFilter,
			Labels:         req.Labels,
			Team:           req.Team,
			Priority:       req.Priority,
			CorrelationID:  req.CorrelationID,
		})
		if err != nil {
			apiutils.AbortWithError(c, err, logger)
			return
		}
		if resp.Deduplicated {
			c.JSON(http.StatusOK, resp)
			return
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

// HandleStatus returns the status of a job.
func HandleStatus(service core.JobService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var uri jobURI
		if err := c.ShouldBindUri(&uri); err != nil {
			apiutils.AbortWithError(c, bindErr(err, nil), logger)
			return
		}
		status, err := service.Status(c.Request.Context(), uri.OrgID, uri.JobID)
		if err != nil {
			apiutils.AbortWithError(c, err, logger)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// HandleCancel cancels a queued or processing job.
func HandleCancel(service core.JobService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var uri jobURI
		if err := c.ShouldBindUri(&uri); err != nil {
			apiutils.AbortWithError(c, bindErr(err, nil), logger)
			return
		}
		if err := service.Cancel(c.Request.Context(), uri.OrgID, uri.JobID); err != nil {
			apiutils.AbortWithError(c, err, logger)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func bindErr(err error, trans ut.Translator) error {
	verr := errs.ValidationErr(err, trans)
	if _, ok := verr.(errs.ValidationErrors); ok {
		return verr
	}
	return errs.Wrap(err, errs.CodeInvalidInput, "invalid request body")
}
