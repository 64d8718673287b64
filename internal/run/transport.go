package run

import "github.com/jobgtm/jobs-ingest/internal/apperror"

type GetRunRequest struct {
	RunID string
}

func (r GetRunRequest) Validate() *apperror.AppError {
	if r.RunID == "" {
		return apperror.New(apperror.BadRequest, "invalid run id")
	}
	return nil
}

type ListRunsRequest struct {
	Source string
}

func (r ListRunsRequest) Validate() *apperror.AppError {
	return nil
}
