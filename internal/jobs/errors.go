package jobs

import (
	"forestwatch/internal/domain/training"
	"forestwatch/pkg/errors"
)

func errJobEnded(s training.JobStatus) error {
	if s.Message != "" {
		return errors.Wrapf(errors.ErrJobFailed, "%s: %s", s.Status, s.Message)
	}
	return errors.Wrapf(errors.ErrJobFailed, "%s", s.Status)
}
