package client

import "github.com/kiranshivaraju/tidyflow/pkg/models"

// Phase is the coarse state a caller shows for a job.
type Phase string

const (
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// View is derived from the last observed job and nothing else.
type View struct {
	Phase       Phase
	Status      models.Status
	Step        int
	Steps       int
	CanDownload bool
	Error       *models.JobError
}

// ViewOf projects a job snapshot. A nil job means nothing has been
// observed yet, so the upload is still in flight.
func ViewOf(job *models.Job) View {
	v := View{Phase: PhaseUploading, Steps: len(models.Stages)}
	if job == nil {
		return v
	}
	v.Status = job.Status

	switch job.Status {
	case models.JobStatusCompleted:
		v.Phase = PhaseDone
		v.Step = v.Steps
		v.CanDownload = job.OutputRef != nil && job.ReportRef != nil
	case models.JobStatusFailed:
		v.Phase = PhaseFailed
		v.Error = job.Error
	default:
		v.Phase = PhaseProcessing
		for i, s := range models.Stages {
			if s.Status() == job.Status {
				v.Step = i + 1
			}
		}
	}
	return v
}
