package jobs

import (
	"context"
)

// StartWorker runs queued jobs one at a time until ctx is done.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case job := <-m.queue:
			m.processJob(ctx, job)
		}
	}
}

func (m *Manager) processJob(ctx context.Context, job *Job) {
	m.logger.Info("processing job", "id", job.ID)

	// Errors are recorded on the job by execute.
	_, _ = m.execute(ctx, job)
}
