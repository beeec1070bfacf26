package util

import (
	"context"
	"sync"
	"time"
)

type ContextJob struct {
	jobDone chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (cj *ContextJob) Done() {
	cj.once.Do(func() {
		close(cj.jobDone)
	})
}

func (cj *ContextJob) GetContext() context.Context {
	return cj.ctx
}

// DetachedContextWithJob returns a job context that survives the cancellation
// of parent but keeps its values. It is cancelled when the job reports Done or
// maxDelay after the call, whichever comes first.
func DetachedContextWithJob(
	parent context.Context,
	maxDelay time.Duration,
) *ContextJob {
	jobDone := make(chan struct{})
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	go func() {
		// Either wait for job finish using a channel signaling,
		// or just timeout after max delay duration.
		select {
		case <-jobDone:
			cancel()
		case <-time.After(maxDelay):
			cancel()
		}
	}()

	return &ContextJob{
		ctx:     ctx,
		cancel:  cancel,
		jobDone: jobDone,
	}
}
