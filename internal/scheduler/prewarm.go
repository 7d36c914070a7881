package scheduler

import "context"

// Prewarmer 在缓存过期时提前刷新。
type Prewarmer interface {
	Prewarm(ctx context.Context) error
}

// PrewarmJob 周期性调用 Prewarmer，使请求路径尽量命中缓存。
type PrewarmJob struct {
	target Prewarmer
}

// NewPrewarmJob wraps target as a scheduler job.
func NewPrewarmJob(target Prewarmer) *PrewarmJob {
	return &PrewarmJob{target: target}
}

func (j *PrewarmJob) Name() string {
	return "avatar_prewarm"
}

func (j *PrewarmJob) Execute(ctx context.Context) error {
	return j.target.Prewarm(ctx)
}
