package usecase

import (
	"time"

	"github.com/semmidev/keepsake/internal/domain"
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Recorder receives orchestration measurements.
type Recorder interface {
	BackupFinished(kind domain.ResourceKind, status domain.BackupStatus, took time.Duration)
	RollbackFinished(status domain.RollbackStatus)
	RetentionPruned(deleted, artifactErrors int)
	InflightChanged(delta int)
	TickCompleted(res TickResult)
}

type noopRecorder struct{}

func (noopRecorder) BackupFinished(domain.ResourceKind, domain.BackupStatus, time.Duration) {}
func (noopRecorder) RollbackFinished(domain.RollbackStatus)                                 {}
func (noopRecorder) RetentionPruned(int, int)                                               {}
func (noopRecorder) InflightChanged(int)                                                    {}
func (noopRecorder) TickCompleted(TickResult)                                               {}

func recorderOrNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
