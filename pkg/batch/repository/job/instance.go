package job

import (
	"context"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
)

// JobInstance は JobInstance の永続化と取得に関する操作を定義します。
type JobInstance interface {
	// SaveJobInstance は新しい JobInstance を永続化します。
	// 同じ (JobName, JobKey) の JobInstance が既に存在する場合は exception.ErrDuplicateKey を返します。
	SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error

	// FindJobInstanceByJobNameAndKey はジョブ名とジョブキーに一致する JobInstance を検索します。
	// 見つからない場合は exception.ErrJobInstanceNotFound を返します。
	FindJobInstanceByJobNameAndKey(ctx context.Context, jobName, jobKey string) (*core.JobInstance, error)

	// FindJobInstanceByID は指定された ID の JobInstance を検索します。
	FindJobInstanceByID(ctx context.Context, instanceID string) (*core.JobInstance, error)

	// FindJobInstancesByJobName は指定されたジョブ名の JobInstance を作成が新しい順に返します。
	FindJobInstancesByJobName(ctx context.Context, jobName string) ([]*core.JobInstance, error)

	// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
	GetJobInstanceCount(ctx context.Context, jobName string) (int, error)

	// GetJobNames はリポジトリに存在する全てのジョブ名を名前順で返します。
	GetJobNames(ctx context.Context) ([]string, error)
}
