package factory

import (
	"fmt"
	"sort"
	"sync"

	config "github.com/tigerroll/jobrestart/pkg/batch/config"
	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// JobBuilder は、特定の Job を生成するための関数型です。
// 依存関係 (jobRepository, config) を受け取り、生成された core.Job インターフェースとエラーを返します。
type JobBuilder func(jobRepository job.JobRepository, cfg *config.Config) (core.Job, error)

// JobFactory はジョブ名から Job オブジェクトを生成するためのファクトリです。
type JobFactory struct {
	config        *config.Config
	jobRepository job.JobRepository

	mu          sync.RWMutex
	jobBuilders map[string]JobBuilder
}

// NewJobFactory は新しい JobFactory のインスタンスを作成します。
func NewJobFactory(cfg *config.Config, repo job.JobRepository) *JobFactory {
	return &JobFactory{
		config:        cfg,
		jobRepository: repo,
		jobBuilders:   make(map[string]JobBuilder),
	}
}

// RegisterJobBuilder は、指定された名前でジョブビルド関数を登録します。
// 同じ名前で登録した場合は上書きされます。
func (f *JobFactory) RegisterJobBuilder(name string, builder JobBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobBuilders[name] = builder
	logger.Debugf("JobFactory: ジョブビルダー '%s' を登録しました。", name)
}

// CreateJob は指定されたジョブ名の core.Job を生成します。
// 登録されていないジョブ名の場合は exception.ErrJobNotFound をラップしたエラーを返します。
func (f *JobFactory) CreateJob(jobName string) (core.Job, error) {
	module := "job_factory"

	f.mu.RLock()
	builder, ok := f.jobBuilders[jobName]
	f.mu.RUnlock()
	if !ok {
		return nil, exception.NewBatchError(module, fmt.Sprintf("ジョブ '%s' は登録されていません", jobName), exception.ErrJobNotFound, false, false)
	}

	j, err := builder(f.jobRepository, f.config)
	if err != nil {
		logger.Errorf("JobFactory: ジョブ '%s' の生成に失敗しました: %v", jobName, err)
		return nil, exception.NewBatchError(module, fmt.Sprintf("ジョブ '%s' の生成に失敗しました", jobName), err, false, false)
	}
	logger.Debugf("JobFactory: ジョブ '%s' を生成しました。", jobName)
	return j, nil
}

// GetJobNames は登録されている全てのジョブ名を昇順で返します。
func (f *JobFactory) GetJobNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.jobBuilders))
	for name := range f.jobBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
