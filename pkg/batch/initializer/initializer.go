package initializer

import (
	"context"
	"fmt"
	"time"

	config "github.com/tigerroll/jobrestart/pkg/batch/config"
	factory "github.com/tigerroll/jobrestart/pkg/batch/job/factory"
	joblauncher "github.com/tigerroll/jobrestart/pkg/batch/job/joblauncher"
	joboperator "github.com/tigerroll/jobrestart/pkg/batch/job/joboperator"
	repository "github.com/tigerroll/jobrestart/pkg/batch/repository"
	job "github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

const initializerModule = "initializer"

// BatchInitializer はバッチアプリケーションの初期化処理を担当します。
// Initialize の後、各フィールドに生成済みのコンポーネントが設定されます。
type BatchInitializer struct {
	Config        *config.Config
	JobRepository job.JobRepository
	JobFactory    *factory.JobFactory
	JobLauncher   *joblauncher.SimpleJobLauncher
	JobOperator   joboperator.JobOperator
}

// NewBatchInitializer は新しい BatchInitializer のインスタンスを作成します。
// cfg.EmbeddedConfig に YAML を設定しておくと、Initialize でロードされます。
func NewBatchInitializer(cfg *config.Config) *BatchInitializer {
	return &BatchInitializer{
		Config: cfg,
	}
}

// Initialize はバッチアプリケーションの初期化処理を実行します。
// .env ファイルのロードは呼び出し元で行います。
func (bi *BatchInitializer) Initialize(ctx context.Context) (joblauncher.JobLauncher, joboperator.JobOperator, error) {
	logger.Debugf("BatchInitializer.Initialize が呼び出されました。")

	// Step 1: 設定のロード
	var embedded []byte
	if bi.Config != nil {
		embedded = bi.Config.EmbeddedConfig
	}
	cfg, err := config.NewBytesConfigLoader(embedded).Load()
	if err != nil {
		return nil, nil, exception.NewBatchError(initializerModule, "設定のロードに失敗しました", err, false, false)
	}
	bi.Config = cfg

	logger.SetFormat(cfg.System.Logging.Format)
	logger.SetLogLevel(cfg.System.Logging.Level)
	logger.Infof("ロギングレベルを '%s' に設定しました。", cfg.System.Logging.Level)

	if cfg.System.Timezone != "" {
		loc, err := time.LoadLocation(cfg.System.Timezone)
		if err != nil {
			return nil, nil, exception.NewBatchError(initializerModule, fmt.Sprintf("タイムゾーン '%s' のロードに失敗しました", cfg.System.Timezone), err, false, false)
		}
		time.Local = loc
	}

	// Step 2: Job Repository の生成 (SQL の場合は接続とマイグレーションを含む)
	jobRepository, err := repository.NewJobRepository(ctx, *cfg)
	if err != nil {
		return nil, nil, exception.NewBatchError(initializerModule, "Job Repository の生成に失敗しました", err, exception.IsTemporary(err), false)
	}
	bi.JobRepository = jobRepository
	logger.Infof("Job Repository を生成しました (Type: %s)。", cfg.Database.Type)

	// Step 3: JobFactory の生成。ジョブビルダーの登録は呼び出し元で行います。
	bi.JobFactory = factory.NewJobFactory(cfg, jobRepository)
	logger.Debugf("JobFactory を Job Repository と共に作成しました。")

	// Step 4: JobLauncher と JobOperator の生成
	bi.JobLauncher = joblauncher.NewSimpleJobLauncher(jobRepository, bi.JobFactory,
		joblauncher.WithAllowRestartOfCompleted(cfg.Batch.Restart.AllowRestartCompleted))
	bi.JobOperator = joboperator.NewDefaultJobOperator(jobRepository, bi.JobLauncher, bi.JobFactory)
	logger.Infof("SimpleJobLauncher と DefaultJobOperator を生成しました。")

	return bi.JobLauncher, bi.JobOperator, nil
}

// Close は BatchInitializer が保持するリソースを解放します。
func (bi *BatchInitializer) Close() error {
	if bi.JobRepository == nil {
		return nil
	}
	if err := bi.JobRepository.Close(); err != nil {
		logger.Errorf("Job Repository のクローズに失敗しました: %v", err)
		return fmt.Errorf("Job Repository クローズエラー: %w", err)
	}
	logger.Infof("Job Repository を正常にクローズしました。")
	return nil
}
