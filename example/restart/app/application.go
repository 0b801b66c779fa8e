package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	godotenv "github.com/joho/godotenv"

	restartjob "github.com/tigerroll/jobrestart/example/restart/job"
	config "github.com/tigerroll/jobrestart/pkg/batch/config"
	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	initializer "github.com/tigerroll/jobrestart/pkg/batch/initializer"
	joblauncher "github.com/tigerroll/jobrestart/pkg/batch/job/joblauncher"
	joboperator "github.com/tigerroll/jobrestart/pkg/batch/job/joboperator"
	job "github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// 2 回の起動で使う非識別パラメータの値
var nonIdentifyingValues = []string{"first", "second"}

// setupApplication は .env のロードと初期化を行い、ジョブを登録します。
func setupApplication(ctx context.Context, envFilePath string, embeddedConfig []byte, out io.Writer) (*initializer.BatchInitializer, joblauncher.JobLauncher, joboperator.JobOperator, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env ファイル '%s' をロードしませんでした: %v", envFilePath, err)
		} else {
			logger.Infof(".env ファイル '%s' をロードしました。", envFilePath)
		}
	}

	batchInitializer := initializer.NewBatchInitializer(&config.Config{EmbeddedConfig: embeddedConfig})
	jobLauncher, jobOperator, err := batchInitializer.Initialize(ctx)
	if err != nil {
		_ = batchInitializer.Close()
		return nil, nil, nil, exception.NewBatchError("app", "バッチアプリケーションの初期化に失敗しました", err, false, false)
	}

	batchInitializer.JobFactory.RegisterJobBuilder(restartjob.JobName, func(jobRepository job.JobRepository, cfg *config.Config) (core.Job, error) {
		return restartjob.NewRestartJob(jobRepository, cfg, out), nil
	})
	logger.Debugf("Job '%s' のビルダーを登録しました。", restartjob.JobName)

	return batchInitializer, jobLauncher, jobOperator, nil
}

// launchParameters は id=1 (識別) と exampleNonIdentifying (非識別) からなる JobParameters を作成します。
func launchParameters(nonIdentifying string) (core.JobParameters, error) {
	return core.NewJobParametersBuilder().
		AddLong("id", 1, true).
		AddString("exampleNonIdentifying", nonIdentifying, false).
		ToJobParameters()
}

// executeJob は同じ識別パラメータでジョブを 2 回起動し、起動のたびに JobInstance の全 JobExecution を出力します。
func executeJob(ctx context.Context, jobLauncher joblauncher.JobLauncher, jobOperator joboperator.JobOperator, jobName string, out io.Writer) error {
	for _, v := range nonIdentifyingValues {
		params, err := launchParameters(v)
		if err != nil {
			return err
		}
		jobExecution, err := jobLauncher.Launch(ctx, jobName, params)
		if err != nil {
			return err
		}
		logger.Infof("Job '%s' (Execution ID: %s) は %s で終了しました。", jobName, jobExecution.ID, jobExecution.Status)
		if err := printAllJobExecutions(ctx, jobOperator, jobName, params, out); err != nil {
			return err
		}
	}
	return nil
}

func printAllJobExecutions(ctx context.Context, jobOperator joboperator.JobOperator, jobName string, params core.JobParameters, out io.Writer) error {
	instance, err := jobOperator.FindJobInstance(ctx, jobName, params)
	if err != nil {
		return err
	}
	executions, err := jobOperator.GetJobExecutions(ctx, instance.ID)
	if err != nil {
		return err
	}
	for _, je := range executions {
		fmt.Fprintf(out, "Execution ID: '%s', Parameters: '%s'\n", je.ID, je.Parameters)
	}
	return nil
}

// RunApplication はアプリケーションのメインロジックを実行し、終了コードを返します。
func RunApplication(ctx context.Context, envFilePath string, embeddedConfig []byte, out io.Writer) int {
	batchInitializer, jobLauncher, jobOperator, err := setupApplication(ctx, envFilePath, embeddedConfig, out)
	if err != nil {
		return handleApplicationError(err)
	}
	defer func() {
		if closeErr := batchInitializer.Close(); closeErr != nil {
			logger.Errorf("バッチアプリケーションのリソースクローズ中にエラーが発生しました: %v", closeErr)
		}
	}()

	jobName := batchInitializer.Config.Batch.JobName
	if jobName == "" {
		jobName = restartjob.JobName
	}
	if err := executeJob(ctx, jobLauncher, jobOperator, jobName, out); err != nil {
		return handleApplicationError(err)
	}
	return 0
}

// handleApplicationError はエラーをログに出力し、終了コードを返します。
func handleApplicationError(err error) int {
	logger.Errorf("アプリケーションの実行中にエラーが発生しました: %v", err)
	var be *exception.BatchError
	if errors.As(err, &be) && be.StackTrace != "" {
		logger.Debugf("BatchError StackTrace:\n%s", be.StackTrace)
	}
	return 1
}
