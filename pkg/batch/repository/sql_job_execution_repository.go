package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
	serialization "github.com/tigerroll/jobrestart/pkg/batch/util/serialization"
)

// SQLJobExecutionRepository は JobExecution インターフェースの SQL データベース実装です。
// job_parameters 列は INSERT 時にのみ書き込まれ、UPDATE では変更されません。
type SQLJobExecutionRepository struct {
	*sqlBase
	stepExecutionRepo *SQLStepExecutionRepository
}

const jobExecutionColumns = "id, job_instance_id, job_name, status, exit_status, exit_description, start_time, end_time, create_time, last_updated, version, job_parameters, failures, execution_context, current_step_name"

// SaveJobExecution は新しい JobExecution をデータベースに保存します。
func (r *SQLJobExecutionRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	paramsJSON, err := serialization.MarshalJobParameters(jobExecution.Parameters)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "JobParameters のエンコードに失敗しました", err, false, false)
	}
	failuresJSON, err := serialization.MarshalFailures(jobExecution.Failures)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "Failures のエンコードに失敗しました", err, false, false)
	}
	contextJSON, err := serialization.MarshalExecutionContext(jobExecution.ExecutionContext)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "JobExecution ExecutionContext のシリアライズに失敗しました", err, false, false)
	}

	query := `INSERT INTO batch_job_execution (` + jobExecutionColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		jobExecution.ID,
		jobExecution.JobInstanceID,
		jobExecution.JobName,
		string(jobExecution.Status),
		string(jobExecution.ExitStatus),
		jobExecution.ExitDescription,
		nullTime(jobExecution.StartTime),
		nullTime(jobExecution.EndTime),
		jobExecution.CreateTime.UTC(),
		jobExecution.LastUpdated.UTC(),
		jobExecution.Version,
		string(paramsJSON),
		string(failuresJSON),
		string(contextJSON),
		jobExecution.CurrentStepName,
	)
	if err != nil {
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("JobExecution (ID: %s) の保存に失敗しました", jobExecution.ID), err, exception.IsTemporary(err), false)
	}

	logger.Debugf("JobExecution (ID: %s, JobInstanceID: %s) を保存しました。", jobExecution.ID, jobExecution.JobInstanceID)
	return nil
}

// UpdateJobExecution は既存の JobExecution の状態をデータベースで更新します。
func (r *SQLJobExecutionRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	failuresJSON, err := serialization.MarshalFailures(jobExecution.Failures)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "Failures のエンコードに失敗しました", err, false, false)
	}
	contextJSON, err := serialization.MarshalExecutionContext(jobExecution.ExecutionContext)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "JobExecution ExecutionContext のシリアライズに失敗しました", err, false, false)
	}

	now := time.Now()
	query := `UPDATE batch_job_execution
    SET status = ?, exit_status = ?, exit_description = ?, start_time = ?, end_time = ?, last_updated = ?, version = ?, failures = ?, execution_context = ?, current_step_name = ?
    WHERE id = ?`
	res, err := r.exec(ctx, query,
		string(jobExecution.Status),
		string(jobExecution.ExitStatus),
		jobExecution.ExitDescription,
		nullTime(jobExecution.StartTime),
		nullTime(jobExecution.EndTime),
		now.UTC(),
		jobExecution.Version+1,
		string(failuresJSON),
		string(contextJSON),
		jobExecution.CurrentStepName,
		jobExecution.ID,
	)
	if err != nil {
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("JobExecution (ID: %s) の更新に失敗しました", jobExecution.ID), err, exception.IsTemporary(err), false)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("JobExecution (ID: %s) の更新結果取得に失敗しました", jobExecution.ID), err, false, false)
	}
	if rowsAffected == 0 {
		return notFound(exception.ErrJobExecutionNotFound, "JobExecution (ID: %s) の更新対象が見つかりませんでした", jobExecution.ID)
	}

	jobExecution.Version++
	jobExecution.LastUpdated = now
	logger.Debugf("JobExecution (ID: %s) を更新しました。Status: %s", jobExecution.ID, jobExecution.Status)
	return nil
}

func scanJobExecution(row rowScanner) (*core.JobExecution, error) {
	je := &core.JobExecution{}
	var (
		status, exitStatus                    string
		exitDescription, currentStepName      sql.NullString
		startTime, endTime                    sql.NullTime
		paramsJSON, failuresJSON, contextJSON sql.NullString
	)
	err := row.Scan(
		&je.ID,
		&je.JobInstanceID,
		&je.JobName,
		&status,
		&exitStatus,
		&exitDescription,
		&startTime,
		&endTime,
		&je.CreateTime,
		&je.LastUpdated,
		&je.Version,
		&paramsJSON,
		&failuresJSON,
		&contextJSON,
		&currentStepName,
	)
	if err != nil {
		return nil, err
	}

	je.Status = core.JobStatus(status)
	je.ExitStatus = core.ExitStatus(exitStatus)
	je.ExitDescription = exitDescription.String
	je.CurrentStepName = currentStepName.String
	je.StartTime = fromNullTime(startTime)
	je.EndTime = fromNullTime(endTime)

	if je.Parameters, err = serialization.UnmarshalJobParameters([]byte(paramsJSON.String)); err != nil {
		return nil, err
	}
	if je.Failures, err = serialization.UnmarshalFailures([]byte(failuresJSON.String)); err != nil {
		return nil, err
	}
	if je.ExecutionContext, err = serialization.UnmarshalExecutionContext([]byte(contextJSON.String)); err != nil {
		return nil, err
	}
	je.StepExecutions = make([]*core.StepExecution, 0)
	return je, nil
}

func (r *SQLJobExecutionRepository) attachSteps(ctx context.Context, je *core.JobExecution) error {
	steps, err := r.stepExecutionRepo.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return err
	}
	je.StepExecutions = steps
	return nil
}

func (r *SQLJobExecutionRepository) findOne(ctx context.Context, desc string, query string, args ...any) (*core.JobExecution, error) {
	je, err := scanJobExecution(r.queryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(exception.ErrJobExecutionNotFound, "JobExecution (%s) が見つかりませんでした", desc)
		}
		return nil, exception.NewBatchError(repositoryModule, fmt.Sprintf("JobExecution (%s) の取得に失敗しました", desc), err, exception.IsTemporary(err), false)
	}
	if err := r.attachSteps(ctx, je); err != nil {
		return nil, err
	}
	return je, nil
}

func (r *SQLJobExecutionRepository) findMany(ctx context.Context, desc string, query string, args ...any) ([]*core.JobExecution, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, exception.NewBatchError(repositoryModule, fmt.Sprintf("JobExecution (%s) の一覧取得に失敗しました", desc), err, exception.IsTemporary(err), false)
	}
	out := make([]*core.JobExecution, 0)
	for rows.Next() {
		je, err := scanJobExecution(rows)
		if err != nil {
			rows.Close()
			return nil, exception.NewBatchError(repositoryModule, "JobExecution の読み込みに失敗しました", err, false, false)
		}
		out = append(out, je)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, exception.NewBatchError(repositoryModule, "JobExecution の読み込みに失敗しました", err, false, false)
	}

	// rows を閉じてから StepExecution を読み込む。トランザクション内では同時に 1 つの結果セットしか開けないドライバがある。
	for _, je := range out {
		if err := r.attachSteps(ctx, je); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindJobExecutionByID は指定された ID の JobExecution をデータベースから取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*core.JobExecution, error) {
	query := `SELECT ` + jobExecutionColumns + ` FROM batch_job_execution WHERE id = ?`
	return r.findOne(ctx, "ID: "+executionID, query, executionID)
}

// FindLatestJobExecution は指定された JobInstance の最新の JobExecution を取得します。
func (r *SQLJobExecutionRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*core.JobExecution, error) {
	query := `SELECT ` + jobExecutionColumns + ` FROM batch_job_execution WHERE job_instance_id = ? ORDER BY create_time DESC, id DESC LIMIT 1`
	return r.findOne(ctx, "JobInstanceID: "+jobInstanceID, query, jobInstanceID)
}

// FindJobExecutionsByJobInstance は JobInstance の全ての JobExecution を作成順に取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	query := `SELECT ` + jobExecutionColumns + ` FROM batch_job_execution WHERE job_instance_id = ? ORDER BY create_time ASC, id ASC`
	return r.findMany(ctx, "JobInstanceID: "+jobInstance.ID, query, jobInstance.ID)
}

// FindRunningJobExecutions は指定されたジョブ名で実行中の JobExecution を取得します。
func (r *SQLJobExecutionRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*core.JobExecution, error) {
	query := `SELECT ` + jobExecutionColumns + ` FROM batch_job_execution WHERE job_name = ? AND status IN (?, ?, ?) ORDER BY create_time ASC, id ASC`
	return r.findMany(ctx, "JobName: "+jobName, query, jobName,
		string(core.BatchStatusStarting), string(core.BatchStatusStarted), string(core.BatchStatusStopping))
}
