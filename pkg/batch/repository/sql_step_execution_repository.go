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

// SQLStepExecutionRepository は StepExecution インターフェースの SQL データベース実装です。
type SQLStepExecutionRepository struct {
	*sqlBase
}

const stepExecutionColumns = "id, job_execution_id, step_name, status, exit_status, read_count, write_count, commit_count, rollback_count, filter_count, failures, execution_context, start_time, end_time, last_updated, version"

// SaveStepExecution は新しい StepExecution をデータベースに保存します。
func (r *SQLStepExecutionRepository) SaveStepExecution(ctx context.Context, se *core.StepExecution) error {
	failuresJSON, err := serialization.MarshalFailures(se.Failures)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "Failures のエンコードに失敗しました", err, false, false)
	}
	contextJSON, err := serialization.MarshalExecutionContext(se.ExecutionContext)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "StepExecution ExecutionContext のシリアライズに失敗しました", err, false, false)
	}

	query := `INSERT INTO batch_step_execution (` + stepExecutionColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		se.ID,
		se.JobExecutionID,
		se.StepName,
		string(se.Status),
		string(se.ExitStatus),
		se.ReadCount,
		se.WriteCount,
		se.CommitCount,
		se.RollbackCount,
		se.FilterCount,
		string(failuresJSON),
		string(contextJSON),
		nullTime(se.StartTime),
		nullTime(se.EndTime),
		se.LastUpdated.UTC(),
		se.Version,
	)
	if err != nil {
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("StepExecution (ID: %s) の保存に失敗しました", se.ID), err, exception.IsTemporary(err), false)
	}
	logger.Debugf("StepExecution (ID: %s, StepName: %s) を保存しました。", se.ID, se.StepName)
	return nil
}

// UpdateStepExecution は既存の StepExecution の状態をデータベースで更新します。
func (r *SQLStepExecutionRepository) UpdateStepExecution(ctx context.Context, se *core.StepExecution) error {
	failuresJSON, err := serialization.MarshalFailures(se.Failures)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "Failures のエンコードに失敗しました", err, false, false)
	}
	contextJSON, err := serialization.MarshalExecutionContext(se.ExecutionContext)
	if err != nil {
		return exception.NewBatchError(repositoryModule, "StepExecution ExecutionContext のシリアライズに失敗しました", err, false, false)
	}

	now := time.Now()
	query := `UPDATE batch_step_execution
    SET status = ?, exit_status = ?, read_count = ?, write_count = ?, commit_count = ?, rollback_count = ?, filter_count = ?, failures = ?, execution_context = ?, start_time = ?, end_time = ?, last_updated = ?, version = ?
    WHERE id = ?`
	res, err := r.exec(ctx, query,
		string(se.Status),
		string(se.ExitStatus),
		se.ReadCount,
		se.WriteCount,
		se.CommitCount,
		se.RollbackCount,
		se.FilterCount,
		string(failuresJSON),
		string(contextJSON),
		nullTime(se.StartTime),
		nullTime(se.EndTime),
		now.UTC(),
		se.Version+1,
		se.ID,
	)
	if err != nil {
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("StepExecution (ID: %s) の更新に失敗しました", se.ID), err, exception.IsTemporary(err), false)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("StepExecution (ID: %s) の更新結果取得に失敗しました", se.ID), err, false, false)
	}
	if rowsAffected == 0 {
		return notFound(exception.ErrStepExecutionNotFound, "StepExecution (ID: %s) の更新対象が見つかりませんでした", se.ID)
	}

	se.Version++
	se.LastUpdated = now
	logger.Debugf("StepExecution (ID: %s) を更新しました。Status: %s", se.ID, se.Status)
	return nil
}

func scanStepExecution(row rowScanner) (*core.StepExecution, error) {
	se := &core.StepExecution{}
	var (
		status, exitStatus        string
		failuresJSON, contextJSON sql.NullString
		startTime, endTime        sql.NullTime
	)
	err := row.Scan(
		&se.ID,
		&se.JobExecutionID,
		&se.StepName,
		&status,
		&exitStatus,
		&se.ReadCount,
		&se.WriteCount,
		&se.CommitCount,
		&se.RollbackCount,
		&se.FilterCount,
		&failuresJSON,
		&contextJSON,
		&startTime,
		&endTime,
		&se.LastUpdated,
		&se.Version,
	)
	if err != nil {
		return nil, err
	}
	se.Status = core.JobStatus(status)
	se.ExitStatus = core.ExitStatus(exitStatus)
	se.StartTime = fromNullTime(startTime)
	se.EndTime = fromNullTime(endTime)
	if se.Failures, err = serialization.UnmarshalFailures([]byte(failuresJSON.String)); err != nil {
		return nil, err
	}
	if se.ExecutionContext, err = serialization.UnmarshalExecutionContext([]byte(contextJSON.String)); err != nil {
		return nil, err
	}
	return se, nil
}

func (r *SQLStepExecutionRepository) findOne(ctx context.Context, desc string, query string, args ...any) (*core.StepExecution, error) {
	se, err := scanStepExecution(r.queryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(exception.ErrStepExecutionNotFound, "StepExecution (%s) が見つかりませんでした", desc)
		}
		return nil, exception.NewBatchError(repositoryModule, fmt.Sprintf("StepExecution (%s) の取得に失敗しました", desc), err, exception.IsTemporary(err), false)
	}
	return se, nil
}

// FindStepExecutionByID は指定された ID の StepExecution を取得します。
func (r *SQLStepExecutionRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*core.StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + ` FROM batch_step_execution WHERE id = ?`
	return r.findOne(ctx, "ID: "+executionID, query, executionID)
}

// FindStepExecutionsByJobExecutionID は JobExecution の StepExecution を作成順に取得します。
func (r *SQLStepExecutionRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*core.StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + ` FROM batch_step_execution WHERE job_execution_id = ? ORDER BY id ASC`
	rows, err := r.query(ctx, query, jobExecutionID)
	if err != nil {
		return nil, exception.NewBatchError(repositoryModule, fmt.Sprintf("StepExecution (JobExecutionID: %s) の一覧取得に失敗しました", jobExecutionID), err, exception.IsTemporary(err), false)
	}
	defer rows.Close()

	out := make([]*core.StepExecution, 0)
	for rows.Next() {
		se, err := scanStepExecution(rows)
		if err != nil {
			return nil, exception.NewBatchError(repositoryModule, "StepExecution の読み込みに失敗しました", err, false, false)
		}
		out = append(out, se)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError(repositoryModule, "StepExecution の読み込みに失敗しました", err, false, false)
	}
	return out, nil
}

// FindLastStepExecution は JobInstance の中で指定されたステップの最新の StepExecution を取得します。
func (r *SQLStepExecutionRepository) FindLastStepExecution(ctx context.Context, jobInstanceID, stepName string) (*core.StepExecution, error) {
	query := `SELECT s.id, s.job_execution_id, s.step_name, s.status, s.exit_status, s.read_count, s.write_count, s.commit_count, s.rollback_count, s.filter_count, s.failures, s.execution_context, s.start_time, s.end_time, s.last_updated, s.version
    FROM batch_step_execution s
    JOIN batch_job_execution e ON e.id = s.job_execution_id
    WHERE e.job_instance_id = ? AND s.step_name = ?
    ORDER BY e.create_time DESC, e.id DESC, s.id DESC
    LIMIT 1`
	return r.findOne(ctx, fmt.Sprintf("JobInstanceID: %s, StepName: %s", jobInstanceID, stepName), query, jobInstanceID, stepName)
}
