package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// SQLJobInstanceRepository は JobInstance インターフェースの SQL データベース実装です。
// (job_name, job_key) の一意制約により、同じ JobInstance が二重に作成されることを防ぎます。
type SQLJobInstanceRepository struct {
	*sqlBase
}

const jobInstanceColumns = "id, job_name, job_key, create_time, version"

// SaveJobInstance は新しい JobInstance をデータベースに保存します。
func (r *SQLJobInstanceRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	query := `INSERT INTO batch_job_instance (` + jobInstanceColumns + `) VALUES (?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, query,
		jobInstance.ID,
		jobInstance.JobName,
		jobInstance.JobKey,
		jobInstance.CreateTime.UTC(),
		jobInstance.Version,
	)
	if err != nil {
		if r.dialect.IsDuplicateKeyError(err) {
			return exception.NewBatchError(repositoryModule,
				fmt.Sprintf("JobInstance (JobName: %s, JobKey: %s) は既に存在します", jobInstance.JobName, jobInstance.JobKey),
				errors.Join(exception.ErrDuplicateKey, err), false, false)
		}
		return exception.NewBatchError(repositoryModule, fmt.Sprintf("JobInstance (ID: %s) の保存に失敗しました", jobInstance.ID), err, exception.IsTemporary(err), false)
	}
	logger.Debugf("JobInstance (ID: %s, JobName: %s) を保存しました。", jobInstance.ID, jobInstance.JobName)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobInstance(row rowScanner) (*core.JobInstance, error) {
	inst := &core.JobInstance{}
	if err := row.Scan(&inst.ID, &inst.JobName, &inst.JobKey, &inst.CreateTime, &inst.Version); err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *SQLJobInstanceRepository) findOne(ctx context.Context, desc string, query string, args ...any) (*core.JobInstance, error) {
	inst, err := scanJobInstance(r.queryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(exception.ErrJobInstanceNotFound, "JobInstance (%s) が見つかりませんでした", desc)
		}
		return nil, exception.NewBatchError(repositoryModule, fmt.Sprintf("JobInstance (%s) の取得に失敗しました", desc), err, exception.IsTemporary(err), false)
	}
	return inst, nil
}

// FindJobInstanceByJobNameAndKey はジョブ名とジョブキーに一致する JobInstance を取得します。
func (r *SQLJobInstanceRepository) FindJobInstanceByJobNameAndKey(ctx context.Context, jobName, jobKey string) (*core.JobInstance, error) {
	query := `SELECT ` + jobInstanceColumns + ` FROM batch_job_instance WHERE job_name = ? AND job_key = ?`
	return r.findOne(ctx, fmt.Sprintf("JobName: %s, JobKey: %s", jobName, jobKey), query, jobName, jobKey)
}

// FindJobInstanceByID は指定された ID の JobInstance を取得します。
func (r *SQLJobInstanceRepository) FindJobInstanceByID(ctx context.Context, instanceID string) (*core.JobInstance, error) {
	query := `SELECT ` + jobInstanceColumns + ` FROM batch_job_instance WHERE id = ?`
	return r.findOne(ctx, "ID: "+instanceID, query, instanceID)
}

// FindJobInstancesByJobName は指定されたジョブ名の JobInstance を作成が新しい順に取得します。
func (r *SQLJobInstanceRepository) FindJobInstancesByJobName(ctx context.Context, jobName string) ([]*core.JobInstance, error) {
	query := `SELECT ` + jobInstanceColumns + ` FROM batch_job_instance WHERE job_name = ? ORDER BY create_time DESC, id DESC`
	rows, err := r.query(ctx, query, jobName)
	if err != nil {
		return nil, exception.NewBatchError(repositoryModule, fmt.Sprintf("JobInstance (JobName: %s) の一覧取得に失敗しました", jobName), err, exception.IsTemporary(err), false)
	}
	defer rows.Close()

	out := make([]*core.JobInstance, 0)
	for rows.Next() {
		inst, err := scanJobInstance(rows)
		if err != nil {
			return nil, exception.NewBatchError(repositoryModule, "JobInstance の読み込みに失敗しました", err, false, false)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError(repositoryModule, "JobInstance の読み込みに失敗しました", err, false, false)
	}
	return out, nil
}

// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
func (r *SQLJobInstanceRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM batch_job_instance WHERE job_name = ?`, jobName).Scan(&n); err != nil {
		return 0, exception.NewBatchError(repositoryModule, fmt.Sprintf("JobInstance (JobName: %s) の件数取得に失敗しました", jobName), err, exception.IsTemporary(err), false)
	}
	return n, nil
}

// GetJobNames はリポジトリに存在する全てのジョブ名を返します。
func (r *SQLJobInstanceRepository) GetJobNames(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, `SELECT DISTINCT job_name FROM batch_job_instance ORDER BY job_name`)
	if err != nil {
		return nil, exception.NewBatchError(repositoryModule, "ジョブ名の取得に失敗しました", err, exception.IsTemporary(err), false)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, exception.NewBatchError(repositoryModule, "ジョブ名の読み込みに失敗しました", err, false, false)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
