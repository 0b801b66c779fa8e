package core

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus はジョブ実行およびステップ実行の状態を表します。
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusStopping  JobStatus = "STOPPING"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusAbandoned JobStatus = "ABANDONED"
	BatchStatusUnknown   JobStatus = "UNKNOWN"
)

// IsFinished は JobStatus が終了状態かどうかを判定するヘルパーメソッドです。
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRunning は STARTING, STARTED, STOPPING のいずれかであれば true を返します。
func (s JobStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return true
	default:
		return false
	}
}

// IsRestartable は同じ JobInstance で新しい JobExecution を開始できる状態かどうかを返します。
func (s JobStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus は JobStatus を対応する ExitStatus に変換します。
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus はジョブ/ステップの終了時の詳細なステータスを表します。
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusNoOp      ExitStatus = "NOOP"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
)

// ExecutionContext はジョブやステップの状態を共有するためのキー-値ストアです。
type ExecutionContext map[string]interface{}

// NewExecutionContext は空の ExecutionContext を作成します。
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put はキーに値を設定します。
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get はキーに対応する値を返します。
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// GetString は文字列として値を取得します。
func (ec ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec[key].(string)
	return v, ok
}

// GetInt64 は整数として値を取得します。
// JSON から復元した値は float64 になっているため、それも受け付けます。
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	switch v := ec[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetFloat64 は浮動小数点数として値を取得します。
func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	switch v := ec[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetBool は真偽値として値を取得します。
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	v, ok := ec[key].(bool)
	return v, ok
}

// Copy は ExecutionContext の浅いコピーを返します。nil の場合も空のマップを返します。
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// JobInstance は (ジョブ名, ジョブキー) で一意に識別されるジョブの論理的な実行単位です。
// 一度作成されると変更も削除もされません。
type JobInstance struct {
	ID         string
	JobName    string
	JobKey     string
	CreateTime time.Time
	Version    int
}

// NewJobInstance は新しい JobInstance を作成します。ID は作成順に並ぶ UUIDv7 です。
func NewJobInstance(jobName, jobKey string) *JobInstance {
	return &JobInstance{
		ID:         newID(),
		JobName:    jobName,
		JobKey:     jobKey,
		CreateTime: time.Now(),
		Version:    0,
	}
}

// JobExecution はジョブの単一の実行を表す構造体です。
// Parameters は起動時に渡されたパラメータそのもので、作成後に更新されることはありません。
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	StartTime        time.Time
	EndTime          time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitDescription  string
	Failures         []error
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
}

// NewJobExecution は JobInstance に属する新しい JobExecution を STARTING 状態で作成します。
func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               newID(),
		JobInstanceID:    instance.ID,
		JobName:          instance.JobName,
		Parameters:       params,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make([]error, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// MarkAsStarted は JobExecution の状態を実行中に更新します。
func (je *JobExecution) MarkAsStarted() {
	now := time.Now()
	je.Status = BatchStatusStarted
	je.ExitStatus = ExitStatusExecuting
	je.StartTime = now
	je.LastUpdated = now
}

// MarkAsCompleted は JobExecution の状態を完了に更新します。
func (je *JobExecution) MarkAsCompleted() {
	je.finish(BatchStatusCompleted)
}

// MarkAsFailed は JobExecution の状態を失敗に更新し、エラー情報を追加します。
func (je *JobExecution) MarkAsFailed(err error) {
	je.AddFailureException(err)
	je.finish(BatchStatusFailed)
	if err != nil {
		je.ExitDescription = err.Error()
	}
}

// MarkAsStopped は JobExecution の状態を停止に更新します。
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped)
}

// MarkAsAbandoned は JobExecution を放棄済みにします。放棄された JobInstance は再起動できません。
func (je *JobExecution) MarkAsAbandoned() {
	je.Status = BatchStatusAbandoned
	je.ExitStatus = ExitStatusAbandoned
	je.LastUpdated = time.Now()
}

func (je *JobExecution) finish(status JobStatus) {
	now := time.Now()
	je.Status = status
	je.ExitStatus = status.ToExitStatus()
	je.EndTime = now
	je.LastUpdated = now
}

// AddFailureException は JobExecution にエラー情報を追加します。
func (je *JobExecution) AddFailureException(err error) {
	if err != nil {
		je.Failures = append(je.Failures, err)
		je.LastUpdated = time.Now()
	}
}

// Clone は JobExecution のコピーを返します。StepExecutions も複製されます。
func (je *JobExecution) Clone() *JobExecution {
	if je == nil {
		return nil
	}
	out := *je
	out.Failures = append([]error(nil), je.Failures...)
	out.ExecutionContext = je.ExecutionContext.Copy()
	out.StepExecutions = make([]*StepExecution, len(je.StepExecutions))
	for i, se := range je.StepExecutions {
		out.StepExecutions[i] = se.Clone()
	}
	return &out
}

// StepExecution はステップの単一の実行を表す構造体です。
type StepExecution struct {
	ID               string
	JobExecutionID   string
	StepName         string
	StartTime        time.Time
	EndTime          time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         []error
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution は新しい StepExecution を作成し、JobExecution に追加します。
func NewStepExecution(jobExecution *JobExecution, stepName string) *StepExecution {
	se := &StepExecution{
		ID:               newID(),
		JobExecutionID:   jobExecution.ID,
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make([]error, 0),
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      time.Now(),
	}
	jobExecution.StepExecutions = append(jobExecution.StepExecutions, se)
	return se
}

// MarkAsStarted は StepExecution の状態を実行中に更新します。
func (se *StepExecution) MarkAsStarted() {
	now := time.Now()
	se.Status = BatchStatusStarted
	se.ExitStatus = ExitStatusExecuting
	se.StartTime = now
	se.LastUpdated = now
}

// MarkAsCompleted は StepExecution の状態を完了に更新します。
func (se *StepExecution) MarkAsCompleted() {
	now := time.Now()
	se.Status = BatchStatusCompleted
	se.ExitStatus = ExitStatusCompleted
	se.EndTime = now
	se.LastUpdated = now
}

// MarkAsFailed は StepExecution の状態を失敗に更新し、エラー情報を追加します。
func (se *StepExecution) MarkAsFailed(err error) {
	now := time.Now()
	se.Status = BatchStatusFailed
	se.ExitStatus = ExitStatusFailed
	se.EndTime = now
	se.LastUpdated = now
	se.AddFailureException(err)
}

// AddFailureException は StepExecution にエラー情報を追加します。
func (se *StepExecution) AddFailureException(err error) {
	if err != nil {
		se.Failures = append(se.Failures, err)
	}
}

// Apply は StepContribution の内容を StepExecution に反映します。
func (se *StepExecution) Apply(c *StepContribution) {
	if c == nil {
		return
	}
	se.ReadCount += c.ReadCount
	se.WriteCount += c.WriteCount
	se.FilterCount += c.FilterCount
	for k, v := range c.ExecutionContext {
		se.ExecutionContext.Put(k, v)
	}
}

// Clone は StepExecution のコピーを返します。
func (se *StepExecution) Clone() *StepExecution {
	if se == nil {
		return nil
	}
	out := *se
	out.Failures = append([]error(nil), se.Failures...)
	out.ExecutionContext = se.ExecutionContext.Copy()
	return &out
}

// StepContribution は 1 回のトランザクション内で Tasklet が行った作業の記録です。
// コミットに成功した場合のみ StepExecution に反映されます。
type StepContribution struct {
	StepExecution    *StepExecution
	ReadCount        int
	WriteCount       int
	FilterCount      int
	ExecutionContext ExecutionContext
}

// NewStepContribution は StepExecution に対する空の StepContribution を作成します。
func NewStepContribution(se *StepExecution) *StepContribution {
	return &StepContribution{
		StepExecution:    se,
		ExecutionContext: NewExecutionContext(),
	}
}

// IncrementReadCount は読み込み件数を加算します。
func (c *StepContribution) IncrementReadCount(n int) { c.ReadCount += n }

// IncrementWriteCount は書き込み件数を加算します。
func (c *StepContribution) IncrementWriteCount(n int) { c.WriteCount += n }

// IncrementFilterCount はフィルタ件数を加算します。
func (c *StepContribution) IncrementFilterCount(n int) { c.FilterCount += n }

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
