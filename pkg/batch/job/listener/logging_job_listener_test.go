package listener

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

func TestLoggingJobListener(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	je := core.NewJobExecution(core.NewJobInstance("job", "key"), core.NewJobParameters())
	l := NewLoggingJobListener()

	l.BeforeJob(context.Background(), je)
	assert.Contains(t, buf.String(), je.ID)

	buf.Reset()
	je.MarkAsFailed(errors.New("step broke"))
	l.AfterJob(context.Background(), je)
	assert.Contains(t, buf.String(), "step broke")
}
