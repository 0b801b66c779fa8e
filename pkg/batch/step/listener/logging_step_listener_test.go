package listener

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

func TestLoggingStepListener(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	je := core.NewJobExecution(core.NewJobInstance("job", "key"), core.NewJobParameters())
	se := core.NewStepExecution(je, "load")
	l := NewLoggingStepListener()

	l.BeforeStep(context.Background(), se)
	assert.Contains(t, buf.String(), "load")

	buf.Reset()
	se.MarkAsStarted()
	se.ReadCount = 7
	se.MarkAsCompleted()
	l.AfterStep(context.Background(), se)
	assert.Contains(t, buf.String(), "Read: 7")
}
