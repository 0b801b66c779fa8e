package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/jobrestart/pkg/batch/job/core"
)

func mustParams(t *testing.T, b *core.JobParametersBuilder) core.JobParameters {
	t.Helper()
	p, err := b.ToJobParameters()
	require.NoError(t, err)
	return p
}

func TestGenerateKey_IgnoresNonIdentifying(t *testing.T) {
	g := core.NewDefaultJobKeyGenerator()

	first := mustParams(t, core.NewJobParametersBuilder().
		AddLong("id", 1, true).
		AddString("exampleNonIdentifying", "first", false))
	second := mustParams(t, core.NewJobParametersBuilder().
		AddString("exampleNonIdentifying", "second", false).
		AddLong("id", 1, true))
	bare := mustParams(t, core.NewJobParametersBuilder().AddLong("id", 1, true))

	assert.Equal(t, g.GenerateKey("job", first), g.GenerateKey("job", second))
	assert.Equal(t, g.GenerateKey("job", first), g.GenerateKey("job", bare))
	assert.Len(t, g.GenerateKey("job", first), 64)
}

func TestGenerateKey_DiffersOnIdentifying(t *testing.T) {
	g := core.NewDefaultJobKeyGenerator()
	base := g.GenerateKey("job", mustParams(t, core.NewJobParametersBuilder().AddLong("id", 1, true)))

	cases := map[string]core.JobParameters{
		"value":     mustParams(t, core.NewJobParametersBuilder().AddLong("id", 2, true)),
		"type":      mustParams(t, core.NewJobParametersBuilder().AddString("id", "1", true)),
		"name":      mustParams(t, core.NewJobParametersBuilder().AddLong("key", 1, true)),
		"extra":     mustParams(t, core.NewJobParametersBuilder().AddLong("id", 1, true).AddString("x", "y", true)),
		"flag only": mustParams(t, core.NewJobParametersBuilder().AddLong("id", 1, false)),
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, base, g.GenerateKey("job", params))
		})
	}

	assert.NotEqual(t, base, g.GenerateKey("other", mustParams(t, core.NewJobParametersBuilder().AddLong("id", 1, true))))
}

func TestGenerateKey_FieldBoundaries(t *testing.T) {
	g := core.NewDefaultJobKeyGenerator()
	a := mustParams(t, core.NewJobParametersBuilder().AddString("ab", "c", true))
	b := mustParams(t, core.NewJobParametersBuilder().AddString("a", "bc", true))

	assert.NotEqual(t, g.GenerateKey("job", a), g.GenerateKey("job", b))
}

func TestGenerateKey_EmptyParameters(t *testing.T) {
	g := core.NewDefaultJobKeyGenerator()
	onlyNonIdentifying := mustParams(t, core.NewJobParametersBuilder().AddString("x", "y", false))

	assert.Equal(t, g.GenerateKey("job", core.NewJobParameters()), g.GenerateKey("job", onlyNonIdentifying))
}
