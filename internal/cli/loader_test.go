package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spec.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRunSpec_Full(t *testing.T) {
	spec, err := LoadRunSpec("testdata/gaussian.cue")
	require.NoError(t, err)

	assert.Equal(t, "gaussian-2d", spec.Name)
	assert.Equal(t, "gaussian", spec.Likelihood)
	assert.Equal(t, []string{"x", "y"}, spec.Parameters)
	assert.Equal(t, []float64{-5, -5}, spec.Bounds.Lower)
	assert.Equal(t, 200, spec.NLive)
	assert.Equal(t, uint64(42), spec.Seed)
	assert.Equal(t, 100, spec.CheckpointEvery)
	assert.Equal(t, 2, spec.Dims())
}

func TestLoadRunSpec_RenderGolden(t *testing.T) {
	spec, err := LoadRunSpec("testdata/gaussian.cue")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "runspec_render", []byte(spec.Render()))
}

func TestLoadRunSpec_Defaults(t *testing.T) {
	path := writeSpec(t, `run: {
	likelihood: "rosenbrock"
	bounds: {
		lower: [-5, -5]
		upper: [5, 5]
	}
}`)
	spec, err := LoadRunSpec(path)
	require.NoError(t, err)

	assert.Equal(t, "run", spec.Name)
	assert.Equal(t, 500, spec.NLive)
	assert.Equal(t, 0.1, spec.Tolerance)
	assert.Equal(t, uint64(0), spec.Seed)
	// parameter names are generated when omitted
	assert.Equal(t, []string{"x0", "x1"}, spec.Parameters)

	m, err := spec.Model()
	require.NoError(t, err)
	assert.Equal(t, 2, m.Dims())
}

func TestLoadRunSpec_SamplerConfig(t *testing.T) {
	path := writeSpec(t, `run: {
	likelihood: "gaussian"
	bounds: {
		lower: [-1]
		upper: [1]
	}
	nlive: 50
	seed:  9
	proposal: {
		training_interval: 500
		workers:           4
	}
}`)
	spec, err := LoadRunSpec(path)
	require.NoError(t, err)

	cfg := spec.SamplerConfig()
	assert.Equal(t, 50, cfg.NLive)
	assert.Equal(t, uint64(9), cfg.Seed)
	assert.Equal(t, 500, cfg.Proposal.TrainingInterval)
	assert.Equal(t, 4, cfg.Proposal.Workers)
}

func TestLoadRunSpec_MissingFile(t *testing.T) {
	_, err := LoadRunSpec(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
}

func TestLoadRunSpec_UnknownLikelihood(t *testing.T) {
	path := writeSpec(t, `run: {
	likelihood: "cauchy"
	bounds: {
		lower: [-1]
		upper: [1]
	}
}`)
	_, err := LoadRunSpec(path)
	require.Error(t, err, "schema restricts likelihood to the catalog")
}

func TestLoadRunSpec_BoundsLengthMismatch(t *testing.T) {
	path := writeSpec(t, `run: {
	likelihood: "gaussian"
	bounds: {
		lower: [-1, -1]
		upper: [1]
	}
}`)
	_, err := LoadRunSpec(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestLoadRunSpec_ParameterCountMismatch(t *testing.T) {
	path := writeSpec(t, `run: {
	likelihood: "gaussian"
	parameters: ["a", "b", "c"]
	bounds: {
		lower: [-1, -1]
		upper: [1, 1]
	}
}`)
	_, err := LoadRunSpec(path)
	require.Error(t, err)
}

func TestLoadRunSpec_NormalizesParameterNames(t *testing.T) {
	// "é" written as e + combining acute must collide with precomposed "é"
	path := writeSpec(t, `run: {
	likelihood: "gaussian"
	parameters: ["é", "é"]
	bounds: {
		lower: [-1, -1]
		upper: [1, 1]
	}
}`)
	_, err := LoadRunSpec(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same name")
}

func TestLoadRunSpec_RejectsTooFewLivePoints(t *testing.T) {
	path := writeSpec(t, `run: {
	likelihood: "gaussian"
	nlive: 1
	bounds: {
		lower: [-1]
		upper: [1]
	}
}`)
	_, err := LoadRunSpec(path)
	require.Error(t, err)
}
