package cli

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/unicode/norm"

	"github.com/CChapmanbird/nessai/internal/model"
	"github.com/CChapmanbird/nessai/internal/proposal"
	"github.com/CChapmanbird/nessai/internal/sampler"
)

//go:embed schema.cue
var schemaCUE string

// RunSpec is a decoded and validated run specification.
type RunSpec struct {
	Name       string   `json:"name"`
	Likelihood string   `json:"likelihood"`
	Parameters []string `json:"parameters,omitempty"`
	Bounds     struct {
		Lower []float64 `json:"lower"`
		Upper []float64 `json:"upper"`
	} `json:"bounds"`
	NLive           int     `json:"nlive"`
	Tolerance       float64 `json:"tolerance"`
	Seed            uint64  `json:"seed"`
	MaxIterations   int     `json:"max_iterations"`
	MaxAttempts     int     `json:"max_attempts"`
	CheckpointEvery int     `json:"checkpoint_every"`
	Proposal        struct {
		TrainingInterval   int     `json:"training_interval"`
		AcceptanceFloor    float64 `json:"acceptance_floor"`
		Cooldown           int     `json:"cooldown"`
		BatchSize          int     `json:"batch_size"`
		Workers            int     `json:"workers"`
		WeightByLikelihood bool    `json:"weight_by_likelihood"`
	} `json:"proposal"`
}

// LoadRunSpec loads a run spec from a CUE file, unifies it with the
// embedded schema, and validates it.
func LoadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run spec: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %w", err)
	}
	user := ctx.CompileString(string(data), cue.Filename(path))
	if err := user.Err(); err != nil {
		return nil, fmt.Errorf("compile run spec: %w", err)
	}

	unified := schema.Unify(user)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, fmt.Errorf("validate run spec: %w", err)
	}

	runVal := unified.LookupPath(cue.ParsePath("run"))
	if !runVal.Exists() {
		return nil, fmt.Errorf("run spec %s: missing top-level run field", path)
	}

	var spec RunSpec
	if err := runVal.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode run spec: %w", err)
	}
	if err := spec.normalize(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// normalize applies cross-field checks the CUE schema cannot express and
// canonicalizes parameter names to NFC so that visually identical names
// written with different codepoint sequences refer to the same dimension.
func (s *RunSpec) normalize() error {
	dims := len(s.Bounds.Lower)
	if dims == 0 {
		return fmt.Errorf("run spec: bounds must have at least one dimension")
	}
	if len(s.Bounds.Upper) != dims {
		return fmt.Errorf("run spec: bounds length mismatch: %d lower vs %d upper",
			dims, len(s.Bounds.Upper))
	}

	if len(s.Parameters) == 0 {
		s.Parameters = make([]string, dims)
		for i := range s.Parameters {
			s.Parameters[i] = fmt.Sprintf("x%d", i)
		}
	}
	if len(s.Parameters) != dims {
		return fmt.Errorf("run spec: %d parameter names for %d dimensions",
			len(s.Parameters), dims)
	}
	seen := make(map[string]int, dims)
	for i, name := range s.Parameters {
		name = norm.NFC.String(strings.TrimSpace(name))
		if name == "" {
			return fmt.Errorf("run spec: parameter %d has an empty name", i)
		}
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("run spec: parameters %d and %d have the same name %q", prev, i, name)
		}
		seen[name] = i
		s.Parameters[i] = name
	}
	return nil
}

// Dims returns the number of sampled dimensions.
func (s *RunSpec) Dims() int { return len(s.Bounds.Lower) }

// Model constructs the model the spec names.
func (s *RunSpec) Model() (model.Model, error) {
	b, err := model.NewBounds(s.Bounds.Lower, s.Bounds.Upper)
	if err != nil {
		return nil, fmt.Errorf("run spec bounds: %w", err)
	}
	return model.Builtin(s.Likelihood, b)
}

// SamplerConfig converts the spec into a sampler configuration.
func (s *RunSpec) SamplerConfig() sampler.Config {
	return sampler.Config{
		NLive:         s.NLive,
		Tolerance:     s.Tolerance,
		MaxIterations: s.MaxIterations,
		MaxAttempts:   s.MaxAttempts,
		Seed:          s.Seed,
		Proposal: proposal.Config{
			TrainingInterval:   s.Proposal.TrainingInterval,
			AcceptanceFloor:    s.Proposal.AcceptanceFloor,
			Cooldown:           s.Proposal.Cooldown,
			BatchSize:          s.Proposal.BatchSize,
			Workers:            s.Proposal.Workers,
			WeightByLikelihood: s.Proposal.WeightByLikelihood,
		},
	}
}

// Render returns a canonical human-readable listing of the spec. The output
// is deterministic: it is what golden tests and `validate --verbose` show.
func (s *RunSpec) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\n", s.Name)
	fmt.Fprintf(&b, "likelihood: %s\n", s.Likelihood)
	fmt.Fprintf(&b, "dimensions: %d\n", s.Dims())
	b.WriteString("bounds:\n")
	for i, name := range s.Parameters {
		fmt.Fprintf(&b, "  %s: [%g, %g]\n", name, s.Bounds.Lower[i], s.Bounds.Upper[i])
	}
	fmt.Fprintf(&b, "nlive: %d\n", s.NLive)
	fmt.Fprintf(&b, "tolerance: %g\n", s.Tolerance)
	fmt.Fprintf(&b, "seed: %d\n", s.Seed)
	if s.MaxIterations > 0 {
		fmt.Fprintf(&b, "max_iterations: %d\n", s.MaxIterations)
	}
	if s.CheckpointEvery > 0 {
		fmt.Fprintf(&b, "checkpoint_every: %d\n", s.CheckpointEvery)
	}
	return b.String()
}
