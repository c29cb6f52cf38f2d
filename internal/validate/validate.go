/*
PURPOSE:
  Environment validation for distributed training. Probes the host for the
  runtime prerequisites a sweep depends on (Python, PyTorch, CUDA, NCCL,
  driver tooling) and reports pass/fail per capability.

REQUIREMENTS:
  User-specified:
  - Required checks gate a sweep; advisory checks (profiler availability)
    report but never block.
  - Checks answer yes/no plus a human-readable message.

  Implementation-discovered:
  - Probes shell out and are slow (python imports torch); results are
    cached in-process so preflight, profiling and the validate command
    do not re-probe the same binaries.
  - Each probe gets its own short deadline; a wedged binary must not hang
    validation.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (validate command, benchmark preflight),
    internal/profile (nsys availability)
  - Uses: github.com/patrickmn/go-cache, os/exec

ERROR HANDLING:
  - A failed probe is a failed Check, not an error; Run itself only fails
    on context cancellation.

IMPLEMENTATION RULES:
  - Probes must be side-effect free on the host.
  - Interpret functions receive trimmed stdout and decide pass/fail.

USAGE:
  v := validate.New()
  checks := v.Run(ctx)
  ok := validate.AllRequiredPassed(checks)

SELF-HEALING INSTRUCTIONS:
  - If a probe misreports on a new PyTorch release, adjust its interpret
    function; the probe table is the single source of truth.

RELATED FILES:
  - internal/cli/validate.go
  - internal/profile/profile.go

MAINTENANCE:
  - Keep probe names stable; the CLI and tests key on them.
*/

package validate

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mlinfra/torchscale/internal/output"
)

const (
	probeTimeout  = 5 * time.Second
	probeCacheTTL = 5 * time.Minute
)

// Check is one environment capability verdict.
type Check struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
}

// ProbeFunc executes a probe command and returns its trimmed stdout.
type ProbeFunc func(ctx context.Context, name string, args ...string) (string, error)

// Validator probes host capabilities with per-probe caching.
type Validator struct {
	probe ProbeFunc
	cache *cache.Cache
}

// New returns a Validator that shells out to the host.
func New() *Validator {
	return NewWithProbe(execProbe)
}

// NewWithProbe substitutes probe execution, for tests.
func NewWithProbe(p ProbeFunc) *Validator {
	return &Validator{
		probe: p,
		cache: cache.New(probeCacheTTL, 2*probeCacheTTL),
	}
}

type probeSpec struct {
	name      string
	required  bool
	binary    string
	args      []string
	interpret func(out string) (bool, string)
}

func probeTable() []probeSpec {
	return []probeSpec{
		{
			name: "python", required: true,
			binary: "python3", args: []string{"--version"},
			interpret: passThrough,
		},
		{
			name: "pytorch", required: true,
			binary: "python3", args: []string{"-c", "import torch; print(torch.__version__)"},
			interpret: func(out string) (bool, string) {
				return true, "PyTorch " + firstLine(out)
			},
		},
		{
			name: "cuda", required: true,
			binary: "python3", args: []string{"-c", "import torch; print(torch.cuda.is_available(), torch.cuda.device_count())"},
			interpret: interpretCUDA,
		},
		{
			name: "nccl", required: true,
			binary: "python3", args: []string{"-c", "import torch.distributed as dist; print(dist.is_nccl_available())"},
			interpret: func(out string) (bool, string) {
				if strings.HasPrefix(firstLine(out), "True") {
					return true, "NCCL backend available"
				}
				return false, "NCCL backend not available"
			},
		},
		{
			name: "nvidia-smi", required: true,
			binary: "nvidia-smi", args: []string{"--query-gpu=name", "--format=csv,noheader"},
			interpret: interpretGPUList,
		},
		{
			name: "nsys", required: false,
			binary: "nsys", args: []string{"--version"},
			interpret: passThrough,
		},
	}
}

// Run evaluates every capability probe and returns checks in table order.
func (v *Validator) Run(ctx context.Context) []Check {
	checks := make([]Check, 0, len(probeTable()))
	for _, spec := range probeTable() {
		checks = append(checks, v.runProbe(ctx, spec))
	}
	return checks
}

// Probe evaluates a single capability by name. Unknown names fail closed.
func (v *Validator) Probe(ctx context.Context, name string) Check {
	for _, spec := range probeTable() {
		if spec.name == name {
			return v.runProbe(ctx, spec)
		}
	}
	return Check{Name: name, Passed: false, Message: "unknown capability"}
}

func (v *Validator) runProbe(ctx context.Context, spec probeSpec) Check {
	key := spec.binary + " " + strings.Join(spec.args, " ")
	if cached, ok := v.cache.Get(key); ok {
		return cached.(Check)
	}

	check := Check{Name: spec.name, Required: spec.required}
	out, err := v.probe(ctx, spec.binary, spec.args...)
	if err != nil {
		check.Passed = false
		check.Message = fmt.Sprintf("probe failed: %v", err)
	} else {
		check.Passed, check.Message = spec.interpret(out)
	}

	output.Logger.Debug("Capability probe",
		"check", check.Name,
		"passed", check.Passed,
		"message", check.Message,
	)
	v.cache.SetDefault(key, check)
	return check
}

// AllRequiredPassed reports whether every required check passed. Advisory
// checks never affect the verdict.
func AllRequiredPassed(checks []Check) bool {
	for _, c := range checks {
		if c.Required && !c.Passed {
			return false
		}
	}
	return true
}

// FailedRequired lists the required checks that did not pass.
func FailedRequired(checks []Check) []Check {
	var failed []Check
	for _, c := range checks {
		if c.Required && !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

func execProbe(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func passThrough(out string) (bool, string) {
	return true, firstLine(out)
}

func firstLine(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line)
}

func interpretCUDA(out string) (bool, string) {
	fields := strings.Fields(firstLine(out))
	if len(fields) == 2 && fields[0] == "True" {
		return true, fmt.Sprintf("CUDA available (%s device(s))", fields[1])
	}
	return false, "CUDA not available"
}

func interpretGPUList(out string) (bool, string) {
	out = strings.TrimSpace(out)
	if out == "" {
		return false, "no GPUs visible to the driver"
	}
	names := strings.Split(out, "\n")
	return true, fmt.Sprintf("%d GPU(s) visible: %s", len(names), firstLine(out))
}
