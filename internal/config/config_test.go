package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mlinfra/torchscale/internal/config"
	"github.com/mlinfra/torchscale/internal/engine"
)

// chdir moves the working directory for default-file search specs and
// restores it afterwards.
func chdir(dir string) {
	prev, err := os.Getwd()
	Expect(err).NotTo(HaveOccurred())
	Expect(os.Chdir(dir)).To(Succeed())
	DeferCleanup(func() {
		Expect(os.Chdir(prev)).To(Succeed())
	})
}

var _ = Describe("Load", func() {
	It("should return defaults when no config file exists", func() {
		chdir(GinkgoT().TempDir())

		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.DefaultConfig()))
	})

	It("should merge an explicit file onto the defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "study.yaml")
		Expect(os.WriteFile(path, []byte(`
experiment_name: overnight
models:
  - gpt2
gpu_counts: [2, 4, 8]
per_run_timeout: 90s
launch_interval: 250ms
torchrun:
  enabled: true
  script: train.py
`), 0o644)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ExperimentName).To(Equal("overnight"))
		Expect(cfg.Models).To(Equal([]string{"gpt2"}))
		Expect(cfg.GPUCounts).To(Equal([]int{2, 4, 8}))
		Expect(cfg.PerRunTimeout).To(Equal(90 * time.Second))
		Expect(cfg.LaunchInterval).To(Equal(250 * time.Millisecond))
		Expect(cfg.Torchrun.Enabled).To(BeTrue())
		Expect(cfg.Torchrun.Script).To(Equal("train.py"))

		// Untouched fields keep their defaults.
		Expect(cfg.BatchSizes).To(Equal([]int{32, 64}))
		Expect(cfg.SampleWindow).To(Equal(10))
		Expect(cfg.Torchrun.Binary).To(Equal("torchrun"))
		Expect(cfg.Thresholds.SyncVarianceCV).To(Equal(0.15))
	})

	It("should pick up a default file from the working directory", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "benchmark_config.yaml"),
			[]byte("experiment_name: from_default_file\n"), 0o644)).To(Succeed())
		chdir(dir)

		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ExperimentName).To(Equal("from_default_file"))
	})

	It("should prefer torchscale.yaml over the other default names", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "torchscale.yaml"),
			[]byte("experiment_name: primary\n"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "config.yaml"),
			[]byte("experiment_name: fallback\n"), 0o644)).To(Succeed())
		chdir(dir)

		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ExperimentName).To(Equal("primary"))
	})

	It("should report a missing explicit file", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "absent.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("should report unparseable YAML", func() {
		path := filepath.Join(GinkgoT().TempDir(), "broken.yaml")
		Expect(os.WriteFile(path, []byte("models: [unclosed\n"), 0o644)).To(Succeed())

		_, err := config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
	})

	It("should load the embedded starter config", func() {
		path := filepath.Join(GinkgoT().TempDir(), "torchscale.yaml")
		Expect(os.WriteFile(path, config.ExampleYAML, 0o644)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.ExperimentName).To(Equal("scaling_study"))
		Expect(cfg.GPUCounts).To(Equal([]int{1, 2, 4}))
		Expect(cfg.Thresholds.CommStallMinGPUs).To(Equal(4))
	})

	It("should surface an explicit zero concurrency for validation to reject", func() {
		path := filepath.Join(GinkgoT().TempDir(), "study.yaml")
		Expect(os.WriteFile(path, []byte("concurrency: 0\n"), 0o644)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.IsConfigurationError(cfg.Validate())).To(BeTrue())
	})
})

var _ = Describe("Validate", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.DefaultConfig()
	})

	It("should accept the defaults", func() {
		Expect(cfg.Validate()).To(Succeed())
	})

	It("should accept every profiling trigger", func() {
		for _, trigger := range []string{"", config.TriggerAlways, config.TriggerOnBottleneck, config.TriggerNever} {
			cfg.Profiling.Trigger = trigger
			Expect(cfg.Validate()).To(Succeed())
		}
	})

	It("should reject an unknown profiling trigger", func() {
		cfg.Profiling.Trigger = "sometimes"
		err := cfg.Validate()
		Expect(engine.IsConfigurationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("profiling.trigger"))
	})

	It("should require a script when torchrun collection is enabled", func() {
		cfg.Torchrun.Enabled = true
		cfg.Torchrun.Script = ""
		err := cfg.Validate()
		Expect(engine.IsConfigurationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("torchrun.script"))
	})

	It("should reject a negative sample window", func() {
		cfg.SampleWindow = -1
		err := cfg.Validate()
		Expect(engine.IsConfigurationError(err)).To(BeTrue())
	})

	It("should reject a concurrency below one", func() {
		for _, n := range []int{0, -3} {
			cfg.Concurrency = n
			err := cfg.Validate()
			Expect(engine.IsConfigurationError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("concurrency"))
		}
	})
})
