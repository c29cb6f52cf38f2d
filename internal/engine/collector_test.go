package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mlinfra/torchscale/internal/engine"
	"github.com/mlinfra/torchscale/internal/model"
)

var _ = Describe("SimulatedCollector", func() {
	var (
		ctx context.Context
		cfg model.RunConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = model.RunConfig{Model: "resnet50", BatchSize: 64, GPUCount: 1}
	})

	It("should collect a full window of paired samples", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{})
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ThroughputSamples).To(HaveLen(engine.DefaultSampleWindow))
		Expect(res.LatencySamples).To(HaveLen(engine.DefaultSampleWindow))
	})

	It("should honor a custom sample window", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{SampleWindow: 25})
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ThroughputSamples).To(HaveLen(25))
		Expect(res.LatencySamples).To(HaveLen(25))
	})

	It("should report averages equal to the mean of the samples", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{})
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.AvgThroughput).To(BeNumerically("~", testMean(res.ThroughputSamples), res.AvgThroughput*1e-6))
		Expect(res.IterationLatency).To(BeNumerically("~", testMean(res.LatencySamples), res.IterationLatency*1e-6))
	})

	It("should model near-linear throughput at or below the scaling knee", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{})
		for _, gpus := range []int{1, 2, 4} {
			cfg.GPUCount = gpus
			res, err := collector.Collect(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())

			target := 400.0 * float64(gpus) * 0.95
			for i, sample := range res.ThroughputSamples {
				jitter := 0.95 + 0.01*float64(i%10)
				Expect(sample).To(BeNumerically("~", target*jitter, 1e-9))
			}
		}
	})

	It("should degrade efficiency above the scaling knee", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{})
		cfg.GPUCount = 8
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		target := 400.0 * 8 * 0.85
		Expect(res.ThroughputSamples[0]).To(BeNumerically("~", target*0.95, 1e-9))
	})

	It("should derive iteration latency from batch size and throughput", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{})
		cfg.GPUCount = 2
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		throughput := 400.0 * 2 * 0.95
		latencyMS := float64(cfg.BatchSize*cfg.GPUCount) / throughput * 1000
		Expect(res.LatencySamples[0]).To(BeNumerically("~", latencyMS*0.95, 1e-9))
	})

	It("should honor custom throughput and efficiency options", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{
			PerGPUThroughput: 1000,
			ScalingKneeGPUs:  2,
			EfficiencyAbove:  0.5,
			EfficiencyBelow:  1.0,
		})
		cfg.GPUCount = 4
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ThroughputSamples[0]).To(BeNumerically("~", 1000*4*0.5*0.95, 1e-9))
	})

	It("should stop between iterations once the context is cancelled", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{
			IterationPace: time.Hour,
		})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		res, err := collector.Collect(cancelled, cfg)
		Expect(err).To(MatchError(context.Canceled))
		Expect(res).To(BeNil())
	})

	It("should pace iterations when configured", func() {
		collector := engine.NewSimulatedCollector(engine.SimulatorOptions{
			SampleWindow:  3,
			IterationPace: 5 * time.Millisecond,
		})
		start := time.Now()
		_, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 15*time.Millisecond))
	})
})

var _ = Describe("CollectorFunc", func() {
	It("should adapt a bare function into a Collector", func() {
		want := &model.RunResult{AvgThroughput: 42}
		var fn engine.Collector = engine.CollectorFunc(func(ctx context.Context, cfg model.RunConfig) (*model.RunResult, error) {
			return want, nil
		})
		res, err := fn.Collect(context.Background(), model.RunConfig{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(BeIdenticalTo(want))
	})
})

var _ = Describe("TorchrunCollector", func() {
	var (
		ctx context.Context
		cfg model.RunConfig
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = model.RunConfig{Model: "resnet50", BatchSize: 64, GPUCount: 2}
		dir = GinkgoT().TempDir()
	})

	// writeLauncher drops an executable stand-in for torchrun that emits
	// the given shell body.
	writeLauncher := func(body string) string {
		path := filepath.Join(dir, "fake-torchrun")
		script := "#!/bin/sh\n" + body + "\n"
		Expect(os.WriteFile(path, []byte(script), 0o755)).To(Succeed())
		return path
	}

	telemetryBody := func(lines int) string {
		body := ""
		for i := 0; i < lines; i++ {
			body += fmt.Sprintf("echo 'step %d: throughput=%d.0 latency_ms=%d.0'\n", i, 100+i, 5+i)
		}
		return body
	}

	It("should parse a full telemetry window from the launcher output", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary: writeLauncher(telemetryBody(10)),
			Script: "train.py",
		})
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ThroughputSamples).To(HaveLen(10))
		Expect(res.LatencySamples).To(HaveLen(10))
		Expect(res.AvgThroughput).To(BeNumerically("~", 104.5, 1e-9))
		Expect(res.IterationLatency).To(BeNumerically("~", 9.5, 1e-9))
	})

	It("should trim warmup iterations from the front of a long window", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary: writeLauncher(telemetryBody(12)),
			Script: "train.py",
		})
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ThroughputSamples).To(HaveLen(10))
		// Steps 2..11 survive, so the first sample is step 2's throughput.
		Expect(res.ThroughputSamples[0]).To(BeNumerically("~", 102.0, 1e-9))
	})

	It("should fail with a SampleCountMismatch when telemetry runs short", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:       writeLauncher(telemetryBody(4)),
			Script:       "train.py",
			SampleWindow: 10,
		})
		_, err := collector.Collect(ctx, cfg)
		Expect(engine.IsSampleCountMismatch(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("incomplete telemetry"))
	})

	It("should fail with a SampleCountMismatch when the streams disagree", func() {
		body := "echo 'step 0: throughput=99.0 latency_ms=1.0'\n" +
			"echo 'step 1: latency_ms=1.1'\n"
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:       writeLauncher(body),
			Script:       "train.py",
			SampleWindow: 2,
		})
		_, err := collector.Collect(ctx, cfg)
		Expect(engine.IsSampleCountMismatch(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("1 throughput / 2 latency"))
	})

	It("should surface launcher stderr in launch failures", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:         writeLauncher("echo 'CUDA error: device unavailable' >&2\nexit 1"),
			Script:         "train.py",
			LaunchAttempts: 1,
		})
		_, err := collector.Collect(ctx, cfg)
		Expect(engine.IsLaunchFailure(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("CUDA error"))
	})

	It("should retry transient launch failures", func() {
		marker := filepath.Join(dir, "attempted")
		body := fmt.Sprintf(`if [ -f %q ]; then
%selse
  touch %q
  echo 'transient socket bind failure' >&2
  exit 1
fi`, marker, telemetryBody(10), marker)
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:         writeLauncher(body),
			Script:         "train.py",
			LaunchAttempts: 3,
			RetryDelay:     time.Millisecond,
		})
		res, err := collector.Collect(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ThroughputSamples).To(HaveLen(10))
	})

	It("should not retry when the launcher binary is missing", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:         "torchscale-no-such-launcher",
			Script:         "train.py",
			LaunchAttempts: 3,
			RetryDelay:     time.Minute,
		})
		start := time.Now()
		_, err := collector.Collect(ctx, cfg)
		Expect(engine.IsLaunchFailure(err)).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should reject an empty training script", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary: writeLauncher(telemetryBody(10)),
		})
		_, err := collector.Collect(ctx, cfg)
		Expect(engine.IsConfigurationError(err)).To(BeTrue())
	})

	It("should abort a hung launcher when the context expires", func() {
		collector := engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:         writeLauncher("sleep 60"),
			Script:         "train.py",
			LaunchAttempts: 1,
		})
		bounded, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		_, err := collector.Collect(bounded, cfg)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
