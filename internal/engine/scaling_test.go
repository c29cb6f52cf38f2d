package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mlinfra/torchscale/internal/engine"
	"github.com/mlinfra/torchscale/internal/model"
)

func scalingResult(m string, batch, gpus int, throughput float64) model.RunResult {
	return model.RunResult{
		RunConfig:     model.RunConfig{Model: m, BatchSize: batch, GPUCount: gpus},
		AvgThroughput: throughput,
	}
}

var _ = Describe("Analyze", func() {
	It("should anchor the baseline at the smallest GPU count", func() {
		rows, warnings := engine.Analyze([]model.RunResult{
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("resnet50", 64, 2, 760),
			scalingResult("resnet50", 64, 4, 1520),
		})
		Expect(warnings).To(BeEmpty())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0].GPUCount).To(Equal(1))
		Expect(rows[0].IdealThroughput).To(BeNumerically("~", 380, 1e-9))
		Expect(rows[0].ScalingEfficiencyPct).To(BeNumerically("~", 100.0, 1e-6))
	})

	It("should compute ideal throughput as linear scaling from the baseline", func() {
		rows, _ := engine.Analyze([]model.RunResult{
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("resnet50", 64, 4, 1292),
		})
		Expect(rows[1].IdealThroughput).To(BeNumerically("~", 1520, 1e-9))
		Expect(rows[1].ScalingEfficiencyPct).To(BeNumerically("~", 85.0, 1e-6))
	})

	It("should pick the baseline regardless of input order", func() {
		rows, _ := engine.Analyze([]model.RunResult{
			scalingResult("resnet50", 64, 4, 1292),
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("resnet50", 64, 2, 700),
		})
		Expect(rows[0].GPUCount).To(Equal(1))
		Expect(rows[0].ScalingEfficiencyPct).To(BeNumerically("~", 100.0, 1e-6))
		Expect(rows[1].GPUCount).To(Equal(2))
		Expect(rows[2].GPUCount).To(Equal(4))
	})

	It("should rate a single-member group at exactly 100 percent", func() {
		rows, warnings := engine.Analyze([]model.RunResult{
			scalingResult("bert-base", 32, 2, 500),
		})
		Expect(warnings).To(BeEmpty())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].ScalingEfficiencyPct).To(BeNumerically("~", 100.0, 1e-6))
	})

	It("should group by model and batch size independently", func() {
		rows, _ := engine.Analyze([]model.RunResult{
			scalingResult("resnet50", 32, 1, 400),
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("resnet50", 32, 2, 800),
			scalingResult("resnet50", 64, 2, 600),
		})
		Expect(rows).To(HaveLen(4))

		byKey := map[string]float64{}
		for _, r := range rows {
			byKey[model.RunConfig{Model: r.Model, BatchSize: r.BatchSize, GPUCount: r.GPUCount}.String()] = r.ScalingEfficiencyPct
		}
		Expect(byKey["resnet50 (batch=32, gpus=2)"]).To(BeNumerically("~", 100.0, 1e-6))
		Expect(byKey["resnet50 (batch=64, gpus=2)"]).To(BeNumerically("~", 600.0/760.0*100, 1e-6))
	})

	It("should emit groups in first-appearance order", func() {
		rows, _ := engine.Analyze([]model.RunResult{
			scalingResult("bert-base", 32, 1, 300),
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("bert-base", 32, 2, 600),
		})
		Expect(rows[0].Model).To(Equal("bert-base"))
		Expect(rows[1].Model).To(Equal("bert-base"))
		Expect(rows[2].Model).To(Equal("resnet50"))
	})

	It("should skip malformed results with a warning instead of failing", func() {
		rows, warnings := engine.Analyze([]model.RunResult{
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("resnet50", 64, 0, 500),
			scalingResult("resnet50", 64, 2, -10),
		})
		Expect(rows).To(HaveLen(1))
		Expect(warnings).To(HaveLen(2))
		Expect(warnings[0].Reason).To(ContainSubstring("gpu_count"))
		Expect(warnings[1].Reason).To(ContainSubstring("avg_throughput"))
	})

	It("should be idempotent over its own output", func() {
		input := []model.RunResult{
			scalingResult("resnet50", 64, 2, 700),
			scalingResult("resnet50", 64, 1, 380),
			scalingResult("bert-base", 32, 4, 900),
			scalingResult("bert-base", 32, 1, 300),
		}
		first, _ := engine.Analyze(input)
		second, _ := engine.Analyze(input)
		Expect(second).To(Equal(first))
	})

	It("should return nothing for an empty result set", func() {
		rows, warnings := engine.Analyze(nil)
		Expect(rows).To(BeEmpty())
		Expect(warnings).To(BeEmpty())
	})
})
