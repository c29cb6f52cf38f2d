package engine_test

import (
	"fmt"
	"strings"

	"github.com/Pallinder/go-randomdata"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/mlinfra/torchscale/internal/engine"
	"github.com/mlinfra/torchscale/internal/model"
)

var _ = Describe("BuildMatrix", func() {
	It("should expand dimensions in declared order", func() {
		matrix, err := engine.BuildMatrix(
			[]string{"resnet50", "bert-base"},
			[]int{32, 64},
			[]int{1, 2},
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(matrix).To(Equal([]model.RunConfig{
			{Model: "resnet50", BatchSize: 32, GPUCount: 1},
			{Model: "resnet50", BatchSize: 32, GPUCount: 2},
			{Model: "resnet50", BatchSize: 64, GPUCount: 1},
			{Model: "resnet50", BatchSize: 64, GPUCount: 2},
			{Model: "bert-base", BatchSize: 32, GPUCount: 1},
			{Model: "bert-base", BatchSize: 32, GPUCount: 2},
			{Model: "bert-base", BatchSize: 64, GPUCount: 1},
			{Model: "bert-base", BatchSize: 64, GPUCount: 2},
		}))
	})

	It("should preserve caller-specified dimension order without sorting", func() {
		matrix, err := engine.BuildMatrix([]string{"gpt2"}, []int{128, 16}, []int{8, 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(matrix[0].BatchSize).To(Equal(128))
		Expect(matrix[0].GPUCount).To(Equal(8))
		Expect(matrix[3].BatchSize).To(Equal(16))
		Expect(matrix[3].GPUCount).To(Equal(1))
	})

	DescribeTable("should reject malformed dimensions",
		func(models []string, batchSizes, gpuCounts []int, fragment string) {
			matrix, err := engine.BuildMatrix(models, batchSizes, gpuCounts)
			Expect(matrix).To(BeNil())
			Expect(engine.IsConfigurationError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(fragment))
		},
		Entry("no models", []string{}, []int{32}, []int{1}, "models list is empty"),
		Entry("no batch sizes", []string{"resnet50"}, []int{}, []int{1}, "batch_sizes list is empty"),
		Entry("no gpu counts", []string{"resnet50"}, []int{32}, []int{}, "gpu_counts list is empty"),
		Entry("blank model", []string{"resnet50", "  "}, []int{32}, []int{1}, "must not be blank"),
		Entry("zero batch size", []string{"resnet50"}, []int{32, 0}, []int{1}, "batch_size must be positive"),
		Entry("negative gpu count", []string{"resnet50"}, []int{32}, []int{1, -2}, "gpu_count must be positive"),
	)

	It("should reject duplicate run configurations", func() {
		matrix, err := engine.BuildMatrix([]string{"resnet50", "resnet50"}, []int{32}, []int{1})
		Expect(matrix).To(BeNil())
		Expect(engine.IsConfigurationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("duplicate run configuration"))
	})

	It("should size the matrix as the product of the dimensions", func() {
		models := lo.Times(3, func(i int) string {
			return fmt.Sprintf("%s-%d", strings.ToLower(randomdata.SillyName()), i)
		})
		matrix, err := engine.BuildMatrix(models, []int{1, 2}, []int{1, 2, 4, 8})
		Expect(err).NotTo(HaveOccurred())
		Expect(matrix).To(HaveLen(24))
	})
})
