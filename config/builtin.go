package config

import (
	"fmt"

	"github.com/dcshock/texpipe/pipeline"
	"github.com/dcshock/texpipe/stages"
)

// SizeLimits are the thresholds registered as "size-<n>" sorters.
var SizeLimits = []int{32, 64, 128, 256}

// RegisterBuiltins adds the stock image segments and sorters to reg:
//
//	identity, split-alpha, merge-alpha, scale-x2, scale-x4, expect-pow2
//	sorters: alpha, size-32, size-64, size-128, size-256
func RegisterBuiltins(reg *Registry) *Registry {
	reg.Register("identity", pipeline.Identity())
	reg.Register("split-alpha", stages.SplitAlpha())
	reg.Register("merge-alpha", stages.MergeAlpha())
	reg.Register("expect-pow2", stages.ExpectPowerOfTwo())
	for _, f := range []int{2, 4} {
		reg.Register(fmt.Sprintf("scale-x%d", f), stages.Scale(f))
	}
	reg.RegisterSorter("alpha", stages.AlphaSorter())
	for _, n := range SizeLimits {
		reg.RegisterSorter(fmt.Sprintf("size-%d", n), stages.SizeSorter(n))
	}
	return reg
}
