//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Test

// Test runs every package test with the race detector.
func Test() error {
	mg.Deps(Shaders)
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs go vet over the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Shaders preprocesses every embedded compute kernel and validates it with naga.
func Shaders() error {
	failed := 0
	for _, key := range shader.KernelKeys() {
		s, err := shader.LoadKernel(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", key, err)
			failed++
			continue
		}
		if mg.Verbose() {
			wg := s.WorkgroupSize()
			fmt.Printf("%s: entry %s, workgroup %dx%dx%d, %d bindings\n", key, s.EntryPoint(), wg[0], wg[1], wg[2], len(s.Bindings()))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d kernels failed validation", failed, len(shader.KernelKeys()))
	}
	return nil
}

// Demo runs the headless culling demo.
func Demo() error {
	return sh.RunV("go", "run", "examples/scene_cull.go")
}
