// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// xpuvm assembles and runs execution plans (see package plan) on a backend.
//
// Usage:
//
//	xpuvm disasm [-hex] plan.yaml
//	xpuvm run [-n N] [-warmup=true] [-config opts] [-backend sim:...] plan.yaml
package main

import (
	"flag"
	"fmt"
	"os"

	_ "github.com/gomlx/xpuvm/backends/simdevice"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const usage = `Usage: xpuvm <command> [flags] plan.yaml

Commands:
  disasm    assemble the plan and print the bytecode listing.
  run       execute the plan on a backend and print the profile and the outputs.

Use "xpuvm <command> -help" for the flags of a command.
`

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "disasm":
		err = disasmCmd(args[1:])
	case "run":
		err = runCmd(args[1:])
	default:
		klog.Errorf("Unknown command %q. See 'xpuvm -help'.", args[0])
		os.Exit(1)
	}
	if err != nil {
		klog.Errorf("xpuvm %s failed: %+v", args[0], err)
		os.Exit(1)
	}
}

// planArg parses the flags of a command, and returns its only positional argument, the plan file.
func planArg(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", errors.Errorf("xpuvm %s requires exactly one plan file, got %d arguments", fs.Name(), fs.NArg())
	}
	return fs.Arg(0), nil
}
