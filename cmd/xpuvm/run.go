// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/pkg/plan"
	"github.com/gomlx/xpuvm/pkg/xpuvm"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// maxPrintedValues of each output object.
const maxPrintedValues = 16

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flagN := fs.Int("n", 1, "Number of executions of the program.")
	flagWarmup := fs.Bool("warmup", true, "Run a warm-up pass (compiling all tasks) before executing.")
	flagConfig := fs.String("config", "", "Interpreter options (see xpuvm.ParseConfig), appended to the ones of the plan.")
	flagBackend := fs.String("backend", "", fmt.Sprintf("Backend configuration, e.g. \"sim:devices=2\". Defaults to $%s.", backends.ConfigEnvVar))
	path, err := planArg(fs, args)
	if err != nil {
		return err
	}
	if *flagN < 1 {
		return errors.Errorf("-n must be at least 1, got %d", *flagN)
	}

	p, err := plan.Load(path)
	if err != nil {
		return err
	}
	prog, err := p.Build()
	if err != nil {
		return err
	}
	config, err := runConfig(prog.Config, *flagConfig)
	if err != nil {
		return err
	}

	var backend backends.Backend
	if *flagBackend != "" {
		backend, err = backends.NewWithConfig(*flagBackend)
	} else {
		backend, err = backends.New()
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()
	device, err := backend.Device(prog.Device)
	if err != nil {
		return err
	}
	it, err := xpuvm.New(prog.Context, prog.Code, device, backend.Installer(), config)
	if err != nil {
		return err
	}
	if prog.Grid != nil {
		it.SetGridScheduler(prog.Grid)
	}
	klog.V(1).Infof("running %s with %s on %s, config %q", prog.Context, it, device, config)

	if *flagWarmup {
		start := time.Now()
		if err = it.Warmup(); err != nil {
			return err
		}
		fmt.Printf("Warm-up: %d kernels installed in %s\n", it.NumInstalledKernels(), time.Since(start))
	}
	if err = executeN(it, *flagN); err != nil {
		return err
	}
	if err = it.Close(); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Statistics"))
	fmt.Println(statsTable(it))
	if prof := it.Profiler(); prof != nil {
		fmt.Println(titleStyle.Render("Profile"))
		fmt.Println(prof.Table())
	}
	if len(prog.Outputs) > 0 {
		fmt.Println(titleStyle.Render("Outputs"))
		fmt.Println(outputsTable(prog))
	}
	return nil
}

// runConfig parses the options of the plan followed by those of the command line, so the latter take precedence.
func runConfig(planConfig, flagConfig string) (xpuvm.Config, error) {
	var parts []string
	for _, c := range []string{planConfig, flagConfig} {
		if c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return xpuvm.DefaultConfig()
	}
	return xpuvm.ParseConfig(strings.Join(parts, ","))
}

// executeN runs the program n times, with a progress bar if n > 1.
func executeN(it *xpuvm.Interpreter, n int) error {
	if n == 1 {
		_, err := it.Execute()
		return err
	}
	out := termenv.NewOutput(os.Stdout)
	out.HideCursor()
	defer out.ShowCursor()
	bar := progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Executing"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
	for range n {
		if _, err := it.Execute(); err != nil {
			_ = bar.Exit()
			return err
		}
		_ = bar.Add(1)
	}
	return nil
}

func statsTable(it *xpuvm.Interpreter) *lgtable.Table {
	stats := it.Stats()
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("device", it.Device().Name())
	table.Row("executions", humanize.Comma(int64(stats.Invocations)))
	table.Row("warm-up passes", humanize.Comma(int64(stats.WarmupPasses)))
	table.Row("mean time", stats.MeanTime().String())
	table.Row("last time", stats.LastTime.String())
	table.Row("compilations", humanize.Comma(int64(stats.Compilations)))
	table.Row("launches", humanize.Comma(int64(stats.Launches)))
	table.Row("device memory", humanize.IBytes(it.RequiredBytes()))
	table.Row("bytecode per pass", humanize.Bytes(uint64(it.LastPassBytes())))
	return table
}

func outputsTable(prog *plan.Program) *lgtable.Table {
	table := newPlainTable(lipgloss.Right, lipgloss.Left).Headers("object", "dtype", "size", "values")
	for _, id := range prog.Outputs {
		object := prog.Context.Object(id)
		table.Row(object.Name, object.DType().String(), humanize.Bytes(uint64(object.SizeBytes())), formatFlat(object.Flat, maxPrintedValues))
	}
	return table
}

// formatFlat formats the first maxValues of a flat slice.
func formatFlat(flat any, maxValues int) string {
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return fmt.Sprintf("%v", flat)
	}
	if v.Len() <= maxValues {
		return fmt.Sprintf("%v", flat)
	}
	head := fmt.Sprintf("%v", v.Slice(0, maxValues).Interface())
	return fmt.Sprintf("%s ...] (%s values)", strings.TrimSuffix(head, "]"), humanize.Comma(int64(v.Len())))
}
