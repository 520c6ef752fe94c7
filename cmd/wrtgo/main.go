// Command wrtgo is the thin CLI front end spec.md §6 calls for but places
// out of core scope: it exercises the Capability Engine Facade's
// load/instantiate/execute surface over cobra flags, the way wazero's own
// cmd/wazero exercises its runtime — but built on cobra like the rest of
// the retrieval pack's front ends (k6, moby) rather than wazero's
// dependency-free flag package.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	wrtgo "github.com/wrtgo/wrtgo"
	"github.com/wrtgo/wrtgo/internal/wasm"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wrtgo",
		Short: "Load and run a Wasm module under a safety-integrity preset",
	}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var (
		presetName string
		fnName     string
		argStrs    []string
		memBudget  uint64
	)

	cmd := &cobra.Command{
		Use:   "run <module.wasm>",
		Short: "Instantiate a module and call one exported function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preset, err := parsePreset(presetName)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			facade, err := wrtgo.NewFacade(preset, memBudget, 0, unavailableDecoder)
			if err != nil {
				return err
			}

			modHandle, err := facade.LoadModule(raw)
			if err != nil {
				return err
			}
			instHandle, err := facade.Instantiate(modHandle, nil)
			if err != nil {
				return err
			}

			if !facade.HasFunction(instHandle, fnName) {
				return fmt.Errorf("export %q not found", fnName)
			}
			callArgs, err := parseArgs(argStrs)
			if err != nil {
				return err
			}

			results, err := facade.Execute(context.Background(), instHandle, fnName, callArgs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResults(results))

			stats := facade.ExecutionStats()
			fmt.Fprintf(cmd.OutOrStdout(), "instructions=%d fuel_consumed=%d calls=%d max_depth=%d time_us=%d\n",
				stats.InstructionsExecuted, stats.FuelConsumed, stats.FunctionCalls, stats.MaxCallDepth, stats.ExecutionTimeUs)
			return nil
		},
	}

	cmd.Flags().StringVar(&presetName, "preset", "QM", "safety-integrity preset: QM|ASIL-A|ASIL-B|ASIL-C|ASIL-D")
	cmd.Flags().StringVar(&fnName, "function", "", "exported function to call")
	cmd.Flags().StringSliceVar(&argStrs, "arg", nil, "i32 argument, repeatable")
	cmd.Flags().Uint64Var(&memBudget, "memory-budget", 64<<20, "total bytes partitioned across the Memory Coordinator's crates")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

// unavailableDecoder stands in for the binary decoder spec.md §1 names as
// an external collaborator this core never implements; an embedder that
// links a real Wasm parser builds its own main with that decoder wired in
// instead of this one.
func unavailableDecoder(raw []byte) (*wasm.Module, error) {
	return nil, fmt.Errorf("no binary decoder wired into this build; embed wrtgo.NewFacade with one")
}

func parsePreset(name string) (wrtgo.Preset, error) {
	switch strings.ToUpper(name) {
	case "QM":
		return wrtgo.PresetQM, nil
	case "ASIL-A", "ASILA":
		return wrtgo.PresetASILA, nil
	case "ASIL-B", "ASILB":
		return wrtgo.PresetASILB, nil
	case "ASIL-C", "ASILC":
		return wrtgo.PresetASILC, nil
	case "ASIL-D", "ASILD":
		return wrtgo.PresetASILD, nil
	default:
		return 0, fmt.Errorf("unknown preset %q", name)
	}
}

func parseArgs(strs []string) ([]wasm.Value, error) {
	out := make([]wasm.Value, len(strs))
	for i, s := range strs {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%q): %w", i, s, err)
		}
		out[i] = wasm.I32(int32(n))
	}
	return out, nil
}

func formatResults(vs []wasm.Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%s(%d)", v.Type, v.Bits())
	}
	return strings.Join(parts, " ")
}
