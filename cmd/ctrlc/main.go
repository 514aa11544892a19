// Command ctrlc rewrites code units ahead of time so that their procedures
// can be suspended and resumed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/engine"
	"github.com/wippyai/ctrl/runtime"
	"github.com/wippyai/ctrl/transform"
)

type options struct {
	suspend     []string
	remove      []string
	verify      bool
	dump        bool
	interactive bool
	indirect    bool
	propagate   bool
	text        bool
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ctrlc",
		Short: "Make code units resumable",
	}
	root.AddCommand(newTransformCmd())
	return root
}

func newTransformCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "transform <in> <out>",
		Short: "Rewrite the unit stored at <in> into <out>",
		Long: `Rewrites every procedure of a unit that reaches a suspend-capable call
into a resumable state machine. Units without such calls are copied as is.

By default the runtime's own suspend and resume calls are suspend-capable;
--suspend adds wildcard patterns such as "sched.*".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Arguments are fine from here on; failures are not usage errors.
			cmd.SilenceUsage = true
			return runTransform(cmd, args[0], args[1], opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.suspend, "suspend", nil, "extra suspend-capable call pattern (module.name, * wildcards)")
	f.StringArrayVar(&opts.remove, "remove", nil, "procedure never rewritten")
	f.BoolVar(&opts.verify, "verify", false, "verify the rewritten unit")
	f.BoolVar(&opts.dump, "dump", false, "print the procedures before and after")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "browse the result in a terminal viewer")
	f.BoolVar(&opts.indirect, "indirect", false, "treat every indirect call as suspend-capable")
	f.BoolVar(&opts.propagate, "propagate", false, "treat calls to rewritten procedures as suspend-capable")
	f.BoolVar(&opts.text, "text", false, "read and write the assembly text form")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log the rewrite")
	return cmd
}

func (o options) config() transform.Config {
	cfg := transform.Config{
		SuspendCalls:  o.suspend,
		IndirectCalls: o.indirect,
		Propagate:     o.propagate,
		Verify:        o.verify,
	}
	if len(o.suspend) > 0 {
		cfg.Matcher = transform.NewExactMatcher(transform.RuntimeCalls)
	}
	if len(o.remove) > 0 {
		cfg.RemoveList = transform.NewFunctionNameMatcher(o.remove)
	}
	return cfg
}

func setupLogging(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	transform.SetLogger(logger.Named("transform"))
	runtime.SetLogger(logger.Named("runtime"))
	engine.SetLogger(logger.Named("engine"))
	cont.SetLogger(logger.Named("cont"))
	return logger, nil
}

func runTransform(cmd *cobra.Command, in, out string, opts options) error {
	logger, err := setupLogging(opts.verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := opts.config()
	if !opts.text && !opts.dump && !opts.interactive {
		changed, err := runtime.TransformFile(in, out, cfg)
		if err != nil {
			return err
		}
		report(cmd, in, out, changed)
		return nil
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	before, err := readUnit(data, opts.text)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	after, err := readUnit(data, opts.text)
	if err != nil {
		return err
	}

	changed, err := transformUnit(after, opts)
	if err != nil {
		return err
	}
	result := data
	if changed {
		if result, err = writeUnit(after, opts.text); err != nil {
			return err
		}
	}
	if err := os.WriteFile(out, result, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("unit written",
		zap.String("unit", after.Name),
		zap.Bool("changed", changed))

	if opts.dump {
		w := cmd.OutOrStdout()
		fmt.Fprint(w, renderDump(before, after, newDumpStyle(w)))
	}
	if opts.interactive {
		return runViewer(in, before, after)
	}
	report(cmd, in, out, changed)
	return nil
}

func transformUnit(u *code.Unit, opts options) (bool, error) {
	return transform.TransformUnit(u, opts.config())
}

func report(cmd *cobra.Command, in, out string, changed bool) {
	w := cmd.OutOrStdout()
	if changed {
		fmt.Fprintf(w, "%s: rewritten into %s\n", in, out)
		return
	}
	fmt.Fprintf(w, "%s: nothing to rewrite, copied to %s\n", in, out)
}

func readUnit(data []byte, text bool) (*code.Unit, error) {
	if text {
		return asm.Parse(string(data))
	}
	return code.Decode(data)
}

func writeUnit(u *code.Unit, text bool) ([]byte, error) {
	if text {
		return []byte(asm.Format(u)), nil
	}
	return u.Encode()
}
