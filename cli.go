package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cliptrim/config"
	"cliptrim/ffmpeg"
	"cliptrim/logging"
	"cliptrim/task"
)

type commandContext struct {
	logLevelFlag  string
	workspaceFlag string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = fmt.Errorf("load configuration: %w", err)
			return
		}
		if ws := strings.TrimSpace(c.workspaceFlag); ws != "" {
			cfg.Workspace = ws
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag != "" {
		return c.logLevelFlag
	}
	if c.config != nil {
		return c.config.LogLevel
	}
	return ""
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "cliptrim",
		Short:         "Cut segments out of videos and re-encode them into one file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cc.logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&cc.workspaceFlag, "workspace", "w", "", "Directory holding source videos and outputs")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newPlanCommand(cc))
	rootCmd.AddCommand(newRunCommand(cc))
	return rootCmd
}

// jobFlags are shared by plan and run.
type jobFlags struct {
	segments  []string
	quality   string
	strategy  string
	overrides map[string]string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.segments, "segment", "s", nil, "Segment as START-END; either side may be blank (repeatable)")
	cmd.Flags().StringVarP(&f.quality, "quality", "q", "", "Quality profile")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Join strategy: concat or filter_complex")
	cmd.Flags().StringToStringVar(&f.overrides, "set", nil, "Preset override as key=value, e.g. crf=20 (repeatable)")
}

func (f *jobFlags) request(video string) (task.Request, error) {
	if len(f.segments) == 0 {
		return task.Request{}, errors.New("at least one --segment is required")
	}
	req := task.Request{
		VideoName: video,
		Quality:   f.quality,
		Strategy:  f.strategy,
	}
	if len(f.overrides) > 0 {
		req.Overrides = f.overrides
	}
	for _, s := range f.segments {
		seg, err := parseSegmentFlag(s)
		if err != nil {
			return task.Request{}, err
		}
		req.Segments = append(req.Segments, seg)
	}
	return req, nil
}

// parseSegmentFlag splits "START-END". Timecodes never contain '-', so the
// first one separates the bounds.
func parseSegmentFlag(s string) (task.SegmentRequest, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return task.SegmentRequest{}, fmt.Errorf("segment %q must be START-END", s)
	}
	return task.SegmentRequest{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}, nil
}

// cliSetup loads config, configures console logging on stderr and builds a
// manager that is never started; the CLI only uses it to resolve requests.
func cliSetup(cc *commandContext, errOut io.Writer) (*config.Config, *task.Manager, error) {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logging.Configure(logging.Config{
		Level:  cc.logLevel(),
		Output: zerolog.ConsoleWriter{Out: errOut, NoColor: true},
	})
	jobs, err := task.NewManager(cfg, ffmpeg.NewBuilder(cfg.FFBin, nil), nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, jobs, nil
}

func newPlanCommand(cc *commandContext) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "plan <video>",
		Short: "Print the ffmpeg command for a trim without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, jobs, err := cliSetup(cc, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			r, err := jobs.Preview(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ffmpeg.Describe(r.Plan))
			if script, ok := r.Plan.Script(); ok {
				fmt.Fprintf(out, "\n# %s\n%s", ffmpeg.ScriptPlaceholder, script)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRunCommand(cc *commandContext) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "run <video>",
		Short: "Trim a video in the foreground, streaming encoder output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, jobs, err := cliSetup(cc, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			r, err := jobs.Preview(req)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			executor := ffmpeg.NewExecutor(ffmpeg.ExecutorOptions{
				TempDir:     cfg.TempDir,
				MaxLineSize: int(cfg.MaxLogLine),
				CancelGrace: cfg.CancelGrace,
			})
			out := cmd.OutOrStdout()
			pt := ffmpeg.NewProcessingTaskWithID(r.ID, "cli run of "+args[0])
			code, err := executor.Execute(ctx, r.Plan, pt, cfg.Workspace, func(line string) {
				fmt.Fprintln(out, line)
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return context.Canceled
				}
				return err
			}
			if code != 0 {
				return fmt.Errorf("ffmpeg exited with status %d", code)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", r.OutputPath)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
