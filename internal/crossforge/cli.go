package crossforge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"crossforge/internal/pipeline"
)

// cliOptions holds the flags shared by every command. Flags only override
// the config file and environment when given explicitly.
type cliOptions struct {
	configPath          string
	workingDir          string
	sourceRoot          string
	androidSDK          string
	ndkVersion          string
	apiLevel            string
	archs               string
	jobs                int
	checkoutConcurrency int
	revisions           string
	archiveFormat       string
	logLevel            string
}

// Main is the CLI entrypoint for cmd/crossforge.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go handleSignals(ctx, cancel, sigs)

	if err := newRootCommand(&cliOptions{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// handleSignals cancels ctx on the first interrupt and exits with 130 on the
// second. While a critical step runs the first interrupt is held back until
// the step returns.
func handleSignals(ctx context.Context, cancel context.CancelFunc, sigs chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if isCriticalAtomic.Load() == 1 {
				colArrow.Print("\n-> ")
				colWarn.Printf("Toolchain assembly in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
				if !waitCritical(sigs) {
					colArrow.Print("\n-> ")
					colError.Printf("Forced immediate exit.\n")
					os.Exit(130)
				}
			}

			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Stopping after the current step\n", sig)
			cancel()

			<-sigs
			colArrow.Print("\n-> ")
			color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
			os.Exit(130)
		}
	}
}

// waitCritical blocks until the critical phase ends. It returns false when
// another signal arrives first.
func waitCritical(sigs chan os.Signal) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for isCriticalAtomic.Load() == 1 {
		select {
		case <-sigs:
			return false
		case <-ticker.C:
		}
	}
	return true
}

func newRootCommand(opts *cliOptions) *cobra.Command {
	build := newBuildCommand(opts)
	root := &cobra.Command{
		Use:           "crossforge",
		Short:         "Cross-compile the Swift toolchain and its libraries for Android",
		Version:       fmt.Sprintf("%s (built %s)", version, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          build.RunE,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (default <working-dir>/"+ConfigFileName+")")
	pf.StringVarP(&opts.workingDir, "working-dir", "w", "", "Directory holding checkouts, builds, logs and progress")
	pf.StringVar(&opts.sourceRoot, "source-root", "", "Directory holding patches/ and the toolchain LICENSE")
	pf.StringVar(&opts.androidSDK, "android-sdk", "", "Android SDK root (default $ANDROID_HOME)")
	pf.StringVar(&opts.ndkVersion, "ndk-version", "", "NDK major version to use")
	pf.StringVar(&opts.apiLevel, "api-level", "", "Android API level to target")
	pf.StringVar(&opts.archs, "archs", "", "Comma separated target architectures (default all)")
	pf.IntVarP(&opts.jobs, "jobs", "j", 0, "Parallel jobs passed to ninja and make")
	pf.IntVar(&opts.checkoutConcurrency, "checkout-concurrency", 0, "Repositories fetched at once")
	pf.StringVar(&opts.revisions, "revisions", "", "Revision table overriding the built-in one")
	pf.StringVar(&opts.archiveFormat, "archive-format", "", "Toolchain archive format: zst, xz, gz or zip")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVarP(&Verbose, "verbose", "v", false, "Mirror step logs to stderr")
	pf.BoolVar(&Debug, "debug", false, "Print debug messages")

	root.AddCommand(build)
	root.AddCommand(newStatusCommand(opts))
	root.AddCommand(newLogsCommand(opts))
	root.AddCommand(newHistoryCommand(opts))
	root.AddCommand(newWaitDeviceCommand(opts))
	root.AddCommand(newResetProgressCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// loadConfig reads the config file and environment, then applies the flags
// that were set on cmd. The working directory is made absolute but nothing
// else is validated.
func (o *cliOptions) loadConfig(cmd *cobra.Command) (*Config, error) {
	path, required := o.configPath, true
	if path == "" {
		dir := o.workingDir
		if dir == "" {
			dir = os.Getenv("CROSSFORGE_WORKING_DIR")
		}
		if dir == "" {
			dir = "."
		}
		path, required = filepath.Join(dir, ConfigFileName), false
	}
	cfg, err := LoadConfig(path, required)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	str := map[string]*string{
		"working-dir":    &cfg.WorkingDir,
		"source-root":    &cfg.SourceRoot,
		"android-sdk":    &cfg.AndroidSDK,
		"ndk-version":    &cfg.NDKVersion,
		"api-level":      &cfg.APILevel,
		"revisions":      &cfg.Revisions,
		"archive-format": &cfg.Archive.Format,
		"log-level":      &cfg.LogLevel,
	}
	for name, dst := range str {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("jobs") {
		cfg.BuildJobs = o.jobs
	}
	if flags.Changed("checkout-concurrency") {
		cfg.CheckoutConcurrency = o.checkoutConcurrency
	}
	if flags.Changed("archs") {
		cfg.Archs = splitList(o.archs)
	}
	if Debug {
		cfg.LogLevel = LevelDebug
	}

	if cfg.WorkingDir, err = filepath.Abs(cfg.WorkingDir); err != nil {
		return nil, err
	}
	debugf("=> Working directory %s\n", cfg.WorkingDir)
	return cfg, nil
}

// graphFor builds the default graph for cfg without touching the SDK.
func graphFor(cfg *Config) (*Graph, []Step, error) {
	archs := cfg.TargetArchs
	if archs == nil {
		var err error
		if archs, err = ResolveArchs(cfg.Archs); err != nil {
			return nil, nil, err
		}
	}
	revs, err := LoadRevisionTable(cfg.Revisions)
	if err != nil {
		return nil, nil, err
	}
	g := DefaultGraph(revs, archs)
	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	return g, g.Steps(cfg), nil
}

func newBuildCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run the pipeline, resuming after the last completed step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			return runBuild(cmd.Context(), cfg)
		},
	}
}

func runBuild(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	lock, err := AcquireLock(cfg.WorkingDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	level, closer, err := ConfigureLogging(cfg.LogLevel, cfg.LogsDir())
	if err != nil {
		return err
	}
	defer closer.Close()

	_, steps, err := graphFor(cfg)
	if err != nil {
		return err
	}
	slog.Info("starting build", "version", version, "working_dir", cfg.WorkingDir,
		"ndk", cfg.SDK.NDK.Dir, "archs", len(cfg.TargetArchs), "steps", len(steps))

	tty := isTerminal(os.Stdout)
	reporters := []pipeline.Reporter{newConsoleReporter(os.Stdout, tty, len(steps))}

	hist, err := OpenHistory(filepath.Join(cfg.WorkingDir, HistoryFile))
	if err != nil {
		slog.Warn("run history disabled", "err", err)
	} else {
		defer hist.Close()
		if _, err := hist.BeginRun(); err != nil {
			slog.Warn("run history disabled", "err", err)
		} else {
			reporters = append(reporters, hist)
		}
	}

	exec := &pipeline.Executor[*Config]{
		WorkDir:  cfg.WorkingDir,
		LogDir:   cfg.LogsDir(),
		Config:   cfg,
		Reporter: pipeline.Reporters(reporters...),
		LogLevel: level,
	}
	if Verbose {
		exec.Mirror = os.Stderr
	}

	start := time.Now()
	runErr := exec.Run(ctx, steps)
	if hist != nil {
		if err := hist.FinishRun(runErr); err != nil {
			slog.Warn("record run result", "err", err)
		}
	}
	if runErr != nil {
		slog.Error("build failed", "err", runErr, "elapsed", time.Since(start).Round(time.Millisecond))
		return runErr
	}

	slog.Info("build finished", "elapsed", time.Since(start).Round(time.Millisecond))
	arrow()
	colSuccess.Printf("Toolchain ready at %s in %s\n", cfg.ArchivePath(), formatDuration(time.Since(start)))
	return nil
}

func newStatusCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the pipeline steps and which ones have completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			_, steps, err := graphFor(cfg)
			if err != nil {
				return err
			}
			progress, err := pipeline.LoadProgress(cfg.WorkingDir)
			if err != nil {
				return err
			}
			fmt.Println(statusTable(steps, progress.Completed()))
			return nil
		},
	}
}

// statusTable renders one row per step with its completion state and
// whether the next build would execute it.
func statusTable(steps []Step, completed []string) string {
	rows := make([][]string, 0, len(steps))
	done := 0
	for i, s := range steps {
		mark, next := "", "run"
		if slices.Contains(completed, s.Name()) {
			mark = "✓"
			done++
		}
		if !s.ShouldRun(completed) {
			next = "skip"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), s.Name(), mark, next})
	}
	out := renderTable([]string{"#", "Step", "Done", "Next build"}, rows)
	return out + fmt.Sprintf("\n%d/%d steps completed", done, len(steps))
}

func newLogsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Browse the step logs of the working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !isTerminal(os.Stdout) {
				return errors.New("logs needs an interactive terminal")
			}
			return RunLogViewer(cfg.LogsDir())
		},
	}
}

func newHistoryCommand(opts *cliOptions) *cobra.Command {
	var limit int
	var runID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs, or the steps of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.WorkingDir, HistoryFile)
			if !fileExists(path) {
				arrow()
				colNote.Println("No runs recorded yet")
				return nil
			}
			hist, err := OpenHistory(path)
			if err != nil {
				return err
			}
			defer hist.Close()

			if runID != "" {
				out, err := stepsTable(hist, runID)
				if err != nil {
					return err
				}
				return runPager(newPagerPage("run "+runID, out, tableHeaderLines))
			}
			out, err := runsTable(hist, limit)
			if err != nil {
				return err
			}
			return runPager(newPagerPage("crossforge history", out, tableHeaderLines))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVarP(&runID, "run", "r", "", "Show the steps of this run")
	return cmd
}

func runsTable(h *History, limit int) (string, error) {
	runs, err := h.Runs(limit)
	if err != nil {
		return "", err
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		took := ""
		if !r.FinishedAt.IsZero() {
			took = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			took,
			r.Status,
			r.Version,
			firstLine(r.Error),
		})
	}
	return renderTable([]string{"Run", "Started", "Took", "Status", "Version", "Error"}, rows), nil
}

func stepsTable(h *History, runID string) (string, error) {
	steps, err := h.Steps(runID)
	if err != nil {
		return "", err
	}
	if len(steps) == 0 {
		return "", fmt.Errorf("no steps recorded for run %q", runID)
	}
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		took := ""
		if s.Status != statusSkipped {
			took = formatDuration(s.Duration)
		}
		rows = append(rows, []string{strconv.Itoa(s.Index + 1), s.Name, s.Status, took, firstLine(s.Error)})
	}
	return renderTable([]string{"#", "Step", "Status", "Took", "Error"}, rows), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func newWaitDeviceCommand(opts *cliOptions) *cobra.Command {
	var serial string
	var timeout, interval time.Duration
	cmd := &cobra.Command{
		Use:   "wait-device",
		Short: "Wait until an Android device or emulator is attached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.AndroidSDK == "" {
				return errors.New("android SDK path is not set (--android-sdk or ANDROID_HOME)")
			}
			adb := ADBPath(cfg.AndroidSDK)
			if !fileExists(adb) {
				return &PreconditionError{What: "adb", Path: adb}
			}

			arrow()
			colInfo.Printf("Waiting for %s (up to %s)\n", serial, timeout)
			if err := WaitForDevice(cmd.Context(), adb, serial, interval, timeout, slog.Default()); err != nil {
				return err
			}
			arrow()
			colSuccess.Printf("%s attached\n", serial)
			return nil
		},
	}
	cmd.Flags().StringVarP(&serial, "serial", "s", DefaultDeviceSerial, "Device serial to wait for")
	cmd.Flags().DurationVar(&timeout, "timeout", DefaultDeviceTimeout, "Give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", DefaultDevicePollInterval, "Time between adb polls")
	return cmd
}

func newResetProgressCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-progress",
		Short: "Forget completed steps so the next build starts over",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !dirExists(cfg.WorkingDir) {
				return nil
			}
			lock, err := AcquireLock(cfg.WorkingDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := pipeline.Reset(cfg.WorkingDir); err != nil {
				return err
			}
			arrow()
			colSuccess.Println("Progress reset")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the crossforge version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Printf("crossforge %s (built %s)\n", version, buildDate)
		},
	}
}

var (
	tableAccent = lipgloss.Color("99")
	tableDim    = lipgloss.Color("243")
	tableFaint  = lipgloss.Color("238")
)

// renderTable draws a rounded table with a bold header and dimmed odd rows.
func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(tableAccent).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(tableDim)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(tableFaint)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}
