// -- cmd/fill.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/config"
	"github.com/kilravok/formweaver/internal/diagnostics"
	"github.com/kilravok/formweaver/internal/driver"
	"github.com/kilravok/formweaver/internal/executor"
	"github.com/kilravok/formweaver/internal/frames"
	"github.com/kilravok/formweaver/internal/observability"
	"github.com/kilravok/formweaver/internal/plan"
)

var (
	fillPlanPath    string
	fillURL         string
	fillReportPath  string
	fillStopOnError bool
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Execute a field-instruction plan against a live page.",
	Long: `Fill loads a JSON plan of field instructions, opens the target page in
a headless browser, maps its frame tree, and executes every instruction
with retry and verification. A diagnostics report of all stages can be
written afterwards.`,
	RunE: runFill,
}

func init() {
	fillCmd.Flags().StringVarP(&fillPlanPath, "plan", "p", "", "path to the JSON field plan (required)")
	fillCmd.Flags().StringVarP(&fillURL, "url", "u", "", "target URL (overrides the plan's url)")
	fillCmd.Flags().StringVar(&fillReportPath, "report", "", "write a JSON diagnostics report to this path")
	fillCmd.Flags().BoolVar(&fillStopOnError, "stop-on-error", false, "halt at the first failed field")
	_ = fillCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(fillCmd)
}

func runFill(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	p, err := plan.Load(fillPlanPath)
	if err != nil {
		return err
	}
	targetURL := fillURL
	if targetURL == "" {
		targetURL = p.URL
	}
	if targetURL == "" {
		return fmt.Errorf("no target URL: pass --url or set \"url\" in the plan")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browserCtx, cancelBrowser := newBrowserContext(appCfg.Browser)
	defer cancelBrowser()

	page := driver.NewChromePage(browserCtx, logger)
	rec := diagnostics.NewRecorder(logger)
	mapper := frames.NewMapper(page, logger)
	exec := executor.New(page, mapper, rec, logger, appCfg.Engine)

	navStage := rec.StageStart("navigate").Detail("url", targetURL)
	navCtx, cancelNav := context.WithTimeout(ctx, appCfg.Browser.NavigationTimeout)
	err = page.Navigate(navCtx, targetURL)
	cancelNav()
	navStage.End(err == nil, err)
	if err != nil {
		return err
	}
	// Give late-loading embeds a moment before mapping frames.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(appCfg.Browser.PostLoadWait):
	}

	mapStage := rec.StageStart("map_frames")
	err = mapper.MapFrames(ctx)
	mapStage.Detail("frames", len(mapper.Records())).End(err == nil, err)
	if err != nil {
		return err
	}

	summary := exec.ExecuteAll(ctx, p.Actions(), fillStopOnError || p.StopOnError)

	logger.Info("Plan finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	for _, res := range summary.Results {
		if res.Success {
			continue
		}
		logger.Warn("Field failed",
			zap.String("selector", res.FieldIdentifier),
			zap.String("kind", res.ErrorKind),
			zap.String("error", res.Error))
	}

	if fillReportPath != "" {
		if err := rec.WriteReport(fillReportPath); err != nil {
			logger.Error("Could not write diagnostics report", zap.Error(err))
		} else {
			logger.Info("Diagnostics report written", zap.String("path", fillReportPath))
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d fields failed", summary.Failed, summary.Total)
	}
	return nil
}

// newBrowserContext builds the chromedp allocator and tab context from the
// browser configuration.
func newBrowserContext(cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if name, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	return taskCtx, func() {
		cancelTask()
		cancelAlloc()
	}
}
