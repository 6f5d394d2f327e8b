package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"goose/internal/environment"
	_ "goose/internal/environment/rodenv"
	_ "goose/internal/environment/stub"
	"goose/internal/extractor"
	"goose/internal/formatter"
	"goose/internal/log"
	"goose/internal/scraper"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	envName      string
	headers      []string
	userAgent    string
	outputFormat string
	outputFile   string
	waitFor      string
	waitTarget   string
	timeout      time.Duration
	level        string
	selector     string
	showUI       bool
	proxyURL     string
	snapshotFile string
	logLevel     string
	listEnvs     bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:     "goose [URL]",
		Short:   "Extract page content through an interchangeable browser environment",
		Version: version,
		Long: `goose loads a page in a browser-like environment (a real Chromium via
the "chrome" driver, or the scripted "stub" driver), waits for it to settle and
extracts its content as text, HTML, Markdown, JSON or CSV.`,
		Example: `  # Extract the main content as Markdown
  goose -l content -f markdown https://example.com/article

  # Wait for an XHR to /api/ before extracting a table as CSV
  goose -w query -T /api/ -l css -s "table.report" -o report.csv https://example.com/report

  # Save a screenshot alongside the text
  goose --snapshot page.png https://example.com`,
		Args: func(cmd *cobra.Command, args []string) error {
			if listEnvs {
				return nil
			}
			if len(args) == 0 {
				return cmd.Help()
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE:         run,
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&envName, "env", "chrome", "Environment driver (see --list-envs)")
	flags.BoolVar(&listEnvs, "list-envs", false, "List available environment drivers and exit")
	flags.StringSliceVarP(&headers, "header", "H", []string{}, "HTTP headers (can be used multiple times)")
	flags.StringVar(&userAgent, "user-agent", "", "Override the browser user agent")
	flags.StringVarP(&outputFormat, "format", "f", "text", "Output format (html, text, markdown, json, csv)")
	flags.StringVarP(&outputFile, "output", "o", "", "Output file path (format inferred from extension if -f not specified)")
	flags.StringVarP(&waitFor, "wait-for", "w", "load", "Wait strategy (load, element, time, query)")
	flags.StringVarP(&waitTarget, "wait-target", "T", "", "Wait target (selector for 'element', milliseconds for 'time', URL substring for 'query')")
	flags.DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Timeout for each wait")
	flags.StringVarP(&level, "level", "l", "body", "Content extraction level (full, html, body, content, xpath, css)")
	flags.StringVarP(&selector, "selector", "s", "", "Selector for xpath or css level")
	flags.BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode)")
	flags.StringVarP(&proxyURL, "proxy", "p", os.Getenv("GOOSE_PROXY"), "Proxy URL (e.g. http://127.0.0.1:7890), defaults to GOOSE_PROXY env var")
	flags.StringVar(&snapshotFile, "snapshot", "", "Write a PNG snapshot of the page to this file")
	flags.StringVar(&logLevel, "log-level", envOr("GOOSE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error), defaults to GOOSE_LOG_LEVEL env var")

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	log.Setup(logLevel, cmd.ErrOrStderr())

	if listEnvs {
		for _, name := range environment.Drivers() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	target := normalizeURL(args[0])

	// If output file is specified but format is not, infer format from file extension
	if outputFile != "" && !cmd.Flags().Changed("format") {
		if inferred := formatter.InferFromExtension(outputFile); inferred != "" {
			outputFormat = inferred
		}
	}

	if err := validateFlags(); err != nil {
		return err
	}

	env, err := environment.New(envName, environment.Options{
		URL:       target,
		Timeout:   timeout,
		Headless:  !showUI,
		ProxyURL:  proxyURL,
		UserAgent: userAgent,
		Headers:   parseHeaders(headers),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	content, err := scraper.NewGenericScraper(env).Scrape(ctx, target, scraper.Options{
		WaitFor:    waitFor,
		WaitTarget: waitTarget,
		Timeout:    timeout,
		Level:      level,
		Selector:   selector,
		Snapshot:   snapshotFile != "",
	})
	if err != nil {
		return fmt.Errorf("failed to fetch page: %w", err)
	}

	outputContent, err := formatter.Format(content, outputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(outputContent), 0644); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		log.Get().Info("output written", "path", outputFile)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), outputContent)
	}

	if page, ok := content.(*scraper.PageContent); ok && snapshotFile != "" && page.Snapshot() != nil {
		if err := os.WriteFile(snapshotFile, page.Snapshot(), 0644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		log.Get().Info("snapshot written", "path", snapshotFile)
	}

	return nil
}

func validateFlags() error {
	if !formatter.Valid(outputFormat) {
		return fmt.Errorf("invalid output format: %s", outputFormat)
	}

	if !scraper.ValidWaitStrategy(waitFor) {
		return fmt.Errorf("invalid wait strategy: %s", waitFor)
	}

	if (waitFor == "element" || waitFor == "time" || waitFor == "query") && waitTarget == "" {
		return fmt.Errorf("--wait-target is required when using '%s' wait strategy", waitFor)
	}

	if !extractor.ValidLevel(level) {
		return fmt.Errorf("invalid content level: %s", level)
	}

	if extractor.NeedsSelector(level) && selector == "" {
		return fmt.Errorf("--selector is required when using '%s' level", level)
	}

	if !extractor.NeedsSelector(level) && selector != "" {
		return fmt.Errorf("--selector is only valid with 'xpath' or 'css' level")
	}

	if timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}

	return nil
}

// parseHeaders parses request header parameters
func parseHeaders(headerSlice []string) map[string]string {
	headersMap := make(map[string]string)
	for _, h := range headerSlice {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if key != "" {
				headersMap[key] = value
			}
		}
	}
	return headersMap
}

// normalizeURL normalizes URL, adds http:// if no protocol prefix
func normalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return rawURL
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "http://" + rawURL
	}
	return rawURL
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
