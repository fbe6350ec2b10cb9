package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/docchat/internal/app"
	"github.com/xhad/docchat/internal/models"
	cfgPkg "github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/logger"
)

type Config struct {
	ConfigPath string
	Uploads    []string
	SiteURL    string
	Work       bool
	LogLevel   string
}

func main() {
	config := parseFlags()

	if err := run(config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Config {
	var config Config
	var uploads string

	flag.StringVar(&config.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&uploads, "upload", "", "Comma-separated documents to upload before chatting")
	flag.StringVar(&config.SiteURL, "url", "", "Documentation site to crawl and upload before chatting")
	flag.BoolVar(&config.Work, "work", false, "Run an ingestion worker pool in this process")
	flag.StringVar(&config.LogLevel, "log-level", "error", "Log level for background components")
	flag.Parse()

	for _, path := range strings.Split(uploads, ",") {
		if path = strings.TrimSpace(path); path != "" {
			config.Uploads = append(config.Uploads, path)
		}
	}
	config.Uploads = append(config.Uploads, flag.Args()...)

	return config
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(config Config) error {
	_ = godotenv.Load()

	cfg, err := cfgPkg.LoadConfig(config.ConfigPath)
	if err != nil {
		return err
	}

	// Keep background logs off the chat prompt
	lg := logger.New(logger.Config{Level: config.LogLevel, Format: "text", Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %v", err)
	}
	defer a.Close()

	poolDone := make(chan error, 1)
	if config.Work {
		go func() { poolDone <- a.Pool().Run(ctx) }()
	}

	accepted := 0
	if len(config.Uploads) > 0 {
		accepted += upload(ctx, a, config.Uploads)
	}
	if config.SiteURL != "" {
		accepted += importSite(ctx, a, config.SiteURL)
	}
	if err := afterQueueing(ctx, a, config.Work, accepted, poolDone); err != nil {
		return err
	}

	return chat(ctx, a, config.Work, poolDone)
}

func afterQueueing(ctx context.Context, a *app.App, work bool, accepted int, poolDone <-chan error) error {
	if accepted == 0 {
		return nil
	}
	if !work {
		color.Yellow("Documents queued; they become searchable once a worker has processed them.")
		return nil
	}
	return waitForIngestion(ctx, a, accepted, poolDone)
}

func importSite(ctx context.Context, a *app.App, siteURL string) int {
	color.Blue("\nCrawling %s", siteURL)
	spinner := getSpinner(" Crawling documentation...")
	receipts, err := a.Importer.Import(ctx, siteURL)
	spinner.Finish()
	fmt.Print("\r")

	if err != nil {
		color.Red("Failed to import %s: %v\n", siteURL, err)
	}
	if len(receipts) > 0 {
		color.Green("✓ Queued %d pages\n", len(receipts))
	}
	return len(receipts)
}

func upload(ctx context.Context, a *app.App, paths []string) int {
	bar := getProgressBar(len(paths), "Uploading documents")
	accepted := 0

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			color.Red("\nFailed to open %s: %v", path, err)
			bar.Add(1)
			continue
		}

		receipt, err := a.Uploader.Accept(ctx, filepath.Base(path), f)
		f.Close()
		bar.Add(1)
		if err != nil {
			color.Red("\nFailed to upload %s: %v", path, err)
			continue
		}
		accepted++
		a.Logger.Debug("document queued", "job_id", receipt.JobID, "filename", receipt.Filename)
	}

	bar.Finish()
	color.Green("\n✓ Queued %d of %d documents\n", accepted, len(paths))
	return accepted
}

// waitForIngestion blocks until the queue has no queued or leased jobs left.
func waitForIngestion(ctx context.Context, a *app.App, total int, poolDone <-chan error) error {
	bar := getProgressBar(total, "Indexing documents")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-poolDone:
			bar.Finish()
			if err != nil {
				return fmt.Errorf("ingestion halted: %v", err)
			}
			return nil
		case <-ticker.C:
		}

		stats, err := a.Queue.Stats(ctx, a.Config.Queue.Topic)
		if err != nil {
			color.Red("\nFailed to read queue stats: %v", err)
			continue
		}

		pending := stats.Queued + stats.Leased
		if finished := total - pending; finished > 0 {
			bar.Set(finished)
		}
		if pending == 0 {
			bar.Finish()
			if stats.Dead+stats.Rejected > 0 {
				color.Yellow("\n%d documents could not be indexed", stats.Dead+stats.Rejected)
			}
			color.Green("\n✓ Indexing complete\n")
			return nil
		}
	}
}

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

func chat(ctx context.Context, a *app.App, work bool, poolDone <-chan error) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		if siteURL := urlRegex.FindString(query); siteURL != "" {
			queued := importSite(ctx, a, siteURL)
			if err := afterQueueing(ctx, a, work, queued, poolDone); err != nil {
				return err
			}
			if query == siteURL {
				continue
			}
		}

		spinner := getSpinner(" Thinking...")
		exchange, err := a.Orchestrator.Answer(ctx, query)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			color.Red("Error: %v\n", err)
			continue
		}

		assistantPrompt("\nAssistant: %s\n", exchange.Answer)
		printCitations(exchange.Citations)
	}

	return nil
}

func printCitations(citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	faint := color.New(color.Faint).PrintfFunc()
	faint("\nSources:\n")
	for i, c := range citations {
		faint("  [%d] %s, page %d (%.2f)\n", i+1, c.SourceDocument, c.PageLocation, c.Score)
	}
}
