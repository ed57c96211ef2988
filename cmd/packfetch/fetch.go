package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/markpe/packfetch/internal/catalog"
	"github.com/markpe/packfetch/internal/config"
	"github.com/markpe/packfetch/internal/downloader"
	packhttp "github.com/markpe/packfetch/internal/http"
	"github.com/markpe/packfetch/internal/logger"
	"github.com/markpe/packfetch/internal/materialize"
	"github.com/markpe/packfetch/internal/notify"
	"github.com/markpe/packfetch/internal/progress"
)

// target is one requested item.
type target struct {
	ID    string
	Title string
}

// runFetch retrieves every item given on the command line concurrently and
// saves each package to the output bucket.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	apiURL := fs.String("api-url", "", "Catalog API base URL")
	token := fs.String("token", "", "Bearer token for the catalog API")
	output := fs.String("output", "", "Destination bucket URL (default file://./downloads)")
	fallbackOutput := fs.String("fallback-output", "", "Bucket URL used when saving to -output fails")
	itemsPath := fs.String("items", "", "Catalog results file used to look up titles")
	showProgress := fs.Bool("progress", false, "Show progress output")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	bufferSize := fs.String("buffer-size", "", "Largest chunk read from a response (e.g. 32KiB)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: packfetch fetch [options] <item-id>[=<title>]...

Retrieve catalog items and save each package to a bucket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one item id is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitConfigError
	}

	override := config.Config{
		APIURL:         *apiURL,
		Token:          *token,
		Output:         *output,
		FallbackOutput: *fallbackOutput,
		Progress:       *showProgress,
		Verbose:        *verbose,
	}
	if *bufferSize != "" {
		n, err := progress.ParseBytes(*bufferSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid buffer size: %v\n", err)
			return ExitInvalidArgs
		}
		override.BufferSize = n
	}
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	var entries map[string]catalog.Entry
	if *itemsPath != "" {
		list, err := catalog.Load(*itemsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading items: %v\n", err)
			return ExitInvalidArgs
		}
		entries = catalog.Index(list)
	}
	targets := parseTargets(fs.Args(), entries)

	log := logger.New(cfg.Verbose)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals: cancel in-flight requests
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[packfetch] Received interrupt, canceling requests...")
			cancel()
		case <-ctx.Done():
		}
	}()

	mat := &materialize.Materializer{}
	primary, err := openBucket(ctx, cfg.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer primary.Close()
	mat.Primary = materialize.NewBucketTrigger(primary, "")

	if cfg.FallbackOutput != "" {
		fallback, err := openBucket(ctx, cfg.FallbackOutput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening fallback bucket: %v\n", err)
			return ExitStorageError
		}
		defer fallback.Close()
		mat.Fallback = materialize.NewBucketTrigger(fallback, "")
	}

	client := packhttp.NewClient(packhttp.Options{
		BaseURL: cfg.APIURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeouts.Request,
	})

	queue := notify.NewQueue(cfg.Timeouts.NotificationTTL)
	defer queue.Close()

	var failed atomic.Int32
	m := downloader.New(client, mat, queue, downloader.Options{
		StatusEscalation: cfg.Timeouts.StatusEscalation,
		CompletedLinger:  cfg.Timeouts.CompletedLinger,
		ErrorLinger:      cfg.Timeouts.ErrorLinger,
		ReleaseDelay:     cfg.Timeouts.ReleaseDelay,
		BufferSize:       int(cfg.BufferSize),
		Logger:           log,
		OnFinish: func(item downloader.Item, err error) {
			if err != nil {
				failed.Add(1)
				return
			}
			if !cfg.Progress {
				log.Infof("%s: saved %s (%s)", item.Title, item.Location, progress.FormatBytes(item.DownloadedSize))
			}
		},
	})

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(managerSource{m}, progress.Options{Output: os.Stderr})
		reporter.Start()
		defer reporter.Stop()
	}

	for _, t := range targets {
		id := m.StartDownload(ctx, t.ID, t.Title)
		log.Debugf("started %s as %s", t.ID, id)
	}
	m.Wait()

	if reporter != nil {
		reporter.Stop()
	}

	if n := failed.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "[packfetch] %d of %d downloads failed\n", n, len(targets))
		return ExitDownloadFailed
	}
	fmt.Fprintf(os.Stderr, "[packfetch] %d downloads complete: %s\n", len(targets), cfg.Output)
	return ExitSuccess
}

// loadConfig reads the optional config file, then the environment.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseTargets turns "id" and "id=title" arguments into targets. Titles not
// given explicitly come from entries, else the id is used.
func parseTargets(args []string, entries map[string]catalog.Entry) []target {
	targets := make([]target, 0, len(args))
	for _, arg := range args {
		id, title, _ := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		title = strings.TrimSpace(title)
		if id == "" {
			continue
		}
		if title == "" {
			if e, ok := entries[id]; ok {
				title = e.DisplayTitle()
			} else {
				title = id
			}
		}
		targets = append(targets, target{ID: id, Title: title})
	}
	return targets
}

// managerSource feeds manager state to the progress reporter.
type managerSource struct {
	m *downloader.Manager
}

func (s managerSource) Rows() []progress.Row {
	items := s.m.Downloads()
	rows := make([]progress.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, progress.Row{
			Title:        it.Title,
			Status:       string(it.Status),
			ServerStatus: it.ServerStatus,
			Snapshot: progress.Snapshot{
				Downloaded: it.DownloadedSize,
				Total:      it.TotalSize,
				Percent:    it.Progress,
				Speed:      it.Speed,
				Known:      !it.Indeterminate(),
			},
		})
	}
	return rows
}

func (s managerSource) Messages() []progress.Message {
	list := s.m.Notifications()
	msgs := make([]progress.Message, 0, len(list))
	for _, n := range list {
		msgs = append(msgs, progress.Message{ID: n.ID, Text: n.Message})
	}
	return msgs
}
