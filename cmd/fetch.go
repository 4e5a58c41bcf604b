package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher"
	"github.com/JakeFAU/parallel-fetcher/internal/id/uuid"
)

const (
	displayLimit = 1500
	banner       = "================================================================================"
)

type fetchOptions struct {
	concurrency int
	mode        string
	count       int
	raw         bool
	unordered   bool
	archive     bool
}

// newFetchCmd creates the 'fetch' subcommand.
func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Fetch several URLs in parallel",
		Long: `Fetches every URL given on the command line, or prompts for them when none
are given, using at most --concurrency fetches at a time. Each URL yields one
result; failures are reported next to the URL and never abort the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetchCommand(cmd, args, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "maximum fetches in flight (default fetch.concurrency)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "fetch mode: direct, zenrows, headless or auto (default fetch.mode)")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 3, "number of URLs to prompt for when none are given")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the raw body instead of the extracted text")
	cmd.Flags().BoolVar(&opts.unordered, "unordered", false, "list results in completion order")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "archive the batch to the configured stores")
	return cmd
}

func runFetchCommand(cmd *cobra.Command, args []string, opts *fetchOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	out := cmd.OutOrStdout()
	blocklist := crawler.NewBlocklist(cfg.Fetch.BlockedDomains)

	modeName := opts.mode
	if modeName == "" {
		modeName = cfg.Fetch.Mode
	}
	mode, err := fetcher.ParseMode(modeName)
	if err != nil {
		return fmt.Errorf("select mode: %w", err)
	}
	f, err := appInstance.Fetcher(mode)
	if err != nil {
		return fmt.Errorf("select fetcher: %w", err)
	}
	concurrency := opts.concurrency
	if concurrency == 0 {
		concurrency = cfg.Fetch.Concurrency
	}
	if concurrency < 1 {
		return fmt.Errorf("--concurrency must be >= 1, got %d", concurrency)
	}

	var urls []string
	if len(args) > 0 {
		urls, err = crawler.PrepareURLs(args, blocklist)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
	} else {
		urls, err = promptURLs(bufio.NewScanner(cmd.InOrStdin()), out, opts.count, blocklist)
		if err != nil {
			return err
		}
	}
	if len(urls) > cfg.Fetch.MaxURLs {
		return fmt.Errorf("at most %d urls per batch, got %d", cfg.Fetch.MaxURLs, len(urls))
	}

	fmt.Fprintln(out, "\nURLs to fetch:")
	for i, u := range urls {
		fmt.Fprintf(out, "%d. %s\n", i+1, u)
	}
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintf(out, "\nFetching content from %d URLs (%s mode, %d at a time)...\n", len(urls), mode, concurrency)

	fn := withProgress(out, fetcher.Text(f, appInstance.FetchOptions(mode, !opts.raw)))
	startedAt := time.Now()
	res, err := batch.FetchAll(cmd.Context(), urls, fn, batch.Options{
		MaxConcurrency: concurrency,
		PreserveOrder:  !opts.unordered,
		Logger:         appInstance.Logger().Named("batch"),
	})
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}
	fmt.Fprintf(out, "\nAll URLs fetched in %.2f seconds\n", res.Elapsed.Seconds())

	if opts.archive {
		archiveBatch(cmd.Context(), appInstance, out, startedAt, res)
	}
	displayResults(out, res)
	return nil
}

// promptURLs asks for count URLs, re-prompting until each one is usable.
func promptURLs(in *bufio.Scanner, out io.Writer, count int, blocklist *crawler.Blocklist) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("--count must be >= 1, got %d", count)
	}
	fmt.Fprintf(out, "Please enter %d URLs:\n", count)
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		for {
			fmt.Fprintf(out, "Enter URL #%d: ", i+1)
			if !in.Scan() {
				if err := in.Err(); err != nil {
					return nil, fmt.Errorf("read url: %w", err)
				}
				return nil, fmt.Errorf("read url #%d: %w", i+1, io.ErrUnexpectedEOF)
			}
			u, err := crawler.PrepareURL(in.Text())
			switch {
			case errors.Is(err, crawler.ErrEmptyURL):
				fmt.Fprintln(out, "Please enter a valid URL.")
				continue
			case err != nil:
				fmt.Fprintln(out, "Invalid URL format. Please try again.")
				continue
			case blocklist.BlocksURL(u):
				fmt.Fprintln(out, "That host is blocked. Please try another URL.")
				continue
			}
			urls = append(urls, u)
			break
		}
	}
	return urls, nil
}

// withProgress reports the start and end of each fetch. Workers print concurrently, so lines are
// serialized through one lock.
func withProgress(out io.Writer, fn batch.Func[string]) batch.Func[string] {
	var mu sync.Mutex
	say := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, a...)
	}
	return func(ctx context.Context, url string) (content string, err error) {
		say("Starting fetch for: %s\n", url)
		start := time.Now()
		finished := false
		defer func() {
			switch {
			case !finished, err != nil:
				say("Failed fetch for: %s after %.2f seconds\n", url, time.Since(start).Seconds())
			default:
				say("Completed fetch for: %s in %.2f seconds\n", url, time.Since(start).Seconds())
			}
		}()
		content, err = fn(ctx, url)
		finished = true
		return content, err
	}
}

func archiveBatch(ctx context.Context, appInstance App, out io.Writer, startedAt time.Time, res batch.Result[string]) {
	recorder := appInstance.Recorder()
	if recorder == nil {
		fmt.Fprintln(out, "Archive skipped: no recorder configured")
		return
	}
	id, err := uuid.New().NewID()
	if err != nil {
		fmt.Fprintf(out, "Archive skipped: %v\n", err)
		return
	}
	record, err := recorder.Record(ctx, id, startedAt, res)
	if err != nil {
		appInstance.Logger().Warn("archive batch failed", zap.String("batch_id", id), zap.Error(err))
		fmt.Fprintf(out, "Archive incomplete for batch %s: %v\n", id, err)
		return
	}
	fmt.Fprintf(out, "Archived batch %s (%s)\n", record.ID, record.Status)
}

func displayResults(out io.Writer, res batch.Result[string]) {
	for _, o := range res.Outcomes {
		fmt.Fprintf(out, "\n%s\n", banner)
		fmt.Fprintf(out, "CONTENT FROM URL #%d: %s\n", o.Index+1, o.Item)
		fmt.Fprintln(out, banner)
		switch {
		case o.Failure != nil:
			fmt.Fprintf(out, "Error fetching %s: %s\n", o.Item, o.Failure.Reason)
		default:
			runes := []rune(o.Content)
			if len(runes) > displayLimit {
				fmt.Fprintln(out, string(runes[:displayLimit]))
				fmt.Fprintf(out, "\n... (Content truncated. Total length: %d characters)\n", len(runes))
			} else {
				fmt.Fprintln(out, o.Content)
			}
		}
		fmt.Fprintln(out, banner)
	}
}
