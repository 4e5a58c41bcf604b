package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/search/google"
)

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	var results int
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Run a web search",
		Long: `Prints the top results for the query given on the command line. Without a
query it keeps asking for search terms until you type 'quit'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			searcher, err := appInstance.Searcher()
			if err != nil {
				return fmt.Errorf("search unavailable: %w", err)
			}
			n := results
			if n <= 0 {
				n = appInstance.Config().Search.Results
			}
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return runSearch(cmd.Context(), searcher, out, strings.Join(args, " "), n)
			}
			return searchLoop(cmd.Context(), searcher, bufio.NewScanner(cmd.InOrStdin()), out, n)
		},
	}
	cmd.Flags().IntVarP(&results, "results", "n", 0, "number of results (default search.results)")
	return cmd
}

func searchLoop(ctx context.Context, searcher crawler.Searcher, in *bufio.Scanner, out io.Writer, n int) error {
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out, "      WEB SEARCH")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)
	for {
		fmt.Fprint(out, "Enter search term (or 'quit' to exit): ")
		if !in.Scan() {
			fmt.Fprintln(out, "\n\nExiting...")
			if err := in.Err(); err != nil {
				return fmt.Errorf("read query: %w", err)
			}
			return nil
		}
		query := strings.TrimSpace(in.Text())
		switch {
		case query == "":
			fmt.Fprintln(out, "Please enter a search term.")
			continue
		case strings.EqualFold(query, "quit"):
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err := runSearch(ctx, searcher, out, query, n); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("search canceled: %w", ctx.Err())
			}
			printSearchError(out, err)
		}
		fmt.Fprintln(out)
	}
}

func runSearch(ctx context.Context, searcher crawler.Searcher, out io.Writer, query string, n int) error {
	fmt.Fprintf(out, "Searching for: '%s'...\n", query)
	results, err := searcher.Search(ctx, query, n)
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintf(out, "\nFirst %d results:\n", len(results))
	fmt.Fprintln(out, strings.Repeat("-", 40))
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s\n   %s\n", i+1, r.Title, r.Link)
	}
	fmt.Fprintln(out, strings.Repeat("-", 40))
	return nil
}

func printSearchError(out io.Writer, err error) {
	switch {
	case errors.Is(err, google.ErrQuotaExceeded):
		fmt.Fprintln(out, "Error: API key invalid or quota exceeded.")
		fmt.Fprintln(out, "Please check your API key and make sure you haven't exceeded the daily limit.")
	case errors.Is(err, google.ErrRateLimited):
		fmt.Fprintln(out, "Error: Too many requests. Please wait and try again.")
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}
