package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/parallel-fetcher/internal/llm"
	"github.com/JakeFAU/parallel-fetcher/internal/research"
)

const answerBanner = "======================================================================"

// newAskCmd creates the 'ask' subcommand.
func newAskCmd() *cobra.Command {
	var overrides llm.Overrides
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Answer a question from freshly fetched search results",
		Long: `Turns the question into a search term, fetches the top results in parallel
and streams an answer grounded in the pages that were fetched. Without a
question it keeps asking until you type 'quit'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides.ReasoningEffort = strings.ToLower(strings.TrimSpace(overrides.ReasoningEffort))
			if err := overrides.Validate(); err != nil {
				return fmt.Errorf("invalid --effort: %w", err)
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := llm.WithOverrides(cmd.Context(), overrides)
			pipeline, err := appInstance.Research()
			if err != nil {
				return fmt.Errorf("research unavailable: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return answerQuestion(ctx, pipeline, out, strings.Join(args, " "))
			}
			return askLoop(ctx, pipeline, bufio.NewScanner(cmd.InOrStdin()), out)
		},
	}
	cmd.Flags().StringVar(&overrides.Model, "model", "", "chat model for this session (default openai.model)")
	cmd.Flags().StringVar(&overrides.ReasoningEffort, "effort", "",
		"reasoning effort for o-series models: minimal, low, medium or high (default openai.reasoning_effort)")
	return cmd
}

func askLoop(ctx context.Context, pipeline *research.Pipeline, in *bufio.Scanner, out io.Writer) error {
	fmt.Fprintln(out, "Ask a question and get an answer from the web.")
	for {
		fmt.Fprint(out, "\nEnter your question (or 'quit' to exit): ")
		if !in.Scan() {
			fmt.Fprintln(out, "\nThanks for using the app!")
			if err := in.Err(); err != nil {
				return fmt.Errorf("read question: %w", err)
			}
			return nil
		}
		question := strings.TrimSpace(in.Text())
		switch {
		case question == "":
			continue
		case strings.EqualFold(question, "quit"):
			fmt.Fprintln(out, "Thanks for using the app!")
			return nil
		}
		if err := answerQuestion(ctx, pipeline, out, question); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("ask canceled: %w", ctx.Err())
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func answerQuestion(ctx context.Context, pipeline *research.Pipeline, out io.Writer, question string) error {
	fmt.Fprintf(out, "\nProcessing question: %s\n", question)
	g, err := pipeline.Gather(ctx, question)
	if errors.Is(err, research.ErrNoResults) {
		fmt.Fprintln(out, "No search results found.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("gather sources: %w", err)
	}

	fmt.Fprintf(out, "Searched for: %s\n", g.SearchTerm)
	for _, o := range g.Batch.Outcomes {
		if o.Failure != nil {
			fmt.Fprintf(out, "  → [%d] Failed: %s\n", o.Index+1, o.Failure.Reason)
			continue
		}
		fmt.Fprintf(out, "  → [%d] %s (%d characters)\n", o.Index+1, o.Item.Link, len(o.Content))
	}
	fmt.Fprintf(out, "Total crawling time: %.2f seconds (parallel execution)\n", g.Batch.Elapsed.Seconds())

	started := false
	err = pipeline.Stream(ctx, question, g, func(delta string) error {
		if !started {
			started = true
			fmt.Fprintf(out, "\n%s\nANSWER:\n%s\n", answerBanner, answerBanner)
		}
		_, werr := io.WriteString(out, delta)
		return werr
	})
	if started {
		fmt.Fprintf(out, "\n%s\n", answerBanner)
	}
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	return nil
}
