package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/hybridrag"
	"github.com/brunobiangulo/hybridrag/eval"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		topK, _ := cmd.Flags().GetInt("top-k")

		var opts []hybridrag.AskOption
		if topK > 0 {
			opts = append(opts, hybridrag.WithTopK(topK))
		}

		return withEngine(func(eng hybridrag.Engine) error {
			ans, err := eng.Ask(cmd.Context(), strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), ans)
			}
			printAnswer(cmd.OutOrStdout(), ans)
			return nil
		})
	},
}

func printAnswer(w io.Writer, ans *hybridrag.Answer) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Sources:")
		for _, src := range ans.Sources {
			cyan.Fprintf(w, "  - %s\n", src)
		}
	}
	fmt.Fprintln(w)
	if ans.Degraded {
		yellow.Fprintf(w, "degraded answer (%s)\n", ans.FallbackReason)
	}
	fmt.Fprintf(w, "entity=%q model=%s request_id=%s elapsed=%s\n",
		ans.Entity, ans.ModelUsed, ans.RequestID, ans.Elapsed.Round(time.Millisecond))
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Chunk, embed and store catalog exports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		var opts []hybridrag.IngestOption
		if force {
			opts = append(opts, hybridrag.WithForce())
		}

		return withEngine(func(eng hybridrag.Engine) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				r, err := eng.IngestFile(cmd.Context(), path, opts...)
				if err != nil {
					return fmt.Errorf("ingesting %s: %w", path, err)
				}
				green.Fprintf(out, "%s: ", path)
				fmt.Fprintf(out, "%d pages, %d skipped, %d failed, %d chunks in %s\n",
					r.Pages, r.Skipped, r.Failed, r.Chunks, r.Elapsed.Round(time.Millisecond))
			}
			return nil
		})
	},
}

var loadGraphCmd = &cobra.Command{
	Use:   "load-graph <file>...",
	Short: "Extract recipes, ingredients and categories into the graph store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearFirst, _ := cmd.Flags().GetBool("clear")

		return withEngine(func(eng hybridrag.Engine) error {
			out := cmd.OutOrStdout()
			for i, path := range args {
				// Only the first file clears, so several exports can be
				// loaded into one fresh graph.
				r, err := eng.LoadGraphFile(cmd.Context(), path, clearFirst && i == 0)
				if err != nil {
					return fmt.Errorf("loading %s: %w", path, err)
				}
				green.Fprintf(out, "%s: ", path)
				fmt.Fprintf(out, "%d pages, %d recipes, %d ingredients, %d categories, %d edges in %s\n",
					r.Pages, r.Recipes, r.Ingredients, r.Categories, r.Edges, r.Elapsed.Round(time.Millisecond))
			}
			return nil
		})
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Grade answers against a question set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetPath, _ := cmd.Flags().GetString("dataset")
		output, _ := cmd.Flags().GetString("output")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		ds := eval.DefaultDataset()
		if datasetPath != "" {
			var err error
			if ds, err = eval.LoadDataset(datasetPath); err != nil {
				return err
			}
		}

		return withEngine(func(eng hybridrag.Engine) error {
			ev := eval.NewEvaluator(eng)
			ev.SetFactThreshold(threshold)
			report, err := ev.Run(cmd.Context(), ds)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, eval.FormatReport(report))
			printEvalSummary(out, report)

			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating report file: %w", err)
				}
				defer f.Close()
				if err := writeIndentedJSON(f, report); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}
			}
			return nil
		})
	},
}

func printEvalSummary(w io.Writer, r *eval.Report) {
	c := green
	switch {
	case r.Errors > 0:
		c = red
	case r.Failed > 0:
		c = yellow
	}
	c.Fprintf(w, "\n%d/%d passed", r.Passed, r.TotalTests)
	fmt.Fprintf(w, " (entity %.2f, facts %.2f, no-info %.2f)\n",
		r.Metrics.EntityAccuracy, r.Metrics.FactRecall, r.Metrics.NoInfoAccuracy)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts for every configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withEngine(func(eng hybridrag.Engine) error {
			st, err := eng.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), st)
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

func printStats(w io.Writer, st *hybridrag.Stats) {
	bold.Fprintln(w, "Vector store")
	fmt.Fprintf(w, "  backend:    %s\n", st.VectorBackend)
	fmt.Fprintf(w, "  pages:      %d\n", st.Pages)
	fmt.Fprintf(w, "  chunks:     %d\n", st.Chunks)
	fmt.Fprintf(w, "  embeddings: %d\n", st.Embeddings)
	bold.Fprintln(w, "Graph store")
	fmt.Fprintf(w, "  backend:    %s\n", st.GraphBackend)
	fmt.Fprintf(w, "  nodes:      %d\n", st.Nodes)
	fmt.Fprintf(w, "  edges:      %d\n", st.Edges)
	bold.Fprintln(w, "Queries")
	fmt.Fprintf(w, "  logged:     %d\n", st.Queries)
	if st.ModelAvailable {
		green.Fprintln(w, "  chat model: available")
	} else {
		yellow.Fprintln(w, "  chat model: unavailable, answers use the fallback template")
	}
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	askCmd.Flags().Bool("json", false, "print the full answer as JSON")
	askCmd.Flags().Int("top-k", 0, "chunks to fetch from the vector source (default from top_k)")

	ingestCmd.Flags().Bool("force", false, "re-embed pages whose content is unchanged")

	loadGraphCmd.Flags().Bool("clear", false, "delete every node and edge before loading")

	evalCmd.Flags().String("dataset", "", "dataset JSON file (default: built-in questions)")
	evalCmd.Flags().String("output", "", "write the JSON report to this path")
	evalCmd.Flags().Float64("threshold", 0.5, "fact recall a case needs to pass")

	statsCmd.Flags().Bool("json", false, "print stats as JSON")
}
