package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
	"docqa/internal/server"
	"docqa/internal/service"
	"docqa/internal/tui"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Ingest documents into the knowledge base",
		Long:  "Parse, chunk, embed and index PDF, Markdown and text files. Glob patterns are expanded.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			if title != "" && len(args) > 1 {
				return ragerr.New(ragerr.CodeCLIInputInvalid, "--title can only be used with a single file")
			}
			return withApp(cmd, false, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()
				if title != "" {
					rec, err := app.Service.IngestFile(ctx, args[0], title)
					if err != nil {
						return err
					}
					printDocument(out, rec)
					return nil
				}
				recs, err := app.Service.IngestDocuments(ctx, args)
				for _, rec := range recs {
					printDocument(out, rec)
				}
				return err
			})
		},
	}
	cmd.Flags().String("title", "", "document title (single file only; defaults to the file name)")
	return cmd
}

func printDocument(w io.Writer, rec domain.DocumentRecord) {
	fmt.Fprintf(w, "ingested %s (%s, %d chunks)\n", rec.Title, rec.FileType, rec.ChunkCount)
	if rec.Summary != "" {
		fmt.Fprintf(w, "  %s\n", rec.Summary)
	}
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return ragerr.New(ragerr.CodeCLIInputInvalid, "question must not be blank")
			}
			return withApp(cmd, true, func(ctx context.Context, app *App) error {
				res := app.Service.Ask(ctx, question)
				printAnswer(cmd.OutOrStdout(), res)
				if res.Error != "" {
					return ragerr.New(ragerr.CodeCLIAskFailure, res.Error)
				}
				return nil
			})
		},
	}
}

func printAnswer(w io.Writer, res domain.AnswerResult) {
	fmt.Fprintln(w, res.Answer)
	if len(res.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range res.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	fmt.Fprintf(w, "\n(%d chunks, %.2fs)\n", res.ChunksRetrieved, res.ResponseTime)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Load the knowledge base and serve the JSON API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listen, _ := cmd.Flags().GetString("listen")
			return withApp(cmd, true, func(ctx context.Context, app *App) error {
				if listen == "" {
					listen = app.Config.Server.Listen
				}
				srv, err := server.New(server.Config{
					ListenAddr:  listen,
					CORSOrigins: app.Config.Server.CORSOrigins,
					MaxUploadMB: app.Config.Server.MaxUploadMB,
					UploadDir:   app.Config.Server.UploadDir,
				}, app.Service)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return srv.Start(ctx)
			})
		},
	}
	cmd.Flags().String("listen", "", "override listen address (host:port)")
	return cmd
}

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui [files...]",
		Short: "Interactive question answering",
		Long:  "Optionally ingest files, then open an interactive terminal UI for asking questions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, app *App) error {
				var ingested []domain.DocumentRecord
				if len(args) > 0 {
					recs, err := app.Service.IngestDocuments(ctx, args)
					if err != nil {
						return err
					}
					ingested = recs
				}
				stats, err := app.Service.Stats(ctx)
				if err != nil {
					return err
				}
				_, err = tea.NewProgram(tui.New(ctx, app.Service, tuiSummary(stats, ingested)), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			})
		},
	}
}

// tuiSummary is the header line of the TUI plus one summary line per document
// ingested in this session.
func tuiSummary(stats service.Stats, ingested []domain.DocumentRecord) string {
	lines := []string{fmt.Sprintf("%d documents, %d passages, %s / %s",
		stats.Documents, stats.VectorStore.TotalVectors, stats.EmbeddingModel, stats.GenerationModel)}
	for _, rec := range ingested {
		if rec.Summary != "" {
			lines = append(lines, rec.Title+": "+oneLine(rec.Summary, 100))
		}
	}
	return strings.Join(lines, "\n")
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, app *App) error {
				stats, err := app.Service.Stats(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "documents\t%d\n", stats.Documents)
				fmt.Fprintf(tw, "queries\t%d\n", stats.Queries)
				fmt.Fprintf(tw, "vectors\t%d\n", stats.VectorStore.TotalVectors)
				fmt.Fprintf(tw, "dimension\t%d\n", stats.VectorStore.Dimension)
				fmt.Fprintf(tw, "embedding model\t%s\n", stats.EmbeddingModel)
				fmt.Fprintf(tw, "llm model\t%s\n", stats.GenerationModel)
				fmt.Fprintf(tw, "top k\t%d\n", stats.TopK)
				return tw.Flush()
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent questions and answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, false, func(ctx context.Context, app *App) error {
				queries, err := app.Service.RecentQueries(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(queries) == 0 {
					fmt.Fprintln(out, "no questions asked yet")
					return nil
				}
				for _, q := range queries {
					fmt.Fprintf(out, "[%s] %s\n  %s\n", q.CreatedAt.Local().Format("2006-01-02 15:04"), q.Question, oneLine(q.Answer, 120))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "number of queries to show")
	return cmd
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
