//go:build !gui

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jamborta/readaloud/internal/chapter"
	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/config"
	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/narrate"
	"github.com/jamborta/readaloud/internal/position"
	"github.com/jamborta/readaloud/internal/reader"
	"github.com/jamborta/readaloud/internal/render"
	"github.com/jamborta/readaloud/internal/state"
)

// Colour scheme for command output
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgBlue)
	warnColor    = color.New(color.FgYellow)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		fresh   bool
	)

	rootCmd := &cobra.Command{
		Use:   "readaloud [file]",
		Short: "Narrate books page by page with synthesized speech",
		Long: `readaloud reads EPUB, Markdown and plain text books aloud, one page at a
time, highlighting the passage being read. Reading positions are kept
locally and, when configured, synchronised with a remote store.

Supported formats: ` + strings.Join(reader.SupportedFormats(), ", ") + `, plain text.`,
		Example: `  readaloud book.epub            Narrate a book in the terminal
  readaloud --fresh book.epub    Start from the beginning
  cat notes.txt | readaloud      Narrate text from stdin`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logPath := cfg.Log.File
			if logPath == "" {
				logPath = filepath.Join(state.Dir(), "readaloud.log")
			}
			log, f, err := logging.ToFile(cfg.Log.Level, logPath)
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer f.Close()

			return narrateBook(cmd.Context(), cfg, log, fileArg(args), fresh)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: readaloud.yaml in the config directory)")
	rootCmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore saved reading position")

	rootCmd.AddCommand(
		newGenerateCmd(&cfgPath),
		newPositionCmd(&cfgPath),
		newVoicesCmd(&cfgPath),
		newUsageCmd(&cfgPath),
		newConfigCmd(&cfgPath),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "readaloud %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)
	return rootCmd
}

func fileArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// cliBackend loads config and opens the backend for a one-shot command
// that logs to stderr.
func cliBackend(cfgPath string) (*backend, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		return nil, err
	}
	return openBackend(cfg, log)
}

func narrateBook(ctx context.Context, cfg *config.Config, log *logrus.Logger, path string, fresh bool) error {
	b, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.serveMetrics(ctx); err != nil {
		return err
	}
	sink := &teaSink{}
	s, err := openSession(ctx, b, path, sink)
	if err != nil {
		return err
	}
	return runTUI(ctx, s, sink, fresh)
}

func newGenerateCmd(cfgPath *string) *cobra.Command {
	var chapterIndex int
	cmd := &cobra.Command{
		Use:   "generate <file>",
		Short: "Pre-generate narration audio for a chapter",
		Long: `Splits a chapter into chunks and asks the backend to synthesize and store
audio for each one. Chunks that already have audio are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cliBackend(*cfgPath)
			if err != nil {
				return err
			}
			defer b.Close()

			doc, bookID, err := loadDocument(args[0])
			if err != nil {
				return err
			}
			engine, err := render.NewPaginator(doc, b.cfg.View.PageChars)
			if err != nil {
				return err
			}
			if chapterIndex < 0 || chapterIndex >= engine.ChapterCount() {
				return fmt.Errorf("chapter %d out of range, the book has %d chapters", chapterIndex, engine.ChapterCount())
			}

			titleColor.Fprintf(cmd.OutOrStdout(), "Generating audio for %q, chapter %d\n", doc.Title, chapterIndex)
			bar := progress.New(progress.WithDefaultGradient())
			gen := b.generator(chapter.NewIndex(engine, chunk.Default))
			err = gen.Generate(cmd.Context(), bookID, chapterIndex, b.params(), func(p narrate.Progress) {
				fmt.Fprintf(cmd.OutOrStdout(), "\r%s %d/%d", bar.ViewAs(p.Fraction()), p.Done, p.Total)
			})
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "Done.")
			return nil
		},
	}
	cmd.Flags().IntVar(&chapterIndex, "chapter", 0, "Chapter index (0-based)")
	return cmd
}

func newPositionCmd(cfgPath *string) *cobra.Command {
	var syncStores, forget bool
	cmd := &cobra.Command{
		Use:   "position <file>",
		Short: "Show the saved reading position of a book",
		Long: `Shows the local and remote reading positions of a book and which one wins.
With --sync the losing store is brought up to date.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cliBackend(*cfgPath)
			if err != nil {
				return err
			}
			defer b.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			bookID, err := state.ComputeHash(args[0])
			if err != nil {
				return err
			}
			if forget {
				if err := b.store.Clear(bookID); err != nil {
					return err
				}
				successColor.Fprintln(out, "Local position cleared.")
				return nil
			}

			local, err := position.NewLocal(b.store).GetPosition(ctx, bookID)
			if err != nil {
				return err
			}
			var remote *state.Position
			rs, err := b.remote(ctx)
			if err != nil {
				warnColor.Fprintf(out, "Remote store unavailable: %v\n", err)
			} else if rs != nil {
				if remote, err = rs.GetPosition(ctx, bookID); err != nil {
					warnColor.Fprintf(out, "Remote position unavailable: %v\n", err)
				}
			}

			titleColor.Fprintf(out, "Book %s\n", bookID)
			fmt.Fprintf(out, "  local:  %s\n", describePosition(local))
			if rs != nil {
				fmt.Fprintf(out, "  remote: %s\n", describePosition(remote))
			}
			d := position.Reconcile(local, remote)
			infoColor.Fprintf(out, "  resume: %s\n", describePosition(d.Winner))

			if syncStores && (d.WriteLocal || d.WriteRemote) {
				if _, err := position.NewReconciler(position.NewLocal(b.store), rs, b.log, b.metrics).Resolve(ctx, bookID); err != nil {
					return err
				}
				successColor.Fprintln(out, "Positions synchronised.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&syncStores, "sync", false, "Write the winning position to the other store")
	cmd.Flags().BoolVar(&forget, "clear", false, "Forget the local position")
	return cmd
}

func describePosition(p *state.Position) string {
	if p == nil {
		return "none"
	}
	at := p.LastModifiedAt.Local().Format(time.DateTime)
	if p.Kind == state.KindPDF {
		return fmt.Sprintf("paragraph %d of %d (saved %s)", p.ParagraphIndex+1, p.TotalParagraphs, at)
	}
	return fmt.Sprintf("chapter %d, chunk %d (saved %s)", p.ChapterIndex, p.ChapterChunkIndex, at)
}

func newVoicesCmd(cfgPath *string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List available voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cliBackend(*cfgPath)
			if err != nil {
				return err
			}
			defer b.Close()

			voices, err := b.voices(cmd.Context())
			if err != nil {
				return err
			}
			current := b.params().VoiceID
			for _, v := range voices {
				if lang != "" && !strings.HasPrefix(v.Language, lang) {
					continue
				}
				line := fmt.Sprintf("%-28s %-8s %-8s %s", v.ID, v.Language, strings.ToLower(v.Gender), v.Name)
				if v.ID == current {
					successColor.Fprintln(cmd.OutOrStdout(), line+"  (current)")
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Only show voices for this language, e.g. en-GB")
	return cmd
}

func newUsageCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show synthesized characters this month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cliBackend(*cfgPath)
			if err != nil {
				return err
			}
			defer b.Close()

			u := b.store.Usage()
			out := cmd.OutOrStdout()
			titleColor.Fprintf(out, "Usage since %s\n", u.MonthStart.Format(time.DateOnly))
			fmt.Fprintf(out, "  characters: %d\n", u.CharactersUsed)
			if !u.LastUpdated.IsZero() {
				fmt.Fprintf(out, "  updated:    %s\n", u.LastUpdated.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newConfigCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			if cfg.File != "" {
				infoColor.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.File)
			} else {
				infoColor.Fprintf(cmd.OutOrStdout(), "# defaults, no config file found in %s\n", config.Dir())
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
