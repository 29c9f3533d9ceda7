package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vw-ai/lifetrace/internal/app"
	"github.com/vw-ai/lifetrace/internal/cleaner"
	"github.com/vw-ai/lifetrace/internal/index"
	"github.com/vw-ai/lifetrace/internal/ingest/notion"
	"github.com/vw-ai/lifetrace/internal/processor"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Pull raw activity from external sources",
}

var ingestCalendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Ingest calendar events in a date window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Calendar == nil {
			return fmt.Errorf("calendar_credentials_path is not configured")
		}

		start, err := flagDate(cmd, "start")
		if err != nil {
			return err
		}
		end, err := flagDate(cmd, "end")
		if err != nil {
			return err
		}
		if start == "" || end == "" {
			end = time.Now().UTC().Format("2006-01-02")
			start = time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
		}
		calendars, _ := cmd.Flags().GetStringSlice("calendar")

		res, err := a.Calendar.Ingest(cmd.Context(), start, end, calendars, time.Time{})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var ingestNotionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Traverse the note workspace into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Notes == nil {
			return fmt.Errorf("notes_api_key is not configured")
		}

		pages, _ := cmd.Flags().GetStringSlice("page")
		maxPages, _ := cmd.Flags().GetInt("max-pages")

		res, err := a.Notes.Ingest(cmd.Context(), pages, maxPages, func(p notion.Progress) {
			fmt.Fprintf(os.Stderr, "batch %d: %d pages, %d blocks (%s)\n",
				p.BatchIndex, p.PagesProcessed, p.BlocksProcessed, p.CurrentPage)
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Fill abstracts and embeddings for leaf blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		scope := index.ScopeAll
		if recent, _ := cmd.Flags().GetBool("recent"); recent {
			scope = index.ScopeRecent
		}
		hours, _ := cmd.Flags().GetInt("hours")

		res, err := a.Indexer.Index(cmd.Context(), scope, hours)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Tag raw activities and persist processed activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		start, err := flagDate(cmd, "start")
		if err != nil {
			return err
		}
		end, err := flagDate(cmd, "end")
		if err != nil {
			return err
		}
		regen, _ := cmd.Flags().GetBool("regenerate-tags")

		report, err := a.Processor.Process(cmd.Context(), processor.Options{
			DateStart:            start,
			DateEnd:              end,
			RegenerateSystemTags: regen,
		})
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove meaningless tags and merge redundant ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		start, err := flagDate(cmd, "start")
		if err != nil {
			return err
		}
		end, err := flagDate(cmd, "end")
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		removal, _ := cmd.Flags().GetFloat64("removal-threshold")
		merge, _ := cmd.Flags().GetFloat64("merge-threshold")

		summary, err := a.Cleaner.Clean(cmd.Context(), cleaner.Request{
			DryRun:           dryRun,
			RemovalThreshold: removal,
			MergeThreshold:   merge,
			DateStart:        start,
			DateEnd:          end,
		})
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Rebuild the personalized taxonomy and synonyms from the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		start, err := flagDate(cmd, "start")
		if err != nil {
			return err
		}
		end, err := flagDate(cmd, "end")
		if err != nil {
			return err
		}

		res, err := a.Builder.Build(cmd.Context(), start, end)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Retrieve note context for a query text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		hours, _ := cmd.Flags().GetInt("hours")
		k, _ := cmd.Flags().GetInt("k")
		date, _ := cmd.Flags().GetString("date")

		if date != "" {
			window, _ := cmd.Flags().GetInt("days-window")
			results, err := a.Retriever.RetrieveByDate(cmd.Context(), args[0], date, window, k)
			if err != nil {
				return err
			}
			return printJSON(results)
		}
		results, err := a.Retriever.Retrieve(cmd.Context(), args[0], hours, k)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and report the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context()) // opening the store runs migrations
		if err != nil {
			return err
		}
		defer a.Close()

		version, err := a.Store.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"schema_version": version})
	},
}

func flagDate(cmd *cobra.Command, name string) (string, error) {
	raw, _ := cmd.Flags().GetString(name)
	return parseDate(raw)
}

func init() {
	ingestCmd.AddCommand(ingestCalendarCmd)
	ingestCmd.AddCommand(ingestNotionCmd)

	ingestCalendarCmd.Flags().String("start", "", "start date (YYYY-MM-DD or natural language)")
	ingestCalendarCmd.Flags().String("end", "", "end date")
	ingestCalendarCmd.Flags().StringSlice("calendar", nil, "calendar ids (default: primary)")

	ingestNotionCmd.Flags().StringSlice("page", nil, "seed page ids (default: search workspace)")
	ingestNotionCmd.Flags().Int("max-pages", 0, "limit discovered pages (0 = no limit)")

	indexCmd.Flags().Bool("recent", false, "index only recently edited leaves")
	indexCmd.Flags().Int("hours", index.DefaultRecentHours, "recent window in hours")

	processCmd.Flags().String("start", "", "start date")
	processCmd.Flags().String("end", "", "end date")
	processCmd.Flags().Bool("regenerate-tags", false, "rebuild taxonomy first when the tag ratio is high")

	cleanupCmd.Flags().Bool("dry-run", true, "analyze without mutating")
	cleanupCmd.Flags().Float64("removal-threshold", cleaner.DefaultRemovalThreshold, "minimum confidence to remove")
	cleanupCmd.Flags().Float64("merge-threshold", cleaner.DefaultMergeThreshold, "minimum confidence to merge")
	cleanupCmd.Flags().String("start", "", "scope start date")
	cleanupCmd.Flags().String("end", "", "scope end date")

	taxonomyCmd.Flags().String("start", "", "corpus window start")
	taxonomyCmd.Flags().String("end", "", "corpus window end")

	contextCmd.Flags().Int("hours", 24, "recent window in hours")
	contextCmd.Flags().Int("k", 5, "result count")
	contextCmd.Flags().String("date", "", "center the window on a date instead")
	contextCmd.Flags().Int("days-window", 1, "days on each side of --date")
}
