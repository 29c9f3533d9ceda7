package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/vw-ai/lifetrace/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "lifetrace",
	Short: "Unified, tagged activity history from your calendar and notes",
	Long: `lifetrace ingests calendar events and note blocks into a local
database, indexes note content for retrieval, and assigns a curated tag set
per activity from a taxonomy learned from your own corpus.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if db, _ := cmd.Flags().GetString("db"); db != "" {
			config.Set("db_path", db)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(taxonomyCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(migrateCmd)
}

var dateParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// parseDate accepts YYYY-MM-DD or natural language ("yesterday", "last
// monday"). Empty stays empty (open range).
func parseDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02"), nil
	}
	if r, err := dateParser.Parse(s, time.Now()); err == nil && r != nil {
		return r.Time.Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("could not parse date %q (use YYYY-MM-DD or natural language)", s)
}
