package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/config"
)

var (
	auditOperation string
	auditLimit     int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the local audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List run records",
	RunE:  auditList,
}

var auditTotalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Show detected entity counts per type",
	RunE:  auditTotals,
}

func init() {
	auditListCmd.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation (protect, detect)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditTotalsCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*audit.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return audit.NewStore(cfg.AuditDBPath())
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, auditOperation, time.Time{}, time.Time{}, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit records: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No audit records found.")
		return nil
	}
	renderAuditList(os.Stdout, records)
	return nil
}

func auditTotals(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	totals, err := store.EntityTotals(ctx, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("querying totals: %w", err)
	}
	renderAuditTotals(os.Stdout, totals)
	return nil
}

// renderAuditList writes run record lines to w (testable).
func renderAuditList(w io.Writer, records []audit.Record) {
	fmt.Fprintf(w, "Audit Records (showing %d):\n\n", len(records))
	for i := range records {
		rec := &records[i]
		failMark := ""
		if len(rec.AdapterFailures) > 0 {
			failMark = fmt.Sprintf(" [%d adapter failure(s)]", len(rec.AdapterFailures))
		}
		fmt.Fprintf(w, "  %s | %s | %s/%s/%s | %d span(s) | %dms%s\n",
			rec.ID,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Operation,
			rec.Mode,
			rec.Strategy,
			rec.SpanCount,
			rec.DurationMS,
			failMark,
		)
	}
}

// renderAuditTotals writes entity totals to w (testable).
func renderAuditTotals(w io.Writer, totals map[string]int) {
	if len(totals) == 0 {
		fmt.Fprintln(w, "No entities recorded.")
		return
	}
	types := make([]string, 0, len(totals))
	for et := range totals {
		types = append(types, et)
	}
	sort.Strings(types)

	fmt.Fprintln(w, "Entity totals:")
	for _, et := range types {
		fmt.Fprintf(w, "  %-20s %d\n", et, totals[et])
	}
}
