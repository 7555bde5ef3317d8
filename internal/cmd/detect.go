package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/entity"
	"github.com/dativo-io/aegis/internal/shield"
)

var (
	detectLanguage string
	detectFile     string
	detectJSON     bool
)

var detectCmd = &cobra.Command{
	Use:   "detect [text]",
	Short: "Detect PII in text without masking",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectLanguage, "language", "", "Detection language (default from config)")
	detectCmd.Flags().StringVar(&detectFile, "file", "", "Read input text from a file")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print spans as JSON")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "detect")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	text, err := readInput(args, detectFile)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("no input text")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sh, err := buildShield(cfg)
	if err != nil {
		return err
	}

	spans, failures, err := sh.Detect(ctx, text, callOptions(detectLanguage, "")...)
	if err != nil {
		return fmt.Errorf("detecting: %w", err)
	}

	if detectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"spans":            spans,
			"adapter_failures": failures,
		})
	}
	renderSpans(os.Stdout, text, spans, failures)
	return nil
}

// renderSpans writes detection lines to w (testable).
func renderSpans(w io.Writer, text string, spans []entity.Span, failures []shield.AdapterFailure) {
	if len(spans) == 0 {
		fmt.Fprintln(w, "No PII detected.")
	} else {
		fmt.Fprintf(w, "Detected %d span(s):\n\n", len(spans))
		runes := []rune(text)
		for _, s := range spans {
			fmt.Fprintf(w, "  [%d,%d) %s (%.2f, %s): %s\n",
				s.Start, s.End, s.EntityType, s.Score, s.Source,
				string(runes[s.Start:s.End]))
		}
	}
	for _, f := range failures {
		fmt.Fprintf(w, "\nwarning: adapter %s failed: %s\n", f.Adapter, f.Error)
	}
}
