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
	"github.com/dativo-io/aegis/internal/eval"
)

var (
	evaluateLanguage string
	evaluateIoU      float64
	evaluateJSON     bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <dataset.json>",
	Short: "Score detection quality against a labeled dataset",
	Long: `Run the configured detectors over a labeled dataset and report
precision, recall and F1 per entity type plus a micro-averaged overall.

The dataset is JSON: {"samples": [{"text": ..., "language": ...,
"labels": [{"start": ..., "end": ..., "entity_type": ...}]}]}.
Offsets count Unicode code points.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateLanguage, "language", "", "Evaluate only samples in this language")
	evaluateCmd.Flags().Float64Var(&evaluateIoU, "iou", eval.DefaultIoUThreshold, "Span overlap (IoU) threshold for a true positive")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "evaluate")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading dataset: %w", err)
	}
	ds, err := eval.FromJSON(data)
	if err != nil {
		return err
	}
	if evaluateLanguage != "" {
		ds = ds.FilterByLanguage(evaluateLanguage)
	}
	if len(ds.Samples) == 0 {
		return fmt.Errorf("dataset has no samples")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sh, err := buildShield(cfg)
	if err != nil {
		return err
	}

	detect := func(ctx context.Context, text, language string) ([]entity.Span, error) {
		spans, _, err := sh.Detect(ctx, text, callOptions(language, "")...)
		return spans, err
	}
	evaluator, err := eval.NewEvaluator(detect, eval.WithIoUThreshold(evaluateIoU))
	if err != nil {
		return err
	}

	report, err := evaluator.Evaluate(ctx, ds)
	if err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}

	if evaluateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderReport(os.Stdout, report)
	return nil
}

// renderReport writes the evaluation table to w (testable).
func renderReport(w io.Writer, report *eval.Report) {
	fmt.Fprintf(w, "Evaluated %d sample(s):\n\n", report.Samples)
	fmt.Fprintf(w, "  %-20s %5s %5s %5s %9s %7s %7s\n", "ENTITY", "TP", "FP", "FN", "PRECISION", "RECALL", "F1")
	for _, et := range report.EntityTypes() {
		m := report.PerType[et]
		fmt.Fprintf(w, "  %-20s %5d %5d %5d %9.3f %7.3f %7.3f\n",
			et, m.TP, m.FP, m.FN, m.Precision, m.Recall, m.F1)
	}
	o := report.Overall
	fmt.Fprintf(w, "\n  %-20s %5d %5d %5d %9.3f %7.3f %7.3f\n",
		"OVERALL", o.TP, o.FP, o.FN, o.Precision, o.Recall, o.F1)
}
