package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/shield"
)

var (
	protectLanguage string
	protectStrategy string
	protectFile     string
	protectJSON     bool
)

var protectCmd = &cobra.Command{
	Use:   "protect [text]",
	Short: "Detect and mask PII in text",
	Long: `Detect PII in the given text (or a file via --file, or stdin when
neither is given) and print the masked result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProtect,
}

func init() {
	protectCmd.Flags().StringVar(&protectLanguage, "language", "", "Detection language (default from config)")
	protectCmd.Flags().StringVar(&protectStrategy, "strategy", "", "Masking strategy: replace, redact, hash, mask")
	protectCmd.Flags().StringVar(&protectFile, "file", "", "Read input text from a file")
	protectCmd.Flags().BoolVar(&protectJSON, "json", false, "Print the full result as JSON")
	rootCmd.AddCommand(protectCmd)
}

// readInput resolves the input text from arg, --file or stdin.
func readInput(args []string, file string) (string, error) {
	if len(args) == 1 && file != "" {
		return "", fmt.Errorf("pass text as an argument or via --file, not both")
	}
	if len(args) == 1 {
		return args[0], nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading input file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func callOptions(language, strategy string) []shield.CallOption {
	var opts []shield.CallOption
	if language != "" {
		opts = append(opts, shield.WithLanguage(language))
	}
	if strategy != "" {
		opts = append(opts, shield.WithStrategy(strategy))
	}
	return opts
}

func runProtect(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "protect")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	text, err := readInput(args, protectFile)
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

	res, err := sh.Protect(ctx, text, callOptions(protectLanguage, protectStrategy)...)
	if err != nil {
		return fmt.Errorf("protecting text: %w", err)
	}

	if cfg.AuditEnabled {
		recordRun(ctx, cfg, "protect", res)
	}

	if protectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.MaskedText)
	return nil
}

// recordRun persists an audit summary; failures only log, the protected
// output still reaches the caller.
func recordRun(ctx context.Context, cfg *config.Config, operation string, res *shield.Result) {
	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: creating data directory: %v\n", err)
		return
	}
	store, err := audit.NewStore(cfg.AuditDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: opening audit store: %v\n", err)
		return
	}
	defer store.Close()
	if err := store.Save(ctx, audit.NewRecord(operation, cfg.Mode, res)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: saving audit record: %v\n", err)
	}
}
