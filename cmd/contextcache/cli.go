package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/contextcache/api"
	"github.com/BaSui01/contextcache/api/handlers"
	"github.com/BaSui01/contextcache/config"
	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
	"github.com/BaSui01/contextcache/llm/tokenizer"
	"github.com/BaSui01/contextcache/types"
)

// =============================================================================
// 🔑 key 命令
// =============================================================================

func newKeyCmd() *cobra.Command {
	var (
		promptID   string
		messageIDs []string
		filePaths  []string
	)

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the cache key for a conversation fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			var prompt *string
			if cmd.Flags().Changed("prompt") {
				prompt = &promptID
			}
			fmt.Fprintln(cmd.OutOrStdout(), cache.BuildKey(prompt, messageIDs, filePaths))
			return nil
		},
	}
	cmd.Flags().StringVar(&promptID, "prompt", "", "prompt id (omit for none)")
	cmd.Flags().StringArrayVar(&messageIDs, "message", nil, "message id, oldest first (repeatable)")
	cmd.Flags().StringArrayVar(&filePaths, "file", nil, "file path in the context (repeatable)")
	return cmd
}

// =============================================================================
// ✂️ truncate 命令
// =============================================================================

// truncateOptions 命令行覆盖项，nil 表示沿用请求体中的值
type truncateOptions struct {
	model        *string
	maxContext   *int
	systemTokens *int
	reserved     *int
	indent       bool
}

func newTruncateCmd() *cobra.Command {
	var (
		configPath   string
		inputPath    string
		model        string
		maxContext   int
		systemTokens int
		reserved     int
		indent       bool
	)

	cmd := &cobra.Command{
		Use:   "truncate",
		Short: "Truncate a conversation read as JSON to fit a token budget",
		Long: `Reads a truncate request ({"messages": [...], ...}) from stdin or --input,
writes the truncated messages and a report as JSON to stdout. Exits non-zero
when the system messages alone exceed the budget.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if inputPath != "" && inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			opts := truncateOptions{indent: indent}
			flags := cmd.Flags()
			if flags.Changed("model") {
				opts.model = &model
			}
			if flags.Changed("max-context") {
				opts.maxContext = &maxContext
			}
			if flags.Changed("system-tokens") {
				opts.systemTokens = &systemTokens
			}
			if flags.Changed("reserved") {
				opts.reserved = &reserved
			}
			return runTruncate(in, cmd.OutOrStdout(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "read the request from this file instead of stdin")
	cmd.Flags().StringVar(&model, "model", "", "model name, selects estimator and default limits")
	cmd.Flags().IntVar(&maxContext, "max-context", 0, "context window in tokens")
	cmd.Flags().IntVar(&systemTokens, "system-tokens", 0, "tokens used by the system prompt")
	cmd.Flags().IntVar(&reserved, "reserved", 0, "tokens reserved for the completion")
	cmd.Flags().BoolVar(&indent, "pretty", false, "indent the JSON output")
	return cmd
}

// runTruncate 读取请求、截断并写出结果
func runTruncate(in io.Reader, out io.Writer, cfg *config.Config, opts truncateOptions) error {
	var req api.TruncateRequest
	decoder := json.NewDecoder(in)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return types.NewError(types.ErrInvalidRequest, "invalid truncate request").WithCause(err)
	}

	if opts.model != nil {
		req.Model = *opts.model
	}
	if opts.maxContext != nil {
		req.MaxContextTokens = *opts.maxContext
	}
	if opts.systemTokens != nil {
		req.SystemPromptTokens = *opts.systemTokens
	}
	if opts.reserved != nil {
		req.ReservedCompletionTokens = opts.reserved
	}
	if req.MaxContextTokens < 0 || req.SystemPromptTokens < 0 ||
		(req.ReservedCompletionTokens != nil && *req.ReservedCompletionTokens < 0) {
		return types.NewError(types.ErrInvalidRequest, "token counts must not be negative")
	}

	model := req.Model
	if model == "" {
		model = cfg.Tokenizer.DefaultModel
	}
	if cfg.Tokenizer.UseTiktoken {
		tokenizer.RegisterOpenAIEstimators()
	}
	maxContext, reserved := handlers.ResolveBudget(model, req.MaxContextTokens, req.ReservedCompletionTokens)

	est := tokenizer.GetEstimatorOrHeuristic(model)
	tr := llmcontext.NewTruncator(est, cfg.ToTruncation(), nil)

	start := time.Now()
	msgs, report := tr.TruncateWithReport(req.Messages, req.SystemPromptTokens, maxContext, reserved)

	enc := json.NewEncoder(out)
	if opts.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(api.TruncateResponse{
		Messages:  msgs,
		Report:    report,
		Estimator: est.Name(),
		Elapsed:   time.Since(start),
	}); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if report.Overflow {
		return types.NewError(types.ErrContextOverflow,
			fmt.Sprintf("system messages exceed the budget: %d tokens kept, %d available",
				report.FinalTokens, report.Available))
	}
	return nil
}
