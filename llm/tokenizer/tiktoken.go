package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenEstimator counts tokens with the tiktoken encoding of OpenAI-family
// models. When the encoding cannot be loaded (offline sandbox, unknown
// encoding) it degrades to the heuristic estimator; Err reports why.
type TiktokenEstimator struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	fallback *HeuristicEstimator
	once     sync.Once
	initErr  error
}

// ModelLimits describes the context window of a model.
type ModelLimits struct {
	Encoding            string
	MaxContextTokens    int
	MaxCompletionTokens int
}

// 模型编码将模型名称映射到其 tiktoken 编码和上下文大小。
var modelLimits = map[string]ModelLimits{
	"gpt-4o":        {Encoding: "o200k_base", MaxContextTokens: 128000, MaxCompletionTokens: 16384},
	"gpt-4o-mini":   {Encoding: "o200k_base", MaxContextTokens: 128000, MaxCompletionTokens: 16384},
	"gpt-4.1":       {Encoding: "o200k_base", MaxContextTokens: 1047576, MaxCompletionTokens: 32768},
	"gpt-4-turbo":   {Encoding: "cl100k_base", MaxContextTokens: 128000, MaxCompletionTokens: 4096},
	"gpt-4":         {Encoding: "cl100k_base", MaxContextTokens: 8192, MaxCompletionTokens: 4096},
	"gpt-3.5-turbo": {Encoding: "cl100k_base", MaxContextTokens: 16385, MaxCompletionTokens: 4096},
	"claude":        {Encoding: "cl100k_base", MaxContextTokens: 200000, MaxCompletionTokens: 8192},
	"gemini":        {Encoding: "cl100k_base", MaxContextTokens: 1000000, MaxCompletionTokens: 8192},
	"deepseek":      {Encoding: "cl100k_base", MaxContextTokens: 64000, MaxCompletionTokens: 8192},
}

var defaultLimits = ModelLimits{Encoding: "cl100k_base", MaxContextTokens: 8192, MaxCompletionTokens: 2048}

// LimitsForModel returns the known limits for model, matching the longest
// registered prefix. Unknown models get conservative defaults and ok=false.
func LimitsForModel(model string) (ModelLimits, bool) {
	if l, ok := modelLimits[model]; ok {
		return l, true
	}
	var (
		best    ModelLimits
		bestLen int
	)
	for prefix, l := range modelLimits {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = l, len(prefix)
		}
	}
	if bestLen > 0 {
		return best, true
	}
	return defaultLimits, false
}

// NewTiktokenEstimator creates a tiktoken-backed estimator for model.
func NewTiktokenEstimator(model string) *TiktokenEstimator {
	limits, _ := LimitsForModel(model)
	return &TiktokenEstimator{
		model:    model,
		encoding: limits.Encoding,
		fallback: NewHeuristicEstimator(),
	}
}

// init lazily 初始化 tiktoken 编码（可能在第一次使用时下载数据）.
func (t *TiktokenEstimator) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
}

func (t *TiktokenEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	t.init()
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenEstimator) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// Encoding returns the tiktoken encoding name used for the model.
func (t *TiktokenEstimator) Encoding() string {
	return t.encoding
}

// Err returns the encoding initialization error, if any. It forces
// initialization.
func (t *TiktokenEstimator) Err() error {
	t.init()
	return t.initErr
}

// RegisterOpenAIEstimators 登记所有已知模型的 tiktoken 估算器。
func RegisterOpenAIEstimators() {
	for model := range modelLimits {
		RegisterEstimator(model, NewTiktokenEstimator(model))
	}
}
