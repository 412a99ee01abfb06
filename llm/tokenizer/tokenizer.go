package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/contextcache/types"
)

// Estimator maps text to an approximate token count. Implementations must be
// safe for concurrent use and must never return a negative count.
type Estimator interface {
	// CountTokens 返回给定文本的估算 token 数，空文本为 0.
	CountTokens(text string) int

	// Name 返回估算器名称.
	Name() string
}

// CountMessage returns the estimated token cost of a single message body.
func CountMessage(e Estimator, msg types.Message) int {
	return e.CountTokens(msg.Text())
}

// CountMessages returns the estimated token cost of msgs.
func CountMessages(e Estimator, msgs []types.Message) int {
	total := 0
	for _, msg := range msgs {
		total += CountMessage(e, msg)
	}
	return total
}

// 全局估算器注册表.
var (
	modelEstimators   = make(map[string]Estimator)
	modelEstimatorsMu sync.RWMutex
)

// RegisterEstimator 为给定的模型名称注册估算器.
func RegisterEstimator(model string, e Estimator) {
	modelEstimatorsMu.Lock()
	defer modelEstimatorsMu.Unlock()
	modelEstimators[model] = e
}

// GetEstimator 返回为给定模型注册的估算器.
// 它也尝试前缀匹配（如 "gpt-4o" 匹配 "gpt-4o-2024-08-06"），最长前缀优先.
func GetEstimator(model string) (Estimator, error) {
	modelEstimatorsMu.RLock()
	defer modelEstimatorsMu.RUnlock()

	if e, ok := modelEstimators[model]; ok {
		return e, nil
	}

	var (
		best    Estimator
		bestLen int
	)
	for prefix, e := range modelEstimators {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = e, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}

	return nil, fmt.Errorf("no estimator registered for model: %s", model)
}

// GetEstimatorOrHeuristic 返回该模型的注册估算器,
// 如果没有登记,则回到启发式估算器。
func GetEstimatorOrHeuristic(model string) Estimator {
	e, err := GetEstimator(model)
	if err != nil {
		return NewHeuristicEstimator()
	}
	return e
}
