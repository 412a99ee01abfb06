package context

import (
	"math"

	"github.com/BaSui01/contextcache/llm/tokenizer"
	"github.com/BaSui01/contextcache/types"

	"go.uber.org/zap"
)

// DefaultTruncationMarker is appended to force-truncated message bodies.
const DefaultTruncationMarker = "[... content truncated to fit the context window ...]"

// TruncationConfig 截断配置
type TruncationConfig struct {
	SystemPromptShare float64 `json:"system_prompt_share" yaml:"system_prompt_share"` // 系统提示最多占用的上下文比例
	UserShare         float64 `json:"user_share" yaml:"user_share"`                   // 强制截断时 user 消息的配额
	AssistantShare    float64 `json:"assistant_share" yaml:"assistant_share"`         // 强制截断时 assistant 消息的配额
	PrefixChars       int     `json:"prefix_chars" yaml:"prefix_chars"`               // 强制截断保留的原文前缀字符数
	Marker            string  `json:"marker" yaml:"marker"`                           // 截断标记
}

// DefaultTruncationConfig returns the default shares and marker.
func DefaultTruncationConfig() TruncationConfig {
	return TruncationConfig{
		SystemPromptShare: 0.3,
		UserShare:         0.4,
		AssistantShare:    0.6,
		PrefixChars:       200,
		Marker:            DefaultTruncationMarker,
	}
}

func (c TruncationConfig) normalized() TruncationConfig {
	d := DefaultTruncationConfig()
	if c.SystemPromptShare <= 0 || c.SystemPromptShare > 1 {
		c.SystemPromptShare = d.SystemPromptShare
	}
	if c.UserShare <= 0 || c.AssistantShare <= 0 || c.UserShare+c.AssistantShare > 1 {
		c.UserShare, c.AssistantShare = d.UserShare, d.AssistantShare
	}
	if c.PrefixChars < 0 {
		c.PrefixChars = 0
	}
	return c
}

// TruncationReport describes what Truncate did.
type TruncationReport struct {
	Available        int  `json:"available"`
	OriginalTokens   int  `json:"original_tokens"`
	FinalTokens      int  `json:"final_tokens"`
	OriginalMessages int  `json:"original_messages"`
	FinalMessages    int  `json:"final_messages"`
	DroppedOther     int  `json:"dropped_other"`
	DroppedPairs     int  `json:"dropped_pairs"`
	ForcedTruncation bool `json:"forced_truncation"`
	Degenerate       bool `json:"degenerate"`
	// Overflow is set when the system messages alone exceed the budget.
	Overflow bool `json:"overflow"`
}

// Truncator 按 token 预算截断消息列表
// 无共享状态，可被任意多个请求并发调用。
type Truncator struct {
	estimator tokenizer.Estimator
	cfg       TruncationConfig
	logger    *zap.Logger
}

// NewTruncator creates a Truncator. A nil estimator uses the heuristic one.
func NewTruncator(estimator tokenizer.Estimator, cfg TruncationConfig, logger *zap.Logger) *Truncator {
	if estimator == nil {
		estimator = tokenizer.NewHeuristicEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Truncator{
		estimator: estimator,
		cfg:       cfg.normalized(),
		logger:    logger.With(zap.String("component", "truncator")),
	}
}

// Available returns the token budget left for conversation history.
func (t *Truncator) Available(systemPromptTokens, maxContextTokens, reservedCompletionTokens int) int {
	systemPromptTokens = max(systemPromptTokens, 0)
	capped := min(systemPromptTokens, int(math.Floor(float64(maxContextTokens)*t.cfg.SystemPromptShare)))
	return maxContextTokens - max(capped, 0) - reservedCompletionTokens
}

// Truncate shrinks msgs to fit the budget. See TruncateWithReport.
func (t *Truncator) Truncate(msgs []types.Message, systemPromptTokens, maxContextTokens, reservedCompletionTokens int) []types.Message {
	out, _ := t.TruncateWithReport(msgs, systemPromptTokens, maxContextTokens, reservedCompletionTokens)
	return out
}

// turn 消息在截断过程中的分类
type turn int

const (
	turnSystem turn = iota
	turnOther
	turnPairUser
	turnPairAssistant
	turnPending
)

// plan tracks which messages survive and their current bodies.
type plan struct {
	msgs   []types.Message
	kind   []turn
	kept   []bool
	cost   []int
	pairs  [][2]int
	others []int
	total  int
}

func (p *plan) drop(i int) {
	if p.kept[i] {
		p.kept[i] = false
		p.total -= p.cost[i]
	}
}

func (p *plan) replace(t *Truncator, i int, quota int) {
	text := p.msgs[i].Text()
	compacted := compactText(t.estimator, text, quota, t.cfg.PrefixChars, t.cfg.Marker)
	if compacted == text {
		return
	}
	m := p.msgs[i]
	m.Content = compacted
	m.Blocks = nil
	p.msgs[i] = m

	c := t.estimator.CountTokens(compacted)
	p.total += c - p.cost[i]
	p.cost[i] = c
}

func (p *plan) costOf(kind turn) int {
	sum := 0
	for i, k := range p.kind {
		if k == kind && p.kept[i] {
			sum += p.cost[i]
		}
	}
	return sum
}

// TruncateWithReport shrinks msgs to fit within the available budget:
//
//  1. available <= 0 yields only the last message.
//  2. Input already within budget is returned unchanged.
//  3. Unpaired messages are dropped oldest first.
//  4. User/assistant pairs are dropped oldest first, keeping the last pair.
//  5. The last pair is compacted to its important content within per-role
//     quotas.
//
// System messages are never dropped or edited. A trailing user message
// without a reply is the pending turn; it is never dropped and is compacted
// only as a last resort.
func (t *Truncator) TruncateWithReport(
	msgs []types.Message,
	systemPromptTokens, maxContextTokens, reservedCompletionTokens int,
) ([]types.Message, TruncationReport) {
	available := t.Available(systemPromptTokens, maxContextTokens, reservedCompletionTokens)
	report := TruncationReport{Available: available, OriginalMessages: len(msgs)}

	if available <= 0 {
		report.Degenerate = true
		if len(msgs) == 0 {
			return []types.Message{}, report
		}
		last := msgs[len(msgs)-1]
		report.OriginalTokens = tokenizer.CountMessages(t.estimator, msgs)
		report.FinalTokens = tokenizer.CountMessage(t.estimator, last)
		report.FinalMessages = 1
		t.logger.Warn("no token budget left, keeping only the last message",
			zap.Int("available", available),
			zap.Int("max_context_tokens", maxContextTokens))
		return []types.Message{last}, report
	}

	p := t.classify(msgs)
	report.OriginalTokens = p.total
	if p.total <= available {
		report.FinalTokens = p.total
		report.FinalMessages = len(msgs)
		t.logger.Debug("messages within budget",
			zap.Int("tokens", p.total), zap.Int("available", available))
		return append([]types.Message(nil), msgs...), report
	}

	hasPending := false
	for _, k := range p.kind {
		if k == turnPending {
			hasPending = true
		}
	}

	// 1. 丢弃未配对消息，至少保留一条非系统消息
	for n, i := range p.others {
		if p.total <= available {
			break
		}
		lastOther := n == len(p.others)-1
		if lastOther && len(p.pairs) == 0 && !hasPending {
			break
		}
		p.drop(i)
		report.DroppedOther++
	}

	// 2. 从最旧的开始丢弃成对消息，保留最后一对
	for n := 0; n < len(p.pairs)-1 && p.total > available; n++ {
		p.drop(p.pairs[n][0])
		p.drop(p.pairs[n][1])
		report.DroppedPairs++
	}

	// 3. 强制截断最后一对，再截断待回复消息或剩余的单条消息
	if p.total > available {
		report.ForcedTruncation = true
		systemTokens := p.costOf(turnSystem)

		if len(p.pairs) > 0 {
			last := p.pairs[len(p.pairs)-1]
			remaining := max(available-systemTokens-p.costOf(turnPending)-p.costOf(turnOther), 0)
			p.replace(t, last[0], int(math.Floor(float64(remaining)*t.cfg.UserShare)))
			p.replace(t, last[1], int(math.Floor(float64(remaining)*t.cfg.AssistantShare)))
		}
		for i, k := range p.kind {
			if p.total <= available {
				break
			}
			if !p.kept[i] || (k != turnPending && k != turnOther) {
				continue
			}
			budget := available - (p.total - p.cost[i])
			p.replace(t, i, max(budget, 0))
		}

		if p.total > available {
			report.Overflow = true
			t.logger.Warn("system messages alone exceed the token budget",
				zap.Int("system_tokens", systemTokens),
				zap.Int("available", available))
		}
	}

	out := make([]types.Message, 0, len(msgs))
	for i, m := range p.msgs {
		if p.kept[i] {
			out = append(out, m)
		}
	}
	report.FinalTokens = p.total
	report.FinalMessages = len(out)

	t.logger.Info("messages truncated",
		zap.Int("original_tokens", report.OriginalTokens),
		zap.Int("final_tokens", report.FinalTokens),
		zap.Int("available", available),
		zap.Int("dropped_other", report.DroppedOther),
		zap.Int("dropped_pairs", report.DroppedPairs),
		zap.Bool("forced", report.ForcedTruncation))
	return out, report
}

// classify partitions msgs into system messages, user/assistant pairs, the
// pending turn and other unpaired messages.
func (t *Truncator) classify(msgs []types.Message) *plan {
	n := len(msgs)
	p := &plan{
		msgs: append([]types.Message(nil), msgs...),
		kind: make([]turn, n),
		kept: make([]bool, n),
		cost: make([]int, n),
	}

	lastNonSystem := -1
	for i := n - 1; i >= 0; i-- {
		if msgs[i].Role != types.RoleSystem {
			lastNonSystem = i
			break
		}
	}

	for i := 0; i < n; i++ {
		p.kept[i] = true
		p.cost[i] = tokenizer.CountMessage(t.estimator, msgs[i])
		p.total += p.cost[i]

		switch {
		case msgs[i].Role == types.RoleSystem:
			p.kind[i] = turnSystem
		case msgs[i].Role == types.RoleUser && i+1 < n && msgs[i+1].Role == types.RoleAssistant:
			p.kind[i], p.kind[i+1] = turnPairUser, turnPairAssistant
			p.pairs = append(p.pairs, [2]int{i, i + 1})
			p.kept[i+1] = true
			p.cost[i+1] = tokenizer.CountMessage(t.estimator, msgs[i+1])
			p.total += p.cost[i+1]
			i++
		case msgs[i].Role == types.RoleUser && i == lastNonSystem:
			p.kind[i] = turnPending
		default:
			p.kind[i] = turnOther
			p.others = append(p.others, i)
		}
	}
	return p
}
