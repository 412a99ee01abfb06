// =============================================================================
// 📦 测试数据工厂 - 对话与上下文文件
// =============================================================================
// 提供预定义的对话、代码消息和文件集合，用于缓存与截断测试
// =============================================================================
package fixtures

import (
	"fmt"
	"strings"

	"github.com/BaSui01/contextcache/types"
)

// =============================================================================
// 💬 对话工厂
// =============================================================================

// Turns 返回 n 轮 user/assistant 对话，每条消息正文约 size 个字符
func Turns(n, size int) []types.Message {
	msgs := make([]types.Message, 0, n*2)
	for i := range n {
		msgs = append(msgs,
			types.NewUserMessage(filler(fmt.Sprintf("question %d ", i), size)).WithID(fmt.Sprintf("u%d", i)),
			types.NewAssistantMessage(filler(fmt.Sprintf("answer %d ", i), size)).WithID(fmt.Sprintf("a%d", i)),
		)
	}
	return msgs
}

// WithSystem 在对话前加上一条系统消息
func WithSystem(system string, msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs)+1)
	out = append(out, types.NewSystemMessage(system).WithID("sys"))
	return append(out, msgs...)
}

// CodeAnswer 返回一条包含代码块和声明行的长助手消息
func CodeAnswer(padding int) types.Message {
	var b strings.Builder
	b.WriteString("Here is the refactored module.\n")
	b.WriteString(filler("Some background explanation. ", padding))
	b.WriteString("\nexport function add(a, b) { return a + b }\n")
	b.WriteString("```go\nfunc Sum(xs []int) int { return 0 }\n```\n")
	b.WriteString(filler("More prose that can be discarded. ", padding))
	return types.NewAssistantMessage(b.String()).WithID("code-answer")
}

// =============================================================================
// 📁 文件集合工厂
// =============================================================================

// SmallFiles 返回一个很小的文件集合
func SmallFiles() map[string]string {
	return map[string]string{
		"src/a.ts": "export const a = 1\n",
		"src/b.ts": "export const b = 2\n",
	}
}

// LargeFiles 返回 count 个文件，每个文件约 size 字节
func LargeFiles(count, size int) map[string]string {
	files := make(map[string]string, count)
	for i := range count {
		files[fmt.Sprintf("src/file_%03d.go", i)] = filler(fmt.Sprintf("// file %d\n", i), size)
	}
	return files
}

func filler(seed string, size int) string {
	if size <= len(seed) {
		return seed[:max(size, 0)]
	}
	return strings.Repeat(seed, size/len(seed)+1)[:size]
}
