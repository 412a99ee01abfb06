package context_test

import (
	"fmt"

	"github.com/BaSui01/contextcache/llm/context"
	"github.com/BaSui01/contextcache/testutil/fixtures"
	"github.com/BaSui01/contextcache/testutil/mocks"
	"github.com/BaSui01/contextcache/types"
)

// 示例：按预算丢弃最旧的对话轮次
func ExampleTruncator() {
	tr := context.NewTruncator(mocks.NewMockEstimator(), context.DefaultTruncationConfig(), nil)

	// 三轮对话，每条消息 50 token，可用预算 120
	out, report := tr.TruncateWithReport(fixtures.Turns(3, 50), 0, 120, 0)

	fmt.Println(types.IDs(out))
	fmt.Println(report.DroppedPairs, report.FinalTokens)
	// Output:
	// [u2 a2]
	// 2 100
}

// 示例：计算可用预算
func ExampleTruncator_Available() {
	tr := context.NewTruncator(nil, context.DefaultTruncationConfig(), nil)

	// 系统提示 5000 token 被限制在 8192 的 30% 以内
	fmt.Println(tr.Available(5000, 8192, 1024))
	// Output:
	// 4711
}
