package call

import (
	"fmt"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/tool"
)

// ToolResultMessage answers calls with outputs, pairwise. An output that is
// an error becomes an error result.
func ToolResultMessage(calls []*tool.Call, outputs []any) (llm.Message, error) {
	if len(calls) != len(outputs) {
		return llm.Message{}, fmt.Errorf("%d tool calls but %d outputs", len(calls), len(outputs))
	}
	results := make([]llm.ToolResultBlock, len(calls))
	for i, c := range calls {
		if err, ok := outputs[i].(error); ok {
			results[i] = c.Result(nil, err)
			continue
		}
		results[i] = c.Result(outputs[i], nil)
	}
	return llm.NewToolResultMessage(results), nil
}
