package agent

import (
	"encoding/json"
	"strings"

	"github.com/wordflowlab/arbiter/pkg/types"
)

// ParseStructuredResponse 解析模型的结构化JSON响应。
// 恰好容忍一层```json围栏包裹; 其他包裹方式, 前导文字或非法JSON
// 一律视为解析失败。这个窄契约是有意的, 不要放宽。
func ParseStructuredResponse(raw string) (*types.AgentExecutionResult, error) {
	payload, ok := unwrapFence(raw)
	if !ok {
		return nil, types.NewProtocolError("Invalid response format from model")
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &generic); err != nil {
		return nil, types.NewProtocolError("Invalid response format from model")
	}

	if _, ok := generic["reasoning"]; !ok {
		return nil, types.NewProtocolError("Missing required fields in agent response")
	}
	if _, ok := generic["status"]; !ok {
		return nil, types.NewProtocolError("Missing required fields in agent response")
	}

	var parsed struct {
		Reasoning string                  `json:"reasoning"`
		ToolCalls []types.ToolCallRequest `json:"tool_calls"`
		NextSteps string                  `json:"next_steps"`
		Status    types.AgentStatus       `json:"status"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, types.NewProtocolError("Invalid response format from model")
	}

	return &types.AgentExecutionResult{
		Reasoning: parsed.Reasoning,
		ToolCalls: parsed.ToolCalls,
		NextSteps: parsed.NextSteps,
		Status:    parsed.Status,
	}, nil
}

// unwrapFence 去掉恰好一层```json围栏。
// 没有围栏时原样返回; 无json标记的围栏或围栏不配对返回失败。
func unwrapFence(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s, true
	}

	body := strings.TrimPrefix(s, "```json")
	if body == s {
		return "", false
	}
	if !strings.HasSuffix(body, "```") {
		return "", false
	}
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body), true
}
