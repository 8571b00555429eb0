package endpoints

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/aiperf/aiperf/pkg/records"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// doneSentinel terminates OpenAI-style SSE streams.
const doneSentinel = "[DONE]"

type usageWire struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

func (u *usageWire) toUsage() *records.Usage {
	if u == nil {
		return nil
	}
	return &records.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		ReasoningTokens:  u.CompletionTokensDetails.ReasoningTokens,
	}
}
