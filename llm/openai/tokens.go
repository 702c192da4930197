package openai

import (
	"github.com/pkoukk/tiktoken-go"
)

// estimateTokens counts the tokens of text with the model's tokenizer,
// falling back to cl100k_base for models tiktoken does not know.
// It returns 0 when no encoding can be loaded.
func estimateTokens(model, text string) int64 {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0
		}
	}
	return int64(len(enc.Encode(text, nil, nil)))
}
