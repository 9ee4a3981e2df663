// Package tokenizer counts tokens for context budgeting. It uses the
// cl100k_base BPE when available and falls back to a length-based
// approximation so budgeting keeps working without the encoding assets.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const defaultEncoding = "cl100k_base"

// approxCharsPerToken backs the fallback estimate: ~4 characters per token.
const approxCharsPerToken = 4

// Counter counts and truncates text by tokens.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter returns a Counter using the named encoding, or the fallback
// approximation when the encoding cannot be loaded.
func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("tokenizer unavailable, using length approximation")
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return (len(text) + approxCharsPerToken - 1) / approxCharsPerToken
}

// Truncate returns a prefix of text that counts at most maxTokens.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if c.Count(text) <= maxTokens {
		return text
	}
	if c.enc != nil {
		ids := c.enc.Encode(text, nil, nil)
		return c.enc.Decode(ids[:maxTokens])
	}
	limit := maxTokens * approxCharsPerToken
	if limit >= len(text) {
		return text
	}
	// Avoid splitting a UTF-8 sequence.
	for limit > 0 && text[limit]&0xC0 == 0x80 {
		limit--
	}
	return text[:limit]
}
