// Package tokens estimates prompt sizes so text-generation requests can be
// kept inside a token budget.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens using a tiktoken encoding. Claude models do not share
// a public tokenizer, so cl100k_base is used as a close approximation.
type Counter struct {
	encoding tokenizer.Encoding

	once  sync.Once
	codec tokenizer.Codec
	err   error

	fallback *Estimator
}

// NewCounter creates a Counter for the given encoding. An empty encoding
// means cl100k_base.
func NewCounter(encoding tokenizer.Encoding) *Counter {
	if encoding == "" {
		encoding = tokenizer.Cl100kBase
	}
	return &Counter{
		encoding: encoding,
		fallback: NewEstimator(),
	}
}

func (c *Counter) getCodec() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(c.encoding)
		if c.err != nil {
			c.err = fmt.Errorf("failed to get tokenizer encoding: %w", c.err)
		}
	})
	return c.codec, c.err
}

// Count returns the number of tokens in text and whether the count is an
// estimate.
func (c *Counter) Count(text string) (int, bool) {
	codec, err := c.getCodec()
	if err != nil {
		return c.fallback.Count(text), true
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return c.fallback.Count(text), true
	}
	return len(ids), false
}

// Truncate returns text cut down to at most max tokens. Text already within
// budget is returned unchanged.
func (c *Counter) Truncate(text string, max int) (string, bool) {
	if max <= 0 {
		return text, false
	}

	codec, err := c.getCodec()
	if err != nil {
		return c.fallback.Truncate(text, max)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return c.fallback.Truncate(text, max)
	}
	if len(ids) <= max {
		return text, false
	}

	out, err := codec.Decode(ids[:max])
	if err != nil {
		return c.fallback.Truncate(text, max)
	}
	return out, true
}

// Estimator provides token count estimation based on character counts.
// This is a fallback when no tokenizer is available.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// Count estimates the token count of text.
func (e *Estimator) Count(text string) int {
	return int(float64(len(text))/e.CharsPerToken + 0.5)
}

// Truncate cuts text to roughly max tokens on a rune boundary.
func (e *Estimator) Truncate(text string, max int) (string, bool) {
	limit := int(float64(max) * e.CharsPerToken)
	if len(text) <= limit {
		return text, false
	}
	for i := range text {
		if i >= limit {
			return text[:i], true
		}
	}
	return text, false
}
