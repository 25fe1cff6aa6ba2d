// Package tokenizer counts model tokens for history budgeting.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the encoding the history budget is calibrated against.
const DefaultEncoding = "o200k_base"

// Counter returns the number of tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// TiktokenCounter counts tokens with a fixed BPE encoding. It is safe for
// concurrent use.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

var loaderOnce sync.Once

// New returns a counter for the named encoding. BPE ranks are loaded from the
// embedded offline loader, so no network access is needed.
func New(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: encoding, enc: enc}, nil
}

// Encoding returns the encoding name.
func (c *TiktokenCounter) Encoding() string {
	return c.encoding
}

// Count encodes text without special-token handling; special token text is
// counted as ordinary text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
