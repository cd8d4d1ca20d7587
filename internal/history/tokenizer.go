// ABOUTME: Tokenizers used by the token-bounded history window
// ABOUTME: A tiktoken-backed counter for known models and a whitespace word counter

package history

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ErrNoTokenizer is returned when no tokenizer is known for a model.
var ErrNoTokenizer = errors.New("no tokenizer for model")

// Tokenizer counts the tokens in a piece of text.
type Tokenizer interface {
	Count(text string) int
}

// WordCounter counts whitespace separated words. It is deterministic and has
// no external data, which makes it the tokenizer of choice in tests.
type WordCounter struct{}

// Count implements Tokenizer.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken returns a BPE tokenizer for model. Models tiktoken does not
// know about yield ErrNoTokenizer; callers fall back to a CountWindow.
func NewTiktoken(model string) (Tokenizer, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: empty model", ErrNoTokenizer)
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrNoTokenizer, model, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (t *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
