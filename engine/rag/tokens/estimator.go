package tokens

import (
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/singleflight"
)

const (
	defaultEncoding   = "cl100k_base"
	maxCachedEncoders = 8
)

// runesPerToken approximates English text when no encoder can be loaded.
const runesPerToken = 4

var (
	encoders      = newEncoderCache(maxCachedEncoders)
	encoderBuilds singleflight.Group
)

func newEncoderCache(size int) *lru.Cache[string, *tiktoken.Tiktoken] {
	cache, err := lru.New[string, *tiktoken.Tiktoken](size)
	if err != nil {
		panic(fmt.Sprintf("tokens: encoder cache: %v", err))
	}
	return cache
}

// Estimator counts tokens with a tiktoken encoder resolved for a model.
type Estimator struct {
	model   string
	encoder *tiktoken.Tiktoken
}

// ForModel returns an estimator for model, sharing encoders across callers.
// Unknown models use the cl100k_base encoding.
func ForModel(model string) (*Estimator, error) {
	key := strings.TrimSpace(model)
	if enc, ok := encoders.Get(key); ok {
		return &Estimator{model: key, encoder: enc}, nil
	}
	v, err, _ := encoderBuilds.Do(key, func() (any, error) {
		return resolveEncoder(key)
	})
	if err != nil {
		return nil, fmt.Errorf("tokens: create encoder for model %q: %w", key, err)
	}
	enc, ok := v.(*tiktoken.Tiktoken)
	if !ok {
		return nil, fmt.Errorf("tokens: unexpected encoder type %T", v)
	}
	encoders.Add(key, enc)
	return &Estimator{model: key, encoder: enc}, nil
}

func resolveEncoder(model string) (*tiktoken.Tiktoken, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return enc, nil
		}
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("get default encoding: %w", err)
	}
	return enc, nil
}

// Count returns the token count of text. A nil estimator falls back to a rune heuristic.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.encoder == nil {
		return Approximate(text)
	}
	return len(e.encoder.Encode(text, nil, nil))
}

// CountAll sums the token counts of texts.
func (e *Estimator) CountAll(texts []string) int {
	total := 0
	for _, text := range texts {
		total += e.Count(text)
	}
	return total
}

// Approximate estimates tokens from rune count alone.
func Approximate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + runesPerToken - 1) / runesPerToken
}
