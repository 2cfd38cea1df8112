package pipelines

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// TokenizerFile is the fast-tokenizer definition expected next to the model
// weights and carried into the engine directory.
const TokenizerFile = "tokenizer.json"

// Tokenizer converts between text and token ids for one model.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// hfTokenizer wraps a sugarme tokenizer loaded from tokenizer.json.
type hfTokenizer struct {
	tk *tokenizer.Tokenizer
}

// LoadTokenizer reads tokenizer.json from dir and returns a Tokenizer backed
// by the sugarme runtime.
func LoadTokenizer(dir string) (Tokenizer, error) {
	path := filepath.Join(dir, TokenizerFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no %s in %s: %w", TokenizerFile, dir, err)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &hfTokenizer{tk: tk}, nil
}

func (t *hfTokenizer) Encode(text string) ([]int, error) {
	enc, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return enc.Ids, nil
}

func (t *hfTokenizer) Decode(ids []int) (string, error) {
	return t.tk.Decode(ids, true), nil
}
