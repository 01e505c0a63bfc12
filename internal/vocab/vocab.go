// Package vocab loads ordered token lists for the converter. A vocabulary may
// arrive as a file path, an in-memory token list, or an already-parsed Vocab
// object; all three are ordered-token producers and nothing else is accepted.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// UnknownToken is guaranteed present in every loaded vocabulary so that
// decode-time unknown handling downstream always has a symbol to fall back to.
const UnknownToken = "<unk>"

// Source produces an ordered token list. The three implementations
// (FileSource, TokenSource and Vocab) form the closed set of accepted
// vocabulary inputs.
type Source interface {
	Tokens() ([]string, error)
}

// FileSource reads a vocabulary file with one token per line.
type FileSource string

func (p FileSource) Tokens() ([]string, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	v, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", string(p), err)
	}
	return v.Words(), nil
}

// TokenSource supplies an in-memory ordered token list.
type TokenSource []string

func (ts TokenSource) Tokens() ([]string, error) {
	out := make([]string, len(ts))
	copy(out, ts)
	return out, nil
}

// Vocab is a parsed vocabulary object. It implements Source.
type Vocab struct {
	words []string
}

// Parse reads a one-token-per-line vocabulary. Token order is preserved; a
// trailing newline does not produce an empty token.
func Parse(r io.Reader) (*Vocab, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var words []string
	for sc.Scan() {
		words = append(words, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n := len(words); n > 0 && words[n-1] == "" {
		words = words[:n-1]
	}
	return &Vocab{words: words}, nil
}

// Words returns the ordered tokens.
func (v *Vocab) Words() []string { return v.words }

func (v *Vocab) Tokens() ([]string, error) {
	out := make([]string, len(v.words))
	copy(out, v.words)
	return out, nil
}

// Load resolves a source to its token list, appending UnknownToken when the
// vocabulary does not already contain it.
func Load(src Source) ([]string, error) {
	if src == nil {
		return nil, fmt.Errorf("vocab: nil source")
	}
	tokens, err := src.Tokens()
	if err != nil {
		return nil, err
	}
	for _, tok := range tokens {
		if tok == UnknownToken {
			return tokens, nil
		}
	}
	return append(tokens, UnknownToken), nil
}
