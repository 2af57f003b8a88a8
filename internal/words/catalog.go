package words

import (
	"bufio"
	"bytes"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"sort"
)

const WORD_LENGTH = 5

//go:embed data/guess_words.txt
var guessWordsFile []byte

//go:embed data/answer_words.txt
var answerWordsFile []byte

var ErrCatalogIntegrity = errors.New("words: catalog integrity violation")

// Catalog holds the guessable vocabulary and the answerable subset.
type Catalog struct {
	guess   map[string]struct{}
	answer  map[string]struct{}
	answers []string // sorted, for random picks
}

// New builds a catalog and checks its invariants: every entry is
// WORD_LENGTH letters A-Z, neither list has duplicates, and every answer is
// also guessable.
func New(guess, answers []string) (*Catalog, error) {
	c := &Catalog{
		guess:  make(map[string]struct{}, len(guess)),
		answer: make(map[string]struct{}, len(answers)),
	}

	for _, w := range guess {
		if !isWellFormed(w) {
			return nil, fmt.Errorf("%w: malformed guess word %q", ErrCatalogIntegrity, w)
		}
		if _, dup := c.guess[w]; dup {
			return nil, fmt.Errorf("%w: duplicate guess word %q", ErrCatalogIntegrity, w)
		}
		c.guess[w] = struct{}{}
	}

	for _, w := range answers {
		if !isWellFormed(w) {
			return nil, fmt.Errorf("%w: malformed answer word %q", ErrCatalogIntegrity, w)
		}
		if _, dup := c.answer[w]; dup {
			return nil, fmt.Errorf("%w: duplicate answer word %q", ErrCatalogIntegrity, w)
		}
		if _, ok := c.guess[w]; !ok {
			return nil, fmt.Errorf("%w: answer %q is not guessable", ErrCatalogIntegrity, w)
		}
		c.answer[w] = struct{}{}
		c.answers = append(c.answers, w)
	}
	if len(c.answers) == 0 {
		return nil, fmt.Errorf("%w: no answer words", ErrCatalogIntegrity)
	}
	sort.Strings(c.answers)

	return c, nil
}

// Default loads the embedded word lists.
func Default() (*Catalog, error) {
	return New(readList(guessWordsFile), readList(answerWordsFile))
}

// MustDefault panics on an inconsistent embedded catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) IsValidGuess(word string) bool {
	_, ok := c.guess[word]
	return ok
}

func (c *Catalog) IsValidAnswer(word string) bool {
	_, ok := c.answer[word]
	return ok
}

// PickRandomAnswer draws uniformly from the answer list.
func (c *Catalog) PickRandomAnswer() (string, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(c.answers))))
	if err != nil {
		return "", err
	}
	return c.answers[i.Int64()], nil
}

// PickRandomAnswers draws n distinct answers, none of which is in exclude.
func (c *Catalog) PickRandomAnswers(n int, exclude ...string) ([]string, error) {
	skip := make(map[string]struct{}, len(exclude)+n)
	for _, w := range exclude {
		skip[w] = struct{}{}
	}
	if n > len(c.answers)-len(skip) {
		return nil, fmt.Errorf("words: cannot pick %d answers from %d", n, len(c.answers)-len(skip))
	}

	out := make([]string, 0, n)
	for len(out) < n {
		w, err := c.PickRandomAnswer()
		if err != nil {
			return nil, err
		}
		if _, taken := skip[w]; taken {
			continue
		}
		skip[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

func (c *Catalog) GuessCount() int  { return len(c.guess) }
func (c *Catalog) AnswerCount() int { return len(c.answers) }

func isWellFormed(w string) bool {
	if len(w) != WORD_LENGTH {
		return false
	}
	for i := 0; i < len(w); i++ {
		if w[i] < 'A' || w[i] > 'Z' {
			return false
		}
	}
	return true
}

func readList(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		out = append(out, string(line))
	}
	return out
}
