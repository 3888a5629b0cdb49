// Package chunker splits page text into overlapping, size-bounded chunks,
// preferring paragraph, line, sentence and word boundaries, in that order,
// before cutting mid-word.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

const (
	DefaultSize     = 1000
	DefaultOverlap  = 200
	DefaultMinChars = 30
)

// SentenceSplitter segments text into sentences.
type SentenceSplitter func(text string) []string

type Chunker struct {
	size      int
	overlap   int
	minChars  int
	sentences SentenceSplitter
}

type Option func(*Chunker)

func WithSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithMinChars sets the length below which a trimmed chunk is discarded.
func WithMinChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minChars = n
		}
	}
}

func WithSentenceSplitter(fn SentenceSplitter) Option {
	return func(c *Chunker) {
		if fn != nil {
			c.sentences = fn
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:      DefaultSize,
		overlap:   DefaultOverlap,
		minChars:  DefaultMinChars,
		sentences: ProseSentences,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 5
	}
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

type level struct {
	sep   string
	split func(string) []string
}

// Split returns the chunks of text in reading order. Every chunk is at most
// Size runes and at least MinChars runes after trimming.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	levels := []level{
		{sep: "\n\n", split: func(s string) []string { return strings.Split(s, "\n\n") }},
		{sep: "\n", split: func(s string) []string { return strings.Split(s, "\n") }},
		{sep: " ", split: c.sentences},
		{sep: " ", split: strings.Fields},
	}

	var out []string
	for _, piece := range c.split(text, levels, 0) {
		piece = strings.TrimSpace(piece)
		if utf8.RuneCountInString(piece) < c.minChars {
			continue
		}
		out = append(out, piece)
	}
	return out
}

func (c *Chunker) split(text string, levels []level, depth int) []string {
	if runeLen(text) <= c.size {
		return []string{text}
	}
	if depth >= len(levels) {
		return c.hardSplit(text)
	}

	lv := levels[depth]
	parts := nonEmpty(lv.split(text))
	if len(parts) <= 1 {
		return c.split(text, levels, depth+1)
	}

	var out, fits []string
	for _, p := range parts {
		if runeLen(p) <= c.size {
			fits = append(fits, p)
			continue
		}
		if len(fits) > 0 {
			out = append(out, c.merge(fits, lv.sep)...)
			fits = nil
		}
		out = append(out, c.split(p, levels, depth+1)...)
	}
	if len(fits) > 0 {
		out = append(out, c.merge(fits, lv.sep)...)
	}
	return out
}

// merge packs parts, each no longer than size, into windows of at most size
// runes. Consecutive windows share up to overlap runes of trailing parts.
func (c *Chunker) merge(parts []string, sep string) []string {
	sepLen := runeLen(sep)

	var out, cur []string
	total := 0
	for _, p := range parts {
		n := runeLen(p)
		join := 0
		if len(cur) > 0 {
			join = sepLen
		}
		if len(cur) > 0 && total+join+n > c.size {
			out = append(out, strings.Join(cur, sep))
			for len(cur) > 0 && (total > c.overlap || total+sepLen+n > c.size) {
				total -= runeLen(cur[0])
				if len(cur) > 1 {
					total -= sepLen
				}
				cur = cur[1:]
			}
		}
		if len(cur) > 0 {
			total += sepLen
		}
		cur = append(cur, p)
		total += n
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, sep))
	}
	return out
}

func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.size - c.overlap
	if step <= 0 {
		step = c.size
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]?\s+`)

// ProseSentences segments with prose's punkt tokenizer and falls back to a
// punctuation rule if the document cannot be built.
func ProseSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return RegexSentences(text)
	}
	sents := doc.Sentences()
	out := make([]string, 0, len(sents))
	for _, s := range sents {
		out = append(out, s.Text)
	}
	return out
}

// RegexSentences splits after terminal punctuation followed by whitespace.
func RegexSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, text[last:])
	}
	return out
}

func nonEmpty(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
