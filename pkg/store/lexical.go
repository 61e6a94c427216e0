package store

import (
	"math"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// 英文停用词, 与 postgres 'english' 配置的常见词大致一致
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by for from has have he her his i if in into is it its
		me my no not of on or our she so such that the their them then there these they this to was we were
		what when where which who will with you your`) {
		stopwords[w] = struct{}{}
	}
}

// Words 分词并去停用词, 保留原词形
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Tokenize 分词、去停用词并做词干化
func Tokenize(text string) []string {
	words := Words(text)
	for i, w := range words {
		words[i] = Stem(w)
	}
	return words
}

// Stem Snowball (Porter2) 英文词干, 与 postgres 'english' 配置一致
func Stem(word string) string {
	return english.Stem(word, false)
}

// termIndex 单个文档的词频
type termIndex struct {
	freq   map[string]int
	length int
}

func buildTermIndex(text string) termIndex {
	tokens := Tokenize(text)
	idx := termIndex{freq: make(map[string]int, len(tokens)), length: len(tokens)}
	for _, t := range tokens {
		idx.freq[t]++
	}
	return idx
}

// score 所有查询词都出现时返回正分, 否则返回 0
func (idx termIndex) score(terms []string) float64 {
	if len(terms) == 0 || idx.length == 0 {
		return 0
	}
	var s float64
	for _, t := range terms {
		tf := idx.freq[t]
		if tf == 0 {
			return 0
		}
		s += 1 + math.Log(float64(tf))
	}
	return s / (1 + math.Log(float64(idx.length)))
}
