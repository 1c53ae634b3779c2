package tokenizer

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Segment based indexes buffer postings in memory and flush them to
        immutable b-tree segments. Readers merge the term streams of every segment
        so the newest entry for a document wins, and a background merge folds
        small segments into larger ones as they accumulate.`,
	"long": strings.Repeat(`Information retrieval systems combine tokenization,
        case folding and stemming to normalize text into searchable terms. The
        inverted index maps each term to the documents containing it, along with
        the column and position of every occurrence for phrase queries. `, 20),
}

func BenchmarkTokens(b *testing.B) {
	tok := Default()
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				for range tok.Tokens(text) {
				}
			}
		})
	}
}

func BenchmarkTokensParallel(b *testing.B) {
	tok := Default()
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for range tok.Tokens(text) {
			}
		}
	})
}

func BenchmarkTokensVaryingSize(b *testing.B) {
	tok := Default()
	base := "distributed search analytics platform indexing "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(base, size/len(base)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Terms(tok, text)
			}
		})
	}
}
