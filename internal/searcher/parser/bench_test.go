package parser

import "testing"

func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name, query string
	}{
		{"simple", "distributed systems"},
		{"phrase", `"segment merge" scheduler`},
		{"boolean", "search AND analytics OR platform NOT deprecated"},
		{"near", `"quick fox" NEAR/5 dog NEAR lazy`},
		{"prefix", "ind* OR quer*"},
		{"long", "distributed search analytics platform indexing query processing segment merging caching"},
	}
	opts := DefaultOptions()
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := Parse(q.query, opts); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
