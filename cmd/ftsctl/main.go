// Command ftsctl edits and queries an index directly through its store,
// without the HTTP services.
//
// Usage:
//
//	ftsctl --config configs/development.yaml insert --id 1 "title" "body"
//	ftsctl query '"quick fox" OR dog'
//	ftsctl query --rank --snippet fox
//	ftsctl vocab --top 10
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
