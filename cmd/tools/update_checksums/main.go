// Command update_checksums recomputes the sha256 digests recorded in a
// model bundle's config.yaml after its files were edited by hand.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
)

func main() {
	dir := flag.String("dir", "models/voxtral", "model bundle directory")
	flag.Parse()

	sums, err := model.UpdateChecksums(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "update checksums: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: sha256=%s\n", name, sums[name])
	}
}
