// Command traceprobe samples a trace file and reports what an import of it
// would see: the observed fields, a suggested canonical field mapping, and
// per-category rejection counts. It never writes to storage.
//
// Usage:
//
//	traceprobe -file data/taxis/1.txt -profile tdrive
//	traceprobe -file export.csv -n 5000
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"unicode/utf8"

	"traceimport/internal/probe"
)

var (
	flagFile      = flag.String("file", "", "trace file to sample (required)")
	flagN         = flag.Int("n", 1000, "number of records to sample")
	flagProfile   = flag.String("profile", "", "format profile (default: csv for .csv files, tdrive otherwise)")
	flagDelimiter = flag.String("delimiter", "", "field delimiter override (single character)")
	flagStrict    = flag.Bool("strict", false, "probe with strict validation")
)

func main() {
	flag.Parse()
	if *flagFile == "" {
		fmt.Fprintln(os.Stderr, "traceprobe: -file is required")
		flag.Usage()
		os.Exit(2)
	}

	var delim rune
	if *flagDelimiter != "" {
		r, size := utf8.DecodeRuneInString(*flagDelimiter)
		if r == utf8.RuneError || size != len(*flagDelimiter) {
			log.Fatalf("traceprobe: delimiter must be a single character, got %q", *flagDelimiter)
		}
		delim = r
	}

	rep, err := probe.Run(probe.Options{
		Path:      *flagFile,
		Samples:   *flagN,
		Profile:   *flagProfile,
		Delimiter: delim,
		Strict:    *flagStrict,
	})
	if err != nil {
		log.Fatalf("traceprobe: %v", err)
	}
	fmt.Print(rep.Render())
}
