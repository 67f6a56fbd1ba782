package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// printSummary writes the human-readable run report.
func printSummary(out io.Writer, runID string, s domain.Snapshot) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", runID)
	fmt.Fprintf(tw, "stage\t%s\n", s.Stage)
	rows := []struct {
		name  string
		value int64
	}{
		{"records read", s.RecordsRead},
		{"products seen", s.ProductsSeen},
		{"variants seen", s.VariantsSeen},
		{"inventory levels seen", s.LevelsSeen},
		{"inventory levels attached", s.LevelsAttached},
		{"orphans dropped", s.OrphansDropped},
		{"malformed lines", s.MalformedLines},
		{"unknown records", s.UnknownRecords},
		{"variants without product", s.VariantsWithoutProduct},
		{"entities persisted", s.EntitiesPersisted},
		{"batches written", s.BatchesWritten},
		{"batches failed", s.BatchesFailed},
		{"products scanned", s.ProductsScanned},
		{"variants scanned", s.VariantsScanned},
		{"items undecodable", s.ItemsUndecodable},
		{"documents built", s.DocumentsBuilt},
		{"documents indexed", s.DocumentsIndexed},
		{"chunks failed", s.ChunksFailed},
		{"embedding failures", s.EmbeddingFailures},
		{"index doc count", s.IndexDocCount},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\n", r.name, r.value)
	}

	cats := make([]string, 0, len(s.Errors))
	for c := range s.Errors {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		for _, msg := range s.Errors[domain.ErrorCategory(c)] {
			fmt.Fprintf(tw, "error[%s]\t%s\n", c, msg)
		}
	}
	_ = tw.Flush()
}
