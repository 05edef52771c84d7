package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jcalabro/sparsebloom"
)

// sizeReport is the outcome of one analyze trial.
type sizeReport struct {
	size      sparsebloom.FilterSize
	items     uint64
	bytes     int
	blocks    int
	estimated float64
	observed  float64
}

type analyzeCommand struct {
	*app

	items  uint64
	probes uint64
	sizes  []string
	format string
}

func (a *app) analyzeCommand() *cobra.Command {
	ac := &analyzeCommand{app: a}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report size and false positive rate for each key width",
		Long: `Insert --items synthetic values into a compressed filter of each size, then
query --probes values that were never inserted. The report shows the
resulting footprint next to the estimated and observed false positive rates.`,
		Args: cobra.NoArgs,
		RunE: ac.run,
	}

	f := cmd.Flags()
	f.Uint64Var(&ac.items, "items", 10_000, "values inserted into each filter")
	f.Uint64Var(&ac.probes, "probes", 100_000, "absent values queried to measure false positives")
	f.StringSliceVar(&ac.sizes, "sizes", []string{"1", "2", "3", "4"}, "filter sizes to analyze")
	f.StringVar(&ac.format, "format", "table", "output format (table, csv, markdown)")
	f.String("hash", defaultHash, "fingerprint hash (xxh3, xxhash64, murmur3)")
	f.Int("workers", defaultWorkers, "sizes analyzed in parallel")

	return cmd
}

func (ac *analyzeCommand) run(cmd *cobra.Command, _ []string) error {
	sizes := make([]sparsebloom.FilterSize, len(ac.sizes))
	for i, s := range ac.sizes {
		size, err := sparsebloom.ParseFilterSize(s)
		if err != nil {
			return err
		}
		sizes[i] = size
	}

	switch ac.format {
	case "table", "csv", "markdown":
	default:
		return errors.Newf("unknown format %q", ac.format)
	}

	reports := make([]sizeReport, len(sizes))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(ac.cfg.Workers)
	for i, size := range sizes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ac.log.Debug("analyzing", "size", size, "items", ac.items)
			r, err := analyzeSize(size, ac.cfg.hash, ac.items, ac.probes)
			if err != nil {
				return errors.Wrapf(err, "analyze %s", size)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return renderReports(cmd.OutOrStdout(), reports, ac.format)
}

// analyzeSize fills a filter of the given size and measures its false
// positive rate against values that were never inserted.
func analyzeSize(size sparsebloom.FilterSize, hash sparsebloom.HashAlgorithm, items, probes uint64) (sizeReport, error) {
	f, err := sparsebloom.NewWithSize(hash.StringHasher(), size)
	if err != nil {
		return sizeReport{}, err
	}

	for i := range items {
		f.Insert("item-" + strconv.FormatUint(i, 10))
	}
	f.ShrinkToFit()

	var falsePositives uint64
	for i := range probes {
		if f.Contains("probe-" + strconv.FormatUint(i, 10)) {
			falsePositives++
		}
	}

	r := sizeReport{
		size:      size,
		items:     items,
		bytes:     f.ByteSize(),
		blocks:    f.Bitmap().BlockCount(),
		estimated: f.EstimatedFalsePositiveRate(),
	}
	if probes > 0 {
		r.observed = float64(falsePositives) / float64(probes)
	}
	return r, nil
}

func renderReports(w io.Writer, reports []sizeReport, format string) error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Size", "k", "Items", "Blocks", "Bytes", "Min Bytes", "Max Bytes", "Est. FP", "Observed FP"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})

	for _, r := range reports {
		tbl.AppendRow(table.Row{
			r.size,
			r.size.K(),
			humanize.Comma(int64(r.items)),
			humanize.Comma(int64(r.blocks)),
			humanize.IBytes(uint64(r.bytes)),
			humanize.IBytes(r.size.MinByteSize()),
			humanize.IBytes(r.size.MaxByteSize()),
			formatRate(r.estimated),
			formatRate(r.observed),
		})
	}

	var out string
	switch format {
	case "csv":
		out = tbl.RenderCSV()
	case "markdown":
		out = tbl.RenderMarkdown()
	default:
		out = tbl.Render()
	}

	_, err := fmt.Fprintln(w, out)
	return err
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r*100, 'f', 4, 64) + "%"
}
