package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jcalabro/sparsebloom"
	"github.com/jcalabro/sparsebloom/bitmap"
	"github.com/jcalabro/sparsebloom/snapshot"
)

const (
	// batchSize is the number of lines handed to a worker at a time.
	batchSize = 1024

	// maxLineSize is the longest input line accepted.
	maxLineSize = 1 << 20
)

type buildCommand struct {
	*app

	output string
	dense  bool
}

func (a *app) buildCommand() *cobra.Command {
	bc := &buildCommand{app: a}

	cmd := &cobra.Command{
		Use:   "build [file]",
		Short: "Insert lines from a file or stdin and write a snapshot",
		Long: `Insert every non-empty line of the input into a new filter and write it as
a snapshot. With no file, or a file of "-", lines are read from stdin.

With --workers greater than one, lines are spread across that many filters
which are unioned before the snapshot is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: bc.run,
	}

	addFilterFlags(cmd)
	cmd.Flags().StringVarP(&bc.output, "output", "o", "", "snapshot path to write")
	cmd.Flags().BoolVar(&bc.dense, "dense", false, "build on a dense bitmap and compress before writing")
	cmd.Flags().Int("workers", defaultWorkers, "number of filters to build in parallel")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func (bc *buildCommand) run(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	start := time.Now()
	f, lines, err := bc.buildFilter(cmd.Context(), in)
	if err != nil {
		return err
	}
	f.ShrinkToFit()

	h, err := snapshot.WriteFilterFile(bc.output, f, bc.cfg.snapshotOptions())
	if err != nil {
		return errors.Wrapf(err, "write %s", bc.output)
	}

	bc.log.Info("wrote snapshot",
		"path", bc.output,
		"lines", humanize.Comma(int64(lines)),
		"size", bc.cfg.size,
		"hash", bc.cfg.hash,
		"compression", h.Compression,
		"filter_bytes", humanize.IBytes(uint64(f.ByteSize())),
		"file_bytes", humanize.IBytes(h.Size()),
		"estimated_fp", f.EstimatedFalsePositiveRate(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (bc *buildCommand) buildFilter(ctx context.Context, r io.Reader) (*sparsebloom.Filter[string, *bitmap.Compressed], uint64, error) {
	hash := bc.cfg.hash.StringHasher()
	size := bc.cfg.size

	if bc.dense {
		bc.log.Debug("building dense shards", "workers", bc.cfg.Workers, "bytes_each", humanize.IBytes(size.Capacity()/8))
		f, lines, err := ingest(ctx, r, bc.cfg.Workers, func() (*sparsebloom.Filter[string, *bitmap.Dense], error) {
			return sparsebloom.NewDense(hash, size)
		})
		if err != nil {
			return nil, 0, err
		}
		return sparsebloom.Compress(f), lines, nil
	}

	bc.log.Debug("building compressed shards", "workers", bc.cfg.Workers)
	return ingest(ctx, r, bc.cfg.Workers, func() (*sparsebloom.Filter[string, *bitmap.Compressed], error) {
		return sparsebloom.NewWithSize(hash, size)
	})
}

// ingest inserts every non-empty line of r into one of workers filters, then
// unions them into the first. It returns the merged filter and the number of
// lines inserted.
func ingest[B bitmap.Bitmap[B]](ctx context.Context, r io.Reader, workers int, newFilter func() (*sparsebloom.Filter[string, B], error)) (*sparsebloom.Filter[string, B], uint64, error) {
	shards := make([]*sparsebloom.Filter[string, B], workers)
	for i := range shards {
		f, err := newFilter()
		if err != nil {
			return nil, 0, err
		}
		shards[i] = f
	}

	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan []string, workers)

	var lines uint64
	g.Go(func() error {
		defer close(batches)

		send := func(batch []string) error {
			select {
			case batches <- batch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		batch := make([]string, 0, batchSize)
		for sc.Scan() {
			line := strings.TrimSuffix(sc.Text(), "\r")
			if line == "" {
				continue
			}
			batch = append(batch, line)
			lines++

			if len(batch) == batchSize {
				if err := send(batch); err != nil {
					return err
				}
				batch = make([]string, 0, batchSize)
			}
		}
		if err := sc.Err(); err != nil {
			return errors.Wrap(err, "read input")
		}
		if len(batch) > 0 {
			return send(batch)
		}
		return nil
	})

	for _, f := range shards {
		g.Go(func() error {
			for batch := range batches {
				for _, v := range batch {
					f.Insert(v)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	out := shards[0]
	for _, f := range shards[1:] {
		if err := out.Union(f); err != nil {
			return nil, 0, err
		}
	}
	return out, lines, nil
}
