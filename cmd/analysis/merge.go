package main

import (
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jcalabro/sparsebloom"
	"github.com/jcalabro/sparsebloom/snapshot"
)

// ErrHashMismatch is returned when merging snapshots built with different
// fingerprint hashes.
var ErrHashMismatch = errors.New("snapshots use different hash algorithms")

func (a *app) mergeCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "merge -o <output> <snapshot> <snapshot> [snapshot...]",
		Short: "Union snapshots built with the same settings",
		Long: `Union two or more snapshots into one. Every input must have been built with
the same size and hash. The output is written with the configured compression.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			merged, first, err := snapshot.ReadFilterFile(args[0], sparsebloom.HashAlgorithm.BytesHasher)
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}

			for _, path := range args[1:] {
				f, h, err := snapshot.ReadFilterFile(path, sparsebloom.HashAlgorithm.BytesHasher)
				if err != nil {
					return errors.Wrapf(err, "read %s", path)
				}
				if h.Hash != first.Hash {
					return errors.Wrapf(ErrHashMismatch, "%s uses %s, %s uses %s", args[0], first.Hash, path, h.Hash)
				}
				if err := merged.Union(f); err != nil {
					return errors.Wrapf(err, "merge %s (%s) into %s (%s)", path, f.Size(), args[0], merged.Size())
				}
				a.log.Debug("merged", "path", path, "count", f.Count())
			}

			merged.ShrinkToFit()

			opts := a.cfg.snapshotOptions()
			opts.Hash = first.Hash
			h, err := snapshot.WriteFilterFile(output, merged, opts)
			if err != nil {
				return errors.Wrapf(err, "write %s", output)
			}

			a.log.Info("wrote merged snapshot",
				"path", output,
				"inputs", len(args),
				"count", humanize.Comma(int64(merged.Count())),
				"compression", h.Compression,
				"file_bytes", humanize.IBytes(h.Size()),
				"estimated_fp", merged.EstimatedFalsePositiveRate(),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "snapshot path to write")
	cmd.Flags().String("compression", defaultCompression, "snapshot compression (none, lz4, zstd)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
