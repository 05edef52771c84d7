package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jcalabro/sparsebloom"
	"github.com/jcalabro/sparsebloom/snapshot"
)

func (a *app) queryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <snapshot> [value...]",
		Short: "Test values against a snapshot",
		Long: `Print each value followed by true if the filter may contain it, or false
if it definitely does not. With no values, lines are read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, h, err := snapshot.ReadFilterFile(args[0], sparsebloom.HashAlgorithm.StringHasher)
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			a.log.Debug("loaded snapshot",
				"path", args[0],
				"size", f.Size(),
				"hash", h.Hash,
				"count", f.Count(),
				"estimated_fp", f.EstimatedFalsePositiveRate(),
			)

			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()

			var queried, hits int
			check := func(v string) {
				ok := f.Contains(v)
				queried++
				if ok {
					hits++
				}
				fmt.Fprintf(out, "%s\t%t\n", v, ok)
			}

			if len(args) > 1 {
				for _, v := range args[1:] {
					check(v)
				}
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
				for sc.Scan() {
					if v := strings.TrimSuffix(sc.Text(), "\r"); v != "" {
						check(v)
					}
				}
				if err := sc.Err(); err != nil {
					return errors.Wrap(err, "read input")
				}
			}

			a.log.Debug("query finished", "queried", queried, "maybe_present", hits)
			return out.Flush()
		},
	}
}
