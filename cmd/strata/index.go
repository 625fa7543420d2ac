package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/mmap"
)

func newIndexCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build and inspect column store index snapshots",
	}
	cmd.AddCommand(newIndexBuildCommand(a), newIndexInspectCommand(a))
	return cmd
}

func newIndexBuildCommand(a *app) *cobra.Command {
	var src source
	var out, algorithm string
	var level int
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the index and save it as a snapshot",
		Long: `Load documents, build the column store index and write a compressed
snapshot that find, aggregate and validate can load with --snapshot.

Example:
  strata index build --data orders.jsonl --out orders.idx --compression lz4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = a.cfg.Storage.SnapshotPath
			}
			if out == "" {
				return fmt.Errorf("--out or storage.snapshot_path is required")
			}
			storage := a.cfg.Storage
			if algorithm != "" {
				storage.Compression = algorithm
			}
			if level > 0 {
				storage.CompressionLevel = level
			}
			codec, err := storage.CompressionConfig()
			if err != nil {
				return err
			}

			// Always build from the documents, never from an older snapshot.
			src.snapshot = ""
			saved := a.cfg.Storage.SnapshotPath
			a.cfg.Storage.SnapshotPath = ""
			coll, err := a.open(cmd.Context(), &src)
			a.cfg.Storage.SnapshotPath = saved
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create snapshot: %w", err)
			}
			m, err := coll.SaveIndex(f, codec)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(out)
				return err
			}
			a.log.Info("snapshot written", zap.String("path", out))
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringVarP(&src.data, "data", "d", "", "Newline-delimited extended JSON documents (required)")
	cmd.Flags().IntVar(&src.batchSize, "batch-size", 1000, "Documents inserted per batch while loading")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Snapshot file to write")
	cmd.Flags().StringVar(&algorithm, "compression", "", "Snapshot codec (none, gzip, snappy, lz4, zstd, s2)")
	cmd.Flags().IntVar(&level, "level", 0, "Compression level (1-9)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newIndexInspectCommand(a *app) *cobra.Command {
	var columns bool
	cmd := &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Describe a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := mmap.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			idx, m, err := columnar.Load(r.NewReader(), columnar.WithLogger(a.log))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Manifest *columnar.Manifest `json:"manifest"`
				Stats    columnar.Stats     `json:"stats"`
			}{m, idx.Stats(columns)})
		},
	}
	cmd.Flags().BoolVar(&columns, "columns", false, "Include per-column statistics")
	return cmd
}

func newValidateCommand(a *app) *cobra.Command {
	var src source
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check an index against the documents it was built from",
		Long: `Load documents and an index snapshot, rebuild every document from the
index and compare it with the stored one. Without --snapshot the index is
built fresh, which checks the shredder and assembler round trip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			coll, err := a.open(ctx, &src)
			if err != nil {
				return err
			}
			if err := coll.ValidateIndex(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d documents match the index\n", coll.Len())
			return err
		},
	}
	cmd.Flags().StringVarP(&src.data, "data", "d", "", "Newline-delimited extended JSON documents (required)")
	cmd.Flags().StringVar(&src.snapshot, "snapshot", "", "Snapshot to validate")
	cmd.Flags().IntVar(&src.batchSize, "batch-size", 1000, "Documents inserted per batch while loading")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
