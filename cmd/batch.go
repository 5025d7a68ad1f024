package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tableiq/research-cli/internal/model"
)

var (
	batchFile  string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Batch extract restaurants from a CSV seed file",
	Long:  "Reads seed targets from a CSV file with columns url,name,address,email (header optional) and extracts them concurrently.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(batchFile)
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close()

		targets, err := readSeeds(f)
		if err != nil {
			return eris.Wrap(err, "read seed file")
		}

		return processBatch(ctx, targets, batchLimit, cfg.Batch.MaxConcurrentTargets, func(ctx context.Context, target model.Target) (*model.RestaurantRecord, *model.ExtractionMetadata, error) {
			rec, meta, err := env.Orchestrator.Extract(ctx, target)
			if err != nil {
				return nil, meta, err
			}
			if serr := env.Store.SaveRecord(ctx, rec); serr != nil {
				zap.L().Warn("record save failed", zap.String("url", rec.URL), zap.Error(serr))
			}
			return rec, meta, nil
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "CSV seed file (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of targets to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// readSeeds parses seed targets from CSV. A header row is detected by a
// non-URL first column and skipped.
func readSeeds(r io.Reader) ([]model.Target, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var targets []model.Target
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "parse csv")
		}
		if len(row) == 0 {
			continue
		}

		url := strings.TrimSpace(row[0])
		if url == "" || strings.EqualFold(url, "url") {
			continue
		}

		t := model.Target{URL: url}
		if len(row) > 1 {
			t.Name = strings.TrimSpace(row[1])
		}
		if len(row) > 2 {
			t.Address = strings.TrimSpace(row[2])
		}
		if len(row) > 3 {
			t.Email = strings.TrimSpace(row[3])
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// extractFunc is the callback signature for running extraction on a target.
type extractFunc func(ctx context.Context, target model.Target) (*model.RestaurantRecord, *model.ExtractionMetadata, error)

// processBatch applies limit, then extracts targets concurrently.
// Individual failures are logged and do not abort the batch.
func processBatch(ctx context.Context, targets []model.Target, limit, concurrency int, extract extractFunc) error {
	if len(targets) == 0 {
		zap.L().Info("no seed targets found")
		return nil
	}

	if limit > 0 && len(targets) > limit {
		targets = targets[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, target := range targets {
		g.Go(func() error {
			log := zap.L().With(zap.String("url", target.URL))

			rec, meta, err := extract(gctx, target)
			if err != nil {
				failed.Add(1)
				log.Error("extraction failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("extraction complete",
				zap.Float64("quality_score", rec.QualityScore),
				zap.Float64("cost_usd", rec.TotalCostUSD),
				zap.Int("phases", len(meta.PhasesCompleted)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
