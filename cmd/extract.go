package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/model"
)

var (
	extractURL     string
	extractName    string
	extractAddress string
	extractEmail   string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run extraction for a single restaurant website",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		target := model.Target{
			URL:     extractURL,
			Name:    extractName,
			Address: extractAddress,
			Email:   extractEmail,
		}

		rec, meta, err := env.Orchestrator.Extract(ctx, target)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		if err := env.Store.SaveRecord(ctx, rec); err != nil {
			zap.L().Warn("record save failed", zap.String("url", rec.URL), zap.Error(err))
		}

		zap.L().Info("extraction complete",
			zap.String("url", target.URL),
			zap.Float64("quality_score", rec.QualityScore),
			zap.Float64("cost_usd", rec.TotalCostUSD),
			zap.Int("phases", len(meta.PhasesCompleted)),
			zap.Int("menu_items", len(rec.MenuItems)),
		)

		// Print record plus run telemetry to stdout
		out := struct {
			Record   *model.RestaurantRecord   `json:"record"`
			Metadata *model.ExtractionMetadata `json:"metadata"`
		}{rec, meta}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractURL, "url", "", "restaurant website URL (required)")
	extractCmd.Flags().StringVar(&extractName, "name", "", "restaurant name hint")
	extractCmd.Flags().StringVar(&extractAddress, "address", "", "restaurant address hint")
	extractCmd.Flags().StringVar(&extractEmail, "email", "", "known contact email")
	_ = extractCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(extractCmd)
}
