package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/config"
)

func newReprCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "repr",
		Short: "Encode the use data into normalised code vectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, stop, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer stop()
			m, stopMetrics := startMetrics(cfg)
			defer stopMetrics()

			vocabs, err := loadCodeVocabs(cfg)
			if err != nil {
				return err
			}
			emb, err := buildEmbedder(ctx, cfg, m)
			if err != nil {
				return err
			}
			r := indexer.New(emb, indexer.Options{
				BatchSize: cfg.Search.ReprBatch,
				Parallel:  cfg.Search.ReprParallel,
				Metrics:   m,
			})
			n, err := r.Run(ctx, cfg.Path(cfg.Data.UseData), cfg.Path(cfg.Data.Codevecs), vocabs, indexer.Lengths{
				Name:   cfg.Lengths.Name,
				API:    cfg.Lengths.API,
				Tokens: cfg.Lengths.Tokens,
			})
			if err != nil {
				return err
			}
			slog.Info("repr complete", "vectors", n, "path", cfg.Path(cfg.Data.Codevecs))
			return nil
		},
	}
}

func loadCodeVocabs(cfg *config.Config) (indexer.Vocabs, error) {
	var v indexer.Vocabs
	var err error
	if v.Name, err = vocab.Load(cfg.Path(cfg.Vocab.Name), cfg.Vocab.TopNames); err != nil {
		return v, err
	}
	if v.API, err = vocab.Load(cfg.Path(cfg.Vocab.API), cfg.Vocab.TopAPIs); err != nil {
		return v, err
	}
	if v.Tokens, err = vocab.Load(cfg.Path(cfg.Vocab.Tokens), cfg.Vocab.TopTokens); err != nil {
		return v, err
	}
	return v, nil
}
