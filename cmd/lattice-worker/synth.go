package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

func synthCmd() *cli.Command {
	var (
		out          string
		modelType    string
		hidden       int
		intermediate int
		layers       int
		vocab        int
		seed         int64
		tied         bool
	)
	return &cli.Command{
		Name:  "synth",
		Usage: "Write a random reference model for end-to-end runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Required: true, Destination: &out},
			&cli.StringFlag{Name: "model-type", Usage: "model_type written to config.json", Value: "lattice", Destination: &modelType},
			&cli.IntFlag{Name: "hidden", Usage: "hidden size", Value: 64, Destination: &hidden},
			&cli.IntFlag{Name: "intermediate", Usage: "MLP intermediate size", Value: 128, Destination: &intermediate},
			&cli.IntFlag{Name: "layers", Usage: "number of layers", Value: 4, Destination: &layers},
			&cli.IntFlag{Name: "vocab", Usage: "vocabulary size", Value: tokenizer.ByteVocabSize, Destination: &vocab},
			&cli.Int64Flag{Name: "seed", Usage: "weight seed", Value: 1, Destination: &seed},
			&cli.BoolFlag{Name: "tie-embeddings", Usage: "reuse the embedding as output head", Destination: &tied},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, log, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			m, err := model.Random(model.Config{
				ModelType:         modelType,
				HiddenSize:        hidden,
				IntermediateSize:  intermediate,
				NumHiddenLayers:   layers,
				VocabSize:         vocab,
				TieWordEmbeddings: tied,
			}, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := model.Save(m, out); err != nil {
				return cli.Exit(fmt.Sprintf("error: save model: %v", err), 1)
			}
			log.Info("model written",
				"path", out,
				"family", m.Family.Name,
				"layers", layers,
				"size", humanize.IBytes(uint64(m.Bytes())),
			)
			return nil
		},
	}
}
