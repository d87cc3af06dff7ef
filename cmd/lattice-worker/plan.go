package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/pipeline"
	"github.com/samcharles93/lattice/internal/shard"
)

func planCmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Print layer assignments and shard plans for a model",
		Flags: modelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, _, err := setup(ctx, cmd); err != nil {
				return err
			}
			if modelPath == "" {
				return cli.Exit("error: --model is required", 1)
			}
			m, _, err := model.Load(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			return printPlan(os.Stdout, m, worldSize)
		},
	}
}

func printPlan(out io.Writer, m *model.Model, ws int) error {
	if ws < 1 {
		ws = 1
	}
	layers := len(m.Layers())
	assignments, err := pipeline.ComputeLayerAssignment(layers, ws)
	if err != nil {
		return err
	}
	full := m.Bytes()

	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "model\t%s (%s), %d layers, %s\n", m.Config.ModelType, m.Family.Name, layers, humanize.IBytes(uint64(full)))
	fmt.Fprintf(w, "world size\t%d\n\n", ws)

	fmt.Fprintln(w, "PIPELINE\t\t\t")
	fmt.Fprintln(w, "rank\trole\tlayers\tcount")
	for r, a := range assignments {
		role := dist.DeviceRank{Rank: r, WorldSize: ws}.Role()
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", r, role, a, a.Len())
	}
	fmt.Fprintln(w)

	report, err := shard.Apply(m, dist.DeviceRank{Rank: 0, WorldSize: ws})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TENSOR PARALLEL\t\t\t\t")
	fmt.Fprintln(w, "tensor\trole\tshape\tplacement\tper rank")
	for _, p := range report.Plans {
		bytes := int64(4)
		for _, d := range p.Shape {
			bytes *= int64(d)
		}
		placement := "replicated (" + p.Reason + ")"
		if p.Sharded() {
			placement = fmt.Sprintf("axis %d", p.Axis)
			bytes /= int64(ws)
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", p.Name, p.Role, p.Shape, placement, humanize.IBytes(uint64(bytes)))
	}
	fmt.Fprintf(w, "\n%d sharded, %d replicated, %s per rank\n",
		report.Sharded, report.Replicated, humanize.IBytes(uint64(report.BytesAfter)))
	return w.Flush()
}
