package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/transpack/internal/checkpoint"
	"github.com/samcharles93/transpack/pkg/container"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "List the contents of a checkpoint or a model package",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model-path",
				Aliases:  []string{"in"},
				Usage:    "Checkpoint snapshot, checkpoint directory, or .tpc package",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "tensors",
				Usage: "List every tensor with dtype and shape",
				Value: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("model-path")
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				if f, err := container.Open(path); err == nil {
					return inspectPackage(cmd, f)
				}
			}
			_ = ctx
			return inspectCheckpoint(cmd, path)
		},
	}
}

func inspectCheckpoint(cmd *cli.Command, path string) error {
	generation, store, err := checkpoint.Load(path)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	fmt.Printf("checkpoint: %s\n", path)
	fmt.Printf("generation: %d\n", int(generation))
	fmt.Printf("variables:  %d\n", store.Len())
	if !cmd.Bool("tensors") {
		return nil
	}
	for _, name := range store.Names() {
		t, _ := store.Lookup(name)
		fmt.Printf("  %-72s %v\n", name, t.Shape())
	}
	return nil
}

func inspectPackage(cmd *cli.Command, f *container.File) error {
	manifest, err := f.Manifest()
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	fmt.Printf("package format %d.%d, %d sections, %d bytes\n",
		f.Header.Major, f.Header.Minor, f.Header.SectionCount, f.Header.FileSize)
	fmt.Printf("model type:   %s\n", manifest.ModelType)
	fmt.Printf("build id:     %s\n", manifest.BuildID)
	fmt.Printf("layers:       %d encoder / %d decoder\n", manifest.EncoderLayers, manifest.DecoderLayers)
	fmt.Printf("heads:        %d\n", manifest.NumHeads)
	fmt.Printf("quantization: %s\n", manifest.Quantization)
	if manifest.SourceGeneration != 0 {
		fmt.Printf("converted from generation %d checkpoint\n", manifest.SourceGeneration)
	}

	vocabs, err := f.Vocabularies()
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	for _, v := range vocabs {
		fmt.Printf("vocabulary %q: %d tokens\n", v.Name, len(v.Tokens))
	}

	if !cmd.Bool("tensors") {
		return nil
	}
	ix, err := f.Index()
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	for _, e := range ix.Tensors {
		fmt.Printf("  %-72s %-8s %v\n", e.Name, e.DType, e.Shape)
	}
	return nil
}
