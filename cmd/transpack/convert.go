package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/transpack/internal/checkpoint"
	"github.com/samcharles93/transpack/internal/convert"
	"github.com/samcharles93/transpack/internal/vocab"
	"github.com/samcharles93/transpack/pkg/container"
	"github.com/samcharles93/transpack/pkg/spec"
)

func convertCmd() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a checkpoint into a model package",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model-path",
				Aliases:  []string{"in"},
				Usage:    "Checkpoint snapshot file or checkpoint directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model-type",
				Usage: "Model architecture name (see `transpack convert --list-types`)",
				Value: "Transformer",
			},
			&cli.BoolFlag{
				Name:  "list-types",
				Usage: "Print the supported model types and exit",
			},
			&cli.StringFlag{
				Name:  "src-vocab",
				Usage: "Source vocabulary file, one token per line",
			},
			&cli.StringFlag{
				Name:  "tgt-vocab",
				Usage: "Target vocabulary file, one token per line",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"out"},
				Usage:   "Output package path (defaults next to the checkpoint)",
			},
			&cli.StringFlag{
				Name:  "quantization",
				Usage: "Weight storage type: none|float16|bfloat16|int8",
			},
			&cli.StringFlag{
				Name:  "vmap",
				Usage: "Optional vocabulary mapping file embedded in the package",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("list-types") {
				for _, name := range spec.ModelTypes() {
					fmt.Println(name)
				}
				return nil
			}

			cfg := LoadConfig()
			log := newLogger(cmd, cfg)

			srcVocab := cmd.String("src-vocab")
			tgtVocab := cmd.String("tgt-vocab")
			if srcVocab == "" || tgtVocab == "" {
				return fmt.Errorf("convert: --src-vocab and --tgt-vocab are required")
			}

			quantName := cmd.String("quantization")
			if quantName == "" && !cmd.IsSet("quantization") {
				quantName = cfg.Quantization
			}
			quantization, err := container.ParseQuantization(quantName)
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			template, err := spec.FromModelType(cmd.String("model-type"))
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			modelPath := cmd.String("model-path")
			generation, store, err := checkpoint.Load(modelPath)
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			log.Info("loaded checkpoint",
				"path", modelPath,
				"generation", int(generation),
				"variables", store.Len(),
			)

			conv, err := convert.New(convert.Options{
				Spec:             template,
				SourceVocabulary: vocab.FileSource(srcVocab),
				TargetVocabulary: vocab.FileSource(tgtVocab),
				ModelPath:        modelPath,
				Loader: func(string) (checkpoint.Generation, *checkpoint.Store, error) {
					return generation, store, nil
				},
				Logger: log,
			})
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			model, err := conv.Convert()
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			if vmap := cmd.String("vmap"); vmap != "" {
				lines, err := vocab.FileSource(vmap).Tokens()
				if err != nil {
					return fmt.Errorf("convert: read vmap: %w", err)
				}
				model.RegisterVocabulary("vmap", lines)
			}

			output := cmd.String("output")
			if output == "" {
				output = defaultOutputPath(modelPath, cfg.OutputDir)
			}
			if err := container.Write(output, model, container.PackOptions{
				Quantization:     quantization,
				SourceGeneration: int(generation),
			}); err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			log.Info("wrote model package",
				"path", output,
				"quantization", string(quantization),
			)
			_ = ctx
			return nil
		},
	}
}

// defaultOutputPath derives the package path from the checkpoint name, in
// the configured output directory when one is set.
func defaultOutputPath(modelPath, outputDir string) string {
	base := filepath.Base(filepath.Clean(modelPath))
	base = strings.TrimSuffix(base, filepath.Ext(base)) + ".tpc"
	if outputDir != "" {
		return filepath.Join(outputDir, base)
	}
	return filepath.Join(filepath.Dir(filepath.Clean(modelPath)), base)
}
