// Copyright 2025 The Lectern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lecternml/lectern/pkg/lectern"
	"github.com/lecternml/lectern/pkg/lectern/lib/imaging"
	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
	"github.com/lecternml/lectern/pkg/lectern/lib/output"
	"github.com/lecternml/lectern/pkg/lectern/lib/predict"
)

var (
	inferImages   []string
	inferInputDir string
	inferTask     string
	inferModel    string
	inferOutput   string
	inferFormat   string
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run inference on image files",
	Long: `Run a document inference task on local image files without the server.

Examples:
  # OCR two pages to stdout
  lectern infer --images page1.png --images page2.png --task extract_text

  # Layout analysis over a directory, written to a file
  lectern infer --input-dir ./scans --task detect_layout --output layout.json

  # Plain-text output
  lectern infer --images receipt.jpg --task extract_text --output out.txt --format txt`,
	RunE: runInfer,
}

func init() {
	rootCmd.AddCommand(inferCmd)

	inferCmd.Flags().StringSliceVar(&inferImages, "images", nil, "image files to process")
	inferCmd.Flags().StringVar(&inferInputDir, "input-dir", "", "directory of images to process")
	inferCmd.Flags().StringVar(&inferTask, "task", "", "task to run (detect_text, extract_text, detect_layout, process_tables, recognize_latex)")
	inferCmd.Flags().StringVar(&inferModel, "model", "", "model name (default: the task's sole model)")
	inferCmd.Flags().StringVar(&inferOutput, "output", "", "output file path (default: stdout)")
	inferCmd.Flags().StringVar(&inferFormat, "format", "json", "output format (json, txt)")

	inferCmd.MarkFlagsMutuallyExclusive("images", "input-dir")
	inferCmd.MarkFlagsOneRequired("images", "input-dir")
	_ = inferCmd.MarkFlagRequired("task")
}

func runInfer(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	task, err := ocr.ParseTask(inferTask)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(inferFormat)
	if err != nil {
		return err
	}

	paths := inferImages
	if inferInputDir != "" {
		paths, err = imaging.ScanDir(inferInputDir, nil)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Printf("No image files found in %s\n", inferInputDir)
			return nil
		}
	}

	maxDim := viper.GetInt("max_image_dimension")
	if maxDim == 0 {
		maxDim = lectern.DefaultMaxImageDimension
	}

	images, loaded := imaging.LoadFiles(paths, maxDim, logger)
	if len(images) == 0 {
		return fmt.Errorf("none of the %d input images could be loaded", len(paths))
	}

	cfg := lectern.Config{
		ModelsDir:             viper.GetString("models_dir"),
		PoolSize:              viper.GetInt("pool_size"),
		MaxNewTokens:          viper.GetInt("max_new_tokens"),
		DetectorTextThreshold: viper.GetFloat64("detector_text_threshold"),
		DisableMath:           viper.GetBool("disable_math"),
	}

	session, err := predict.NewSharedSession(logger)
	if err != nil {
		return fmt.Errorf("creating ONNX session: %w", err)
	}
	if session != nil {
		defer func() { _ = session.Destroy() }()
	}

	// No result cache for one-shot CLI runs
	engine, err := lectern.BuildEngine(cfg, session, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	predictions, modelUsed, err := engine.Run(cmd.Context(), task, inferModel, images)
	if err != nil {
		return err
	}

	if inferOutput == "" {
		if err := output.Write(os.Stdout, predictions, format); err != nil {
			return err
		}
	} else {
		if err := output.WriteFile(inferOutput, predictions, format); err != nil {
			return err
		}
	}

	fmt.Printf("Successfully processed %d image(s)\n", len(images))
	fmt.Printf("  Task:  %s\n", task)
	fmt.Printf("  Model: %s\n", modelUsed)
	if skipped := len(paths) - len(loaded); skipped > 0 {
		fmt.Printf("  Skipped %d unreadable file(s)\n", skipped)
	}
	if inferOutput != "" {
		fmt.Printf("  Output: %s (%s)\n", inferOutput, format)
	}

	return nil
}
