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
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lecternml/lectern/pkg/lectern/lib/modeldir"
	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local models",
	Long:  `List the models discovered under the models directory, grouped by kind.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	dir := viper.GetString("models_dir")

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tMODEL\tPATH")

	total := 0
	for _, kind := range ocr.Kinds() {
		models, err := modeldir.Discover(filepath.Join(dir, string(kind)), logger)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%s\n", kind, m.FullName(), m.Path)
			total++
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	if total == 0 {
		fmt.Printf("\nNo models found under %s\n", dir)
	}
	return nil
}
