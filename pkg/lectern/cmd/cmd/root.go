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
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set from main via ldflags
var Version = "dev"

var (
	cfgFile   string
	modelsDir string
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Document-image inference node",
	Long: `Lectern runs OCR and document understanding tasks over ONNX models:
text detection, text extraction, layout analysis, table structure
recognition, and LaTeX recognition.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.lectern/lectern.yaml)")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", defaultModelsDir(),
		"models directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-style", "json", "log style (json, console)")

	mustBindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))

	viper.SetEnvPrefix("LECTERN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// initConfig loads .env and the optional config file before any command runs.
func initConfig() {
	// A missing .env is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".lectern"))
			viper.SetConfigName("lectern")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		// An explicitly named config file must exist
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		os.Exit(1)
	}
}

// mustBindPFlag binds a viper key to a flag; binding only fails on
// programmer error, so panic.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

// defaultModelsDir returns ~/.lectern/models.
func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lectern/models"
	}
	return filepath.Join(home, ".lectern", "models")
}

// newLogger builds a zap logger from the log.level and log.style config.
func newLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(viper.GetString("log.level")); err == nil {
		level = parsed
	}

	var config zap.Config
	if viper.GetString("log.style") == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)

	logger, err := config.Build()
	if err != nil {
		// Last resort, never expected
		return zap.NewNop()
	}
	return logger
}
