// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/googlecloudplatform/staticd/cfg"
	"github.com/googlecloudplatform/staticd/common"
	"github.com/googlecloudplatform/staticd/internal/util"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type serveFn func(c *cfg.Config) error

// NewRootCmd accepts the serveFn that it executes with the parsed config.
func NewRootCmd(serve serveFn) (*cobra.Command, error) {
	var (
		configObj cfg.Config
		cfgFile   string
		v         = viper.New()
	)

	rootCmd := &cobra.Command{
		Use:   "staticd [flags]",
		Short: "Serve static files over HTTP from a fixed pool of workers",
		Long: `staticd is a small HTTP server for static files. Every request is handed
to one of a fixed number of workers; requests wait in a FIFO queue while all
workers are busy. Missing files are answered with 404.html from the errors
directory.`,
		Version:       common.GetVersionWithGo(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cfgFile, &configObj); err != nil {
				return err
			}
			return serve(&configObj)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config-file", "c", "", "The path to the config file where all staticd related config needs to be specified. Flags passed on the command line take precedence over it.")
	if err := cfg.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}
	return rootCmd, nil
}

// loadConfig resolves the layered configuration into c. Values come from
// the flag defaults, overridden by the config file, overridden by flags set
// on the command line.
func loadConfig(v *viper.Viper, cfgFile string, c *cfg.Config) error {
	if cfgFile != "" {
		path, err := util.GetResolvedPath(cfgFile)
		if err != nil {
			return fmt.Errorf("error while resolving config-file path[%s]: %w", cfgFile, err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err = v.ReadInConfig(); err != nil {
			return fmt.Errorf("error while reading the config: %w", err)
		}
	}

	err := v.Unmarshal(c, viper.DecodeHook(cfg.DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
		// By default, viper supports mapstructure tags for unmarshalling. Override that to support yaml tag.
		decoderConfig.TagName = "yaml"
		// Reject the unknown keys in the config file.
		decoderConfig.ErrorUnused = true
	})
	if err != nil {
		return fmt.Errorf("error while parsing config: %w", err)
	}

	if err = cfg.ValidateConfig(c); err != nil {
		return err
	}
	return cfg.Rationalize(v, c)
}

// Execute runs the staticd command and exits the process on failure.
func Execute() {
	rootCmd, err := NewRootCmd(Serve)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build the command: %v\n", err)
		os.Exit(1)
	}
	if err = rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
