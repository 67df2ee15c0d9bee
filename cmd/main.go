/*
Copyright 2024 Droptide Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/droptide/droptide"
	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/database"
	"github.com/droptide/droptide/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Droptide represents the CLI application, encapsulating the root Cobra command.
type Droptide struct {
	cmd *cobra.Command
}

// droptideInstance holds the pipeline instance and its configuration for use
// by subcommands.
type droptideInstance struct {
	droptide *droptide.Droptide
	cnf      *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the pipeline instance
// before running any command.
func preRun(app *droptideInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("droptide.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newDroptide, err := setupDroptide(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.droptide = newDroptide
		app.cnf = cnf

		return nil
	}
}

// setupDroptide creates and initializes a pipeline instance based on the
// provided configuration.
func setupDroptide(cfg *config.Configuration) (*droptide.Droptide, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newDroptide, err := droptide.NewDroptide(db)
	if err != nil {
		return nil, fmt.Errorf("error creating droptide: %v", err)
	}
	return newDroptide, nil
}

// NewCLI creates the command-line interface for the Droptide application.
func NewCLI() *Droptide {
	var configFile string
	d := &droptideInstance{}

	var rootCmd = &cobra.Command{
		Use:   "droptide",
		Short: "Product pipeline orchestrator",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./droptide.json", "Configuration file for the pipeline")

	rootCmd.PersistentPreRunE = preRun(d)

	rootCmd.AddCommand(workerCommands(d))
	rootCmd.AddCommand(migrateCommands(d))
	rootCmd.AddCommand(queueCommands(d))
	rootCmd.AddCommand(productCommands(d))

	return &Droptide{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Droptide) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
