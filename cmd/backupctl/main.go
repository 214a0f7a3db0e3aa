// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the backupctl CLI, the reference front end
// for the hash-based incremental backup engine.
//
// Usage (global flags such as --config and --json come before the
// command name; flags after it belong to the command):
//
//	backupctl --config <path> run [--mode quick|full|none]    Run a backup once
//	backupctl --config <path> validate                        Validate configuration only
//	backupctl --config <path> [--json] status                 Show catalog totals
//	backupctl --config <path> [--json] logs [--level X]       Show durable log rows
//	backupctl --config <path> serve --addr :8080              Expose progress over HTTP
//	backupctl --config <path> schedule                        Run on the configured cron schedule
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/hashbackup/internal/errors"
	"github.com/kraklabs/hashbackup/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds flags recognized ahead of the subcommand name.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to the backup configuration JSON file")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress progress bars and non-essential output")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `backupctl - hash-based incremental backup engine

Usage:
  backupctl [global options] <command> [command options]

Commands:
  run        Run a backup once
  validate   Validate a configuration file without running
  status     Show catalog totals (files, bytes, per-destination)
  logs       Show durable log rows from the catalog
  serve      Expose run progress and a stop endpoint over HTTP
  schedule   Run the backup repeatedly on the configured cron schedule

Global Options:
  -c, --config     Path to the configuration JSON file
      --json       Output in JSON format (for applicable commands)
      --no-color   Disable color output (respects NO_COLOR env var)
  -q, --quiet      Suppress progress bars and non-essential output
  -V, --version    Show version and exit

For detailed command help: backupctl <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("backupctl version %s (commit %s, built %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Quiet: *quiet}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]

	exitCode := dispatch(command, cmdArgs, *configPath, globals)
	os.Exit(exitCode)
}

func dispatch(command string, cmdArgs []string, configPath string, globals GlobalFlags) int {
	switch command {
	case "run":
		return runRun(cmdArgs, configPath, globals)
	case "validate":
		return runValidate(cmdArgs, configPath, globals)
	case "status":
		return runStatus(cmdArgs, configPath, globals)
	case "logs":
		return runLogs(cmdArgs, configPath, globals)
	case "serve":
		return runServe(cmdArgs, configPath, globals)
	case "schedule":
		return runSchedule(cmdArgs, configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		return 1
	}
}

// asEngineError coerces any error returned by this module's packages
// into an *errors.EngineError, wrapping anything unexpected so callers
// never need a second type switch.
func asEngineError(err error) *errors.EngineError {
	if ee, ok := err.(*errors.EngineError); ok {
		return ee
	}
	return errors.NewInternalError("unexpected error", err.Error(), "", err)
}

func fatalPrinter(globals GlobalFlags) func(*errors.EngineError) {
	return func(ee *errors.EngineError) {
		if globals.JSON {
			fmt.Fprintf(os.Stderr, `{"error":%q,"detail":%q}`+"\n", ee.Title, ee.Detail)
			return
		}
		ui.Error("%s", ee.Error())
		if ee.Hint != "" {
			ui.Dim("hint: %s", ee.Hint)
		}
	}
}
