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

// Package ui centralizes colored terminal output for cmd/backupctl,
// gating color on a NO_COLOR env var, an explicit --no-color flag, and
// whether stdout is an actual terminal.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen)
	dimColor     = color.New(color.FgHiBlack)
)

// InitColors disables all color output when noColor is set, NO_COLOR is
// present in the environment, or stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

func Error(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorColor.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, warnColor.Sprintf(format, args...))
}

func Success(format string, args ...any) {
	fmt.Println(successColor.Sprintf(format, args...))
}

func Dim(format string, args ...any) {
	fmt.Println(dimColor.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}
