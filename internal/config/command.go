// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"github.com/spf13/cobra"
)

// NewCommand builds the root cobra.Command for the compiler driver:
// every Config flag from RegisterFlags, any number of positional
// arguments (passed to run unchecked), and run invoked with a
// validated Config once flags have parsed. use and short name the command the way a cobra
// root normally would (e.g. "kefirc", "compile one translation unit
// to AMD64 assembly").
func NewCommand(use, short string, run func(cfg Config, args []string) error) *cobra.Command {
	cfg := Default()
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ApplyFlags(&cfg); err != nil {
				return err
			}
			return run(cfg, args)
		},
	}
	RegisterFlags(cmd.Flags(), &cfg)
	return cmd
}
