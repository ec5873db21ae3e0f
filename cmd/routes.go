// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/rawetl/config"
	"github.com/cardinalhq/rawetl/internal/router"
)

func init() {
	var routesFile string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Validate and print the routing table",
		RunE: func(c *cobra.Command, _ []string) error {
			path := routesFile
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				path = cfg.RoutesFile
			}

			table := router.DefaultTable()
			if path != "" {
				var err error
				if table, err = router.LoadTable(path); err != nil {
					return err
				}
			}
			fmt.Fprintln(c.OutOrStdout(), renderRoutes(table))
			return nil
		},
	}
	cmd.Flags().StringVar(&routesFile, "file", "", "routes file to validate instead of the configured one")
	rootCmd.AddCommand(cmd)
}

func renderRoutes(t *router.Table) string {
	rows := make([][]string, 0, len(t.Routes()))
	for _, r := range t.Routes() {
		rows = append(rows, []string{string(r.Area), "*" + r.Suffix, r.EventPattern(), string(r.Handler)})
	}
	return renderTable([]string{"Area", "Match", "Event", "Handler"}, rows)
}
