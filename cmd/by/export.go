package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/blockyard/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		configPath string
		scope      string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export units as XML",
		Long: `Writes the unit export document. --scope all includes issued units,
--scope in_stock leaves them out. Without --out the XML goes to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := export.ParseScope(scope)
			if err != nil {
				return err
			}
			return runExport(cmd, configPath, s, outPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&scope, "scope", string(export.ScopeAll), "all or in_stock")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to this file (a directory gets the default file name)")
	return cmd
}

func runExport(cmd *cobra.Command, configPath string, scope export.Scope, outPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	at := time.Now()
	data, err := export.Render(gormDB, scope, at)
	if err != nil {
		return err
	}

	if outPath == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if info, err := os.Stat(outPath); err == nil && info.IsDir() {
		outPath = filepath.Join(outPath, export.Filename(scope, at))
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", outPath, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s units to %s\n", scope, outPath)
	return nil
}
