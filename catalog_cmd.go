package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var catalogFile string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect phase catalogs",
}

var catalogPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the resolved phase catalog as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(catalogFile)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(catalog.Describe())
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a phase catalog file loads",
	RunE: func(cmd *cobra.Command, args []string) error {
		if catalogFile == "" {
			return fmt.Errorf("--file is required")
		}
		if _, err := os.Stat(catalogFile); err != nil {
			return err
		}
		catalog, err := loadCatalog(catalogFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d work item types OK\n", catalogFile, len(catalog.Types()))
		return nil
	},
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogFile, "file", "", "phase catalog YAML file (defaults to the embedded catalog)")
	catalogCmd.AddCommand(catalogPrintCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}
