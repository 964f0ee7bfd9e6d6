package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enerflow/hybridmpc/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		start, end, _ := cfg.Run.Window()
		fmt.Printf("config ok: run %s -> %s, logging backend %s\n", start, end, cfg.Logging.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
