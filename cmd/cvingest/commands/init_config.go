package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cv-ingest/internal/config"
)

var initConfigCmd = &cobra.Command{
	Use:         "init-config <path>",
	Short:       "生成示例配置文件",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"skip-setup": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateSampleConfig(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "示例配置已写入 %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
