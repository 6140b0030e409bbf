package cli

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/config"
)

// NewConfigCmd создаёт группу команд для конфигурации.
// configPathFn возвращает значение флага --config.
func NewConfigCmd(configPathFn func() string, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sample",
			Short: "Print a sample configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprint(cmd.OutOrStdout(), config.SampleConfig())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				out := outputFn()

				cfg, path, exists, err := config.Load(configPathFn())
				if err != nil {
					return err
				}

				if out.jsonMode {
					out.JSON(cfg)
					return nil
				}

				if exists {
					out.Success("# loaded from " + path)
				} else {
					out.Success("# no config file, using defaults and environment")
				}

				data, err := toml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("encode config: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)

	return cmd
}
