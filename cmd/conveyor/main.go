// Conveyor CLI — просмотр состояния запуска через HTTP API.
//
// Использование:
//
//	conveyor [--api-url URL] [--json] <command> [args]
//
// Команды:
//
//	status          Статусы стадий
//	queues          Глубина очередей и WIP
//	failures STAGE  Упавшие chunks стадии
//	pipeline        Стадии и очереди pipeline
//	env             Опубликованный snapshot окружения
//	config          Пример и действующая конфигурация
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
	"github.com/shaiso/Conveyor/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var configPath string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor CLI — staged batch orchestrator status",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API server URL (default: http.api_url)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to conveyor.toml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client {
		if apiURL != "" {
			return cli.NewClient(apiURL)
		}
		cfg, _, _, err := config.Load(configPath)
		if err != nil {
			return cli.NewClient(config.Default().HTTP.APIURL)
		}
		return cli.NewClient(cfg.HTTP.APIURL)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	configPathFn := func() string { return configPath }

	rootCmd.AddCommand(
		cli.NewStatusCmd(clientFn, outputFn),
		cli.NewQueuesCmd(clientFn, outputFn),
		cli.NewFailuresCmd(clientFn, outputFn),
		cli.NewPipelineCmd(clientFn, outputFn),
		cli.NewEnvCmd(clientFn, outputFn),
		cli.NewConfigCmd(configPathFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
