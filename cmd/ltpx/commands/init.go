package commands

import (
	"fmt"

	"github.com/clusterlockd/ltd/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample configuration file shared with ltd. ltpx reads
its proxy.upstreams and proxy.client_addr fields and runs one shard per
upstream; proxy.shard_count is not read.

Examples:
  # Initialize with default location
  ltpx init

  # Initialize with custom path
  ltpx init --config /etc/ltd/config.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit proxy.upstreams to list every master lock table's client_addr")
	fmt.Println("  2. Start the proxy with: ltpx start")
	fmt.Printf("  3. Or specify custom config: ltpx start --config %s\n", configPath)

	return nil
}
