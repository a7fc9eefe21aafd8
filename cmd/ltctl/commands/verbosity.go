package commands

import (
	"fmt"

	"github.com/clusterlockd/ltd/internal/ltctlclient"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/spf13/cobra"
)

var verbosityCmd = &cobra.Command{
	Use:   "verbosity <DEBUG|INFO|WARN|ERROR>",
	Short: "Change the node's log verbosity",
	Long:  `Send info_set_verbosity to change the running node's minimum log level without a restart.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVerbosity,
}

func runVerbosity(cmd *cobra.Command, args []string) error {
	if err := ltctlclient.Send(adminAddr, &proto.InfoSetVerbosity{Level: args[0]}, timeout); err != nil {
		return err
	}
	fmt.Printf("verbosity change sent: %s\n", args[0])
	return nil
}
