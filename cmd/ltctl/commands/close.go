package commands

import (
	"fmt"

	"github.com/clusterlockd/ltd/internal/cliprompt"
	"github.com/clusterlockd/ltd/internal/ltctlclient"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/spf13/cobra"
)

var closeForce bool

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the admin connection",
	Long:  `Send socket_close: asks the node to close this connection from its end, mirroring a misbehaving peer being dropped.`,
	RunE:  runClose,
}

func init() {
	closeCmd.Flags().BoolVarP(&closeForce, "force", "f", false, "skip the confirmation prompt")
}

func runClose(cmd *cobra.Command, args []string) error {
	ok, err := cliprompt.ConfirmWithForce(fmt.Sprintf("close the admin connection to %s", adminAddr), closeForce)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("aborted")
		return nil
	}

	if err := ltctlclient.Send(adminAddr, &proto.SocketClose{}, timeout); err != nil {
		return err
	}
	fmt.Println("close sent")
	return nil
}
