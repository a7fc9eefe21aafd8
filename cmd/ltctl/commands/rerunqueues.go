package commands

import (
	"fmt"

	"github.com/clusterlockd/ltd/internal/ltctlclient"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/spf13/cobra"
)

var rerunQueuesCmd = &cobra.Command{
	Use:   "rerunqueues",
	Short: "Force the wait queue runner to re-evaluate all lockspaces",
	Long:  `Send lock_rerunqueues: nudges the node to re-run Run_WaitQu over every lockspace, useful after manually clearing a stuck holder.`,
	RunE:  runRerunQueues,
}

func runRerunQueues(cmd *cobra.Command, args []string) error {
	if err := ltctlclient.Send(adminAddr, &proto.LockRerunQueues{}, timeout); err != nil {
		return err
	}
	fmt.Println("rerunqueues sent")
	return nil
}
