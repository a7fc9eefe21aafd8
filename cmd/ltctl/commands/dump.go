package commands

import (
	"fmt"

	"github.com/clusterlockd/ltd/internal/ltctlclient"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wireerr"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <path-prefix>",
	Short: "Dump the lockspace to a YAML file",
	Long:  `Send lock_dump_req; the node appends a pid/timestamp suffix and writes a YAML snapshot of every lock, holder, LVB, and queue depth to its own filesystem.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	var rpl proto.LockDumpRpl
	if err := ltctlclient.Call(adminAddr, &proto.LockDumpReq{Path: args[0]}, &rpl, timeout); err != nil {
		return err
	}
	if wireerr.Code(rpl.Err) != wireerr.Ok {
		return fmt.Errorf("dump failed: %s", wireerr.Code(rpl.Err))
	}
	fmt.Printf("lockspace dumped to %s (on the node's own filesystem)\n", rpl.Path)
	return nil
}
