package commands

import (
	"fmt"
	"os"

	"github.com/clusterlockd/ltd/internal/cliout"
	"github.com/clusterlockd/ltd/internal/ltctlclient"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wireerr"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Dump lock table stats",
	Long:  `Fetch the info_stats_req snapshot: per-state lock counts, queue depths, free-pool depths, pid, uptime, and role.`,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	var rpl proto.InfoStatsRpl
	if err := ltctlclient.Call(adminAddr, &proto.InfoStatsReq{}, &rpl, timeout); err != nil {
		return err
	}
	if wireerr.Code(rpl.Err) != wireerr.Ok {
		return fmt.Errorf("stats request failed: %s", wireerr.Code(rpl.Err))
	}

	pairs := [][2]string{
		{"role", rpl.Role.String()},
		{"pid", fmt.Sprintf("%d", rpl.Pid)},
		{"uptime", fmt.Sprintf("%ds", rpl.UptimeSeconds)},
		{"locks unlock", fmt.Sprintf("%d", rpl.LockCountByState[proto.StateUnlock])},
		{"locks shared", fmt.Sprintf("%d", rpl.LockCountByState[proto.StateShared])},
		{"locks deferred", fmt.Sprintf("%d", rpl.LockCountByState[proto.StateDeferred])},
		{"locks exclusive", fmt.Sprintf("%d", rpl.LockCountByState[proto.StateExclusive])},
		{"pending reqs", fmt.Sprintf("%d", rpl.PendingRequestCount)},
		{"reply-waiters", fmt.Sprintf("%d", rpl.ReplyQueueDepth)},
		{"free locks", fmt.Sprintf("%d", rpl.FreeLocksDepth)},
	}
	if len(rpl.PerShardQueueLen) > 0 {
		pairs = append(pairs, [2]string{"per-shard queue lengths", fmt.Sprintf("%v", rpl.PerShardQueueLen)})
	}
	return cliout.KVTable(os.Stdout, pairs)
}
