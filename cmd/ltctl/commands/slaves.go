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

var slavesCmd = &cobra.Command{
	Use:   "slaves",
	Short: "List the live slave table",
	Long:  `Fetch info_slave_list_req: the master's 4-slot slave table and each slot's liveness.`,
	RunE:  runSlaves,
}

// slaveList renders InfoSlaveListRpl's slots as a cliout.TableRenderer.
type slaveList []proto.SlaveInfo

func (sl slaveList) Headers() []string { return []string{"NAME", "LIVE"} }

func (sl slaveList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, s := range sl {
		rows = append(rows, []string{s.Name, fmt.Sprintf("%v", s.Live)})
	}
	return rows
}

func runSlaves(cmd *cobra.Command, args []string) error {
	var rpl proto.InfoSlaveListRpl
	if err := ltctlclient.Call(adminAddr, &proto.InfoSlaveListReq{}, &rpl, timeout); err != nil {
		return err
	}
	if wireerr.Code(rpl.Err) != wireerr.Ok {
		return fmt.Errorf("slave list request failed: %s", wireerr.Code(rpl.Err))
	}
	if len(rpl.Slaves) == 0 {
		fmt.Println("no slaves attached")
		return nil
	}
	return cliout.PrintTable(os.Stdout, slaveList(rpl.Slaves))
}
