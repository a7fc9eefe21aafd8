package proto

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/clusterlockd/ltd/pkg/wire"
)

func roundTrip(t *testing.T, want Message, got Message) {
	t.Helper()

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf, 0)
	if err := WriteMessage(enc, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	dec := wire.NewDecoder(&buf)
	op, err := ReadOpcode(dec)
	if err != nil {
		t.Fatalf("ReadOpcode: %v", err)
	}
	if op != want.Opcode() {
		t.Fatalf("opcode = %v, want %v", op, want.Opcode())
	}
	if err := got.Decode(dec); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	t.Parallel()

	want := &LoginReq{ProtoVersion: ProtoVersion, Name: "node-3", Role: RoleSlave}
	got := &LoginReq{}
	roundTrip(t, want, got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	wantRpl := &LoginRpl{Err: 0, Role: RoleSlave}
	gotRpl := &LoginRpl{}
	roundTrip(t, wantRpl, gotRpl)
	if *gotRpl != *wantRpl {
		t.Fatalf("got %+v, want %+v", gotRpl, wantRpl)
	}
}

func TestLoginRoundTrip_WithLockspacePrefix(t *testing.T) {
	t.Parallel()

	want := &LoginReq{ProtoVersion: ProtoVersion, Name: "client-1", Role: RoleClient, LockspacePrefix: []byte("tenant-a/")}
	got := &LoginReq{}
	roundTrip(t, want, got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStateReqRoundTrip_WithLVB(t *testing.T) {
	t.Parallel()

	want := &StateReq{
		Key:   []byte("db/table1"),
		SubID: 42,
		Start: 0,
		Stop:  ^uint64(0),
		State: StateExclusive,
		Flags: FlagHasLVB | FlagTry,
		LVB:   []byte{1, 2, 3, 4},
	}
	got := &StateReq{}
	roundTrip(t, want, got)

	if !bytes.Equal(got.Key, want.Key) || got.SubID != want.SubID || got.State != want.State ||
		got.Flags != want.Flags || !bytes.Equal(got.LVB, want.LVB) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStateReqRoundTrip_NoLVB(t *testing.T) {
	t.Parallel()

	want := &StateReq{Key: []byte("db/table2"), SubID: 7, State: StateShared, Flags: 0}
	got := &StateReq{}
	roundTrip(t, want, got)

	if got.LVB != nil {
		t.Fatalf("expected nil LVB when HasLVB unset, got %v", got.LVB)
	}
	if !bytes.Equal(got.Key, want.Key) || got.State != want.State {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStateRplRoundTrip(t *testing.T) {
	t.Parallel()

	want := &StateRpl{
		Key:   []byte("db/table1"),
		SubID: 42,
		State: StateExclusive,
		Flags: FlagHasLVB,
		Err:   0,
		LVB:   []byte("value-block"),
	}
	got := &StateRpl{}
	roundTrip(t, want, got)

	if !bytes.Equal(got.LVB, want.LVB) || got.Err != want.Err {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestUpdateRplRoundTrip(t *testing.T) {
	t.Parallel()

	want := &UpdateRpl{Key: []byte("db/table1")}
	got := &UpdateRpl{}
	roundTrip(t, want, got)
	if !bytes.Equal(got.Key, want.Key) {
		t.Fatalf("got %v, want %v", got.Key, want.Key)
	}
}

func TestActionReqRoundTrip(t *testing.T) {
	t.Parallel()

	want := &ActionReq{Key: []byte("k"), SubID: 1, Action: ActionHoldLVB, Flags: FlagHasLVB, LVB: []byte("v")}
	got := &ActionReq{}
	roundTrip(t, want, got)
	if got.Action != want.Action || !bytes.Equal(got.LVB, want.LVB) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCbStateRoundTrip_WithTimestamp(t *testing.T) {
	t.Parallel()

	want := &CbState{Key: []byte("k"), SubID: 9, DesiredState: StateShared, HasTimestamp: true, SendTimestamp: 123456}
	got := &CbState{}
	roundTrip(t, want, got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCbStateRoundTrip_NoTimestamp(t *testing.T) {
	t.Parallel()

	want := &CbState{Key: []byte("k"), SubID: 9, DesiredState: StateShared}
	got := &CbState{}
	roundTrip(t, want, got)
	if got.HasTimestamp {
		t.Fatalf("expected HasTimestamp false, got true")
	}
}

func TestCbDropAllRoundTrip(t *testing.T) {
	t.Parallel()

	want := &CbDropAll{}
	got := &CbDropAll{}
	roundTrip(t, want, got)
}

func TestDropExpRoundTrip(t *testing.T) {
	t.Parallel()

	want := &DropExp{Name: "client-a", KeyPrefixMask: []byte("db/")}
	got := &DropExp{}
	roundTrip(t, want, got)
	if got.Name != want.Name || !bytes.Equal(got.KeyPrefixMask, want.KeyPrefixMask) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	t.Parallel()

	want := &QueryReq{Key: []byte("k"), SubID: 3, Flags: FlagAny}
	got := &QueryReq{}
	roundTrip(t, want, got)
	if !bytes.Equal(got.Key, want.Key) || got.Flags != want.Flags {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	wantRpl := &QueryRpl{Key: []byte("k"), State: StateExclusive, HolderCount: 1, Err: 0}
	gotRpl := &QueryRpl{}
	roundTrip(t, wantRpl, gotRpl)
	if gotRpl.HolderCount != wantRpl.HolderCount {
		t.Fatalf("got %+v, want %+v", gotRpl, wantRpl)
	}
}

func TestCoreMbrUpdtRoundTrip(t *testing.T) {
	t.Parallel()

	want := &CoreMbrUpdt{NodeID: 2, NodeName: "node-2", Joined: true}
	got := &CoreMbrUpdt{}
	roundTrip(t, want, got)
	if *got != *want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCoreMbrLstRplRoundTrip(t *testing.T) {
	t.Parallel()

	want := &CoreMbrLstRpl{
		Generation: 5,
		Members: []MemberInfo{
			{NodeID: 1, NodeName: "node-1"},
			{NodeID: 2, NodeName: "node-2"},
		},
	}
	got := &CoreMbrLstRpl{}
	roundTrip(t, want, got)
	if len(got.Members) != 2 || got.Members[1].NodeName != "node-2" {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestInfoStatsRoundTrip(t *testing.T) {
	t.Parallel()

	want := &InfoStatsRpl{
		PerShardQueueLen:    []uint32{1, 2, 3},
		LockCountByState:    [4]uint32{10, 20, 0, 5},
		PendingRequestCount: 4,
		ReplyQueueDepth:     1,
		FreeLocksDepth:      100,
		FreeWaitersDepth:    50,
		FreeHoldersDepth:    50,
		Pid:                 1234,
		UptimeSeconds:       9999,
		Role:                RoleMaster,
		Err:                 0,
	}
	got := &InfoStatsRpl{}
	roundTrip(t, want, got)
	if len(got.PerShardQueueLen) != 3 || got.PerShardQueueLen[2] != 3 || got.LockCountByState != want.LockCountByState {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestInfoSlaveListRoundTrip(t *testing.T) {
	t.Parallel()

	want := &InfoSlaveListRpl{Slaves: []SlaveInfo{{Name: "s1", Live: true}, {Name: "s2", Live: false}}}
	got := &InfoSlaveListRpl{}
	roundTrip(t, want, got)
	if len(got.Slaves) != 2 || got.Slaves[0].Live != true || got.Slaves[1].Live != false {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLockDumpRoundTrip(t *testing.T) {
	t.Parallel()

	want := &LockDumpReq{Path: "/tmp/ltd-dump"}
	got := &LockDumpReq{}
	roundTrip(t, want, got)
	if got.Path != want.Path {
		t.Fatalf("got %q, want %q", got.Path, want.Path)
	}
}

func TestEmptyBodyMessagesRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf, 0)
	msgs := []Message{&LockRerunQueues{}, &SocketClose{}, &InfoStatsReq{}, &InfoSlaveListReq{}}
	for _, m := range msgs {
		if err := WriteMessage(enc, m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	dec := wire.NewDecoder(&buf)
	for _, m := range msgs {
		op, err := ReadOpcode(dec)
		if err != nil {
			t.Fatalf("ReadOpcode: %v", err)
		}
		if op != m.Opcode() {
			t.Fatalf("opcode = %v, want %v", op, m.Opcode())
		}
		if err := m.Decode(dec); err != nil {
			t.Fatalf("Decode: %v", err)
		}
	}
}
