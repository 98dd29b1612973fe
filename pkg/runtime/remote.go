package runtime

import (
	"context"
	"fmt"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

// RemoteDialer opens a Channel to another rank's TaskManager across a
// process boundary. SpawnGroup falls back to it whenever the target rank
// has no LinkPeer registered, which is the only case that exists once a
// deployment actually spans more than one process. pkg/runtime/transport
// implements this over libp2p; it is declared here rather than imported
// directly so this package doesn't have to depend on libp2p just to
// describe the fallback.
type RemoteDialer interface {
	Dial(ctx context.Context, rank int) (Channel, error)
}

// SetRemoteDialer installs the cross-process dialer SpawnGroup uses once
// rank has no in-process peer link. Passing nil disables the fallback,
// restoring the local-only "no link to rank" error.
func (tm *TaskManager) SetRemoteDialer(d RemoteDialer) {
	tm.remote = d
}

func (tm *TaskManager) spawnRemoteGroup(ctx context.Context, rank int, taskID string, n int) ([]Channel, error) {
	channels := make([]Channel, n)
	for i := 0; i < n; i++ {
		ch, err := tm.remote.Dial(ctx, rank)
		if err != nil {
			for _, opened := range channels[:i] {
				opened.Close()
			}
			return nil, err
		}
		// Handshake: tell the accepting TaskManager which registered task
		// to dispatch to and where this member sits in its group, since a
		// dialed stream arrives at the peer's transport.Node with no
		// notion of taskID/GroupID/GroupSize attached.
		if err := ch.Send(ctx, taskID, i, n); err != nil {
			ch.Close()
			for _, opened := range channels[:i] {
				opened.Close()
			}
			return nil, mferrors.NewRemoteCallError("runtime: remote handshake send", err)
		}
		channels[i] = ch
	}
	return channels, nil
}

// HandleRemote is the accept-side counterpart of spawnRemoteGroup: wired
// to a transport.Node's OnOpen callback (see transport.Serve), it reads
// the handshake off ch and dispatches to the matching registered task
// exactly the way SpawnGroup's local goroutine dispatch does.
func (tm *TaskManager) HandleRemote(ch Channel) {
	ctx := context.Background()
	msg, err := ch.Recv(ctx)
	if err != nil {
		tm.log.Warn("remote handshake failed", "err", err.Error())
		ch.Close()
		return
	}
	taskID, groupID, groupSize, ok := parseHandshake(msg)
	if !ok {
		tm.log.Warn("remote handshake: malformed payload")
		ch.Close()
		return
	}

	fnVal, ok := tm.registry.Load(taskID)
	if !ok {
		tm.log.Warn("remote handshake: unknown task id", "task_id", taskID)
		ch.Close()
		return
	}
	fn := fnVal.(TaskFunc)
	info := TaskInfo{GroupID: groupID, GroupSize: groupSize}

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				tm.log.Error(fmt.Errorf("%v", r), "remote task panicked", "task_id", taskID, "group_id", groupID)
				ch.Close()
			}
		}()
		if err := fn(ctx, ch, info); err != nil {
			tm.log.Warn("remote task returned error", "task_id", taskID, "group_id", groupID, "err", err.Error())
		}
	}()
}

func parseHandshake(msg Msg) (taskID string, groupID, groupSize int, ok bool) {
	if len(msg.Values) != 3 {
		return "", 0, 0, false
	}
	taskID, ok1 := msg.Values[0].(string)
	groupID, ok2 := msg.Values[1].(int)
	groupSize, ok3 := msg.Values[2].(int)
	if !ok1 || !ok2 || !ok3 {
		return "", 0, 0, false
	}
	return taskID, groupID, groupSize, true
}
