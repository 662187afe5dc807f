// Package consensusadapter is the boundary between the consensus
// collaborator (out of scope per spec.md §1 — voting semantics are not
// reimplemented here) and BucketManager.AddBatch. It demonstrates the
// contract spec.md requires of that collaborator: addBatch is driven
// exactly once per committed ledgerSeq, gated on ledgerSeq == lastClosed
// + 1. Grounded on the teacher's raftadapter (pkg/raftadapter/node.go):
// same Ready()-loop/ticker/applyEntry shape from go.etcd.io/etcd/raft/v3,
// with the command payload and apply step replaced to carry a ledger
// batch instead of a KV put/delete.
package consensusadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bucketnode/pkg/bucketmanager"
	"bucketnode/pkg/config"

	"github.com/google/uuid"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// Applier is the surface consensusadapter drives once an entry commits.
type Applier interface {
	AddBatch(ctx context.Context, ledgerSeq uint64, batch bucketmanager.Batch) (string, bucketmanager.SkipList, error)
}

// command is the raft log entry payload: one ledger-close proposal.
type command struct {
	ID        uuid.UUID           `json:"id"`
	LedgerSeq uint64               `json:"ledger_seq"`
	Batch     bucketmanager.Batch  `json:"batch"`
}

type proposalResult struct {
	BLHash   string
	SkipList bucketmanager.SkipList
	Err      error
}

// Adapter runs a raft group whose committed entries are ledger-close
// proposals; Propose blocks until its own proposal is committed and
// applied, then returns AddBatch's result. In a single-member group
// (the default; no peers.ID other than our own configured) this reduces
// to a local commit gate in front of AddBatch, which is sufficient to
// exercise the contract boundary without reimplementing multi-node
// voting or wire transport.
type Adapter struct {
	id    uint64
	node  raft.Node
	store *raft.MemoryStorage
	log   *slog.Logger

	tickInterval time.Duration

	applier Applier

	mu        sync.RWMutex
	proposals map[uuid.UUID]chan proposalResult
}

// New starts a raft node from cfg and returns an Adapter bound to
// applier. Call Run in a goroutine before proposing.
func New(cfg config.RaftConfig, applier Applier, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	storage := raft.NewMemoryStorage()
	raftCfg := &raft.Config{
		ID:                        cfg.ID,
		ElectionTick:              cfg.ElectionTick,
		HeartbeatTick:             cfg.HeartbeatTick,
		Storage:                   storage,
		MaxSizePerMsg:             cfg.MaxSizePerMsg,
		MaxCommittedSizePerReady:  cfg.MaxCommittedSizePerReady,
		MaxUncommittedEntriesSize: cfg.MaxUncommittedEntriesSize,
		MaxInflightMsgs:           cfg.MaxInflightMsgs,
		CheckQuorum:               cfg.CheckQuorum,
		PreVote:                   cfg.PreVote,
	}

	peers := []raft.Peer{{ID: cfg.ID}}
	for _, p := range cfg.Peers {
		if p.ID == cfg.ID {
			continue
		}
		peers = append(peers, raft.Peer{ID: p.ID, Context: []byte(p.Address)})
	}

	return &Adapter{
		id:           cfg.ID,
		node:         raft.StartNode(raftCfg, peers),
		store:        storage,
		log:          logger,
		tickInterval: 100 * time.Millisecond,
		applier:      applier,
		proposals:    make(map[uuid.UUID]chan proposalResult),
	}, nil
}

// Run drives the raft event loop until ctx is canceled. Messages
// addressed to other peers are logged and dropped: wiring a real
// transport is the out-of-scope "consensus collaborator" concern this
// adapter only exposes a contract boundary for.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.node.Stop()
			return ctx.Err()
		case <-ticker.C:
			a.node.Tick()
		case rd := <-a.node.Ready():
			if err := a.handleReady(ctx, rd); err != nil {
				return err
			}
		}
	}
}

func (a *Adapter) handleReady(ctx context.Context, rd raft.Ready) error {
	if err := a.store.Append(rd.Entries); err != nil {
		return fmt.Errorf("consensusadapter: append entries: %w", err)
	}

	for _, msg := range rd.Messages {
		if msg.To == a.id {
			continue
		}
		a.log.Debug("dropping raft message to unreachable peer (no transport wired)", "to", msg.To, "type", msg.Type)
	}

	for _, entry := range rd.CommittedEntries {
		if entry.Type != raftpb.EntryNormal || len(entry.Data) == 0 {
			continue
		}
		var cmd command
		if err := json.Unmarshal(entry.Data, &cmd); err != nil {
			a.log.Error("failed to unmarshal committed command", "error", err)
			continue
		}
		a.applyCommand(ctx, cmd)
	}

	a.node.Advance()
	return nil
}

func (a *Adapter) applyCommand(ctx context.Context, cmd command) {
	hash, skip, err := a.applier.AddBatch(ctx, cmd.LedgerSeq, cmd.Batch)
	a.notify(cmd.ID, proposalResult{BLHash: hash, SkipList: skip, Err: err})
}

func (a *Adapter) notify(id uuid.UUID, res proposalResult) {
	a.mu.RLock()
	ch, ok := a.proposals[id]
	a.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// Propose submits a ledger-close batch and blocks until it commits and
// applies (or ctx is canceled). It is the entry point for submitting one
// closed ledger's batch; cmd/bucketnode runs the adapter's Run loop but
// does not call Propose itself.
func (a *Adapter) Propose(ctx context.Context, ledgerSeq uint64, batch bucketmanager.Batch) (string, bucketmanager.SkipList, error) {
	cmd := command{ID: uuid.New(), LedgerSeq: ledgerSeq, Batch: batch}
	data, err := json.Marshal(cmd)
	if err != nil {
		return "", bucketmanager.SkipList{}, fmt.Errorf("consensusadapter: marshal proposal: %w", err)
	}

	resultCh := make(chan proposalResult, 1)
	a.mu.Lock()
	a.proposals[cmd.ID] = resultCh
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.proposals, cmd.ID)
		a.mu.Unlock()
	}()

	if err := a.node.Propose(ctx, data); err != nil {
		return "", bucketmanager.SkipList{}, fmt.Errorf("consensusadapter: propose: %w", err)
	}

	select {
	case res := <-resultCh:
		return res.BLHash, res.SkipList, res.Err
	case <-ctx.Done():
		return "", bucketmanager.SkipList{}, ctx.Err()
	}
}
