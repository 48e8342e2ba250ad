package main

import (
	"context"
	"time"

	"fleetcommand/pkg/types"
)

// --- Core Loop ---

// tickWorld advances the command layer one step. Events go to the store as
// they are delivered; the ledger entry and periodic snapshot follow.
func tickWorld() {
	stateLock.Lock()
	defer stateLock.Unlock()

	var sink types.EventSink
	if db != nil {
		sink = db
	}
	events, err := fleetCmd.Tick(cfg.Sim.DeltaTime, sink)
	if err != nil {
		ErrorLog.Printf("tick %d: %v", fleetCmd.Ticks(), err)
		return
	}
	tick := fleetCmd.Ticks()
	if len(events) > 0 {
		InfoLog.Printf("tick %d: %d events", tick, len(events))
	}
	if db == nil {
		return
	}

	if l := fleetCmd.Ledger(); l != nil {
		if e, ok := l.Last(); ok && e.Tick == tick {
			if err := db.SaveLedgerEntry(e); err != nil {
				ErrorLog.Printf("ledger %d: %v", tick, err)
			}
		}
	}
	if cfg.Sim.SnapshotEvery > 0 && tick%uint64(cfg.Sim.SnapshotEvery) == 0 {
		snapshotWorld()
	}
}

// snapshotWorld persists the full command state. Callers hold stateLock.
func snapshotWorld() {
	state := fleetCmd.Export()
	hash, err := db.SaveSnapshot(state.Tick, state)
	if err != nil {
		ErrorLog.Printf("snapshot %d: %v", state.Tick, err)
		return
	}
	InfoLog.Printf("snapshot tick %d: %d fleets, hash %s", state.Tick, len(state.Fleets), hash)
	if cfg.Sim.SnapshotsKept > 0 {
		if _, err := db.PruneSnapshots(cfg.Sim.SnapshotsKept); err != nil {
			ErrorLog.Printf("prune snapshots: %v", err)
		}
	}
}

func runSimulation(ctx context.Context) {
	ticker := time.NewTicker(cfg.Sim.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickWorld()
		}
	}
}
