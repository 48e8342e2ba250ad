package journal

import (
	"errors"
	"fmt"
	"strconv"

	"fleetcommand/pkg/core"
)

const Genesis = "GENESIS"

var ErrBrokenChain = errors.New("ledger chain broken")

// Entry stamps one tick. FinalHash chains the state hash onto the previous
// entry, so replaying the same inputs must reproduce the same chain.
type Entry struct {
	Tick       uint64  `json:"tick"`
	SimTime    float64 `json:"sim_time"`
	PrevHash   string  `json:"prev_hash"`
	StateHash  string  `json:"state_hash"`
	FinalHash  string  `json:"final_hash"`
	EventCount int     `json:"event_count"`
}

func seal(prev string, tick uint64, simTime float64, stateHash string, events int) string {
	return core.HashParts(prev,
		strconv.FormatUint(tick, 10),
		strconv.FormatFloat(simTime, 'g', -1, 64),
		stateHash,
		strconv.Itoa(events))
}

// Ledger keeps the most recent entries in memory. Older entries are only
// reachable through a store.
type Ledger struct {
	entries []Entry
	limit   int
	head    string
}

func NewLedger(limit int) *Ledger {
	return &Ledger{limit: limit, head: Genesis}
}

// Append hashes state and chains a new entry onto the head.
func (l *Ledger) Append(tick uint64, simTime float64, state any, events int) (Entry, error) {
	stateHash, _, err := core.HashJSON(state)
	if err != nil {
		return Entry{}, fmt.Errorf("hash tick %d: %w", tick, err)
	}
	e := Entry{
		Tick:       tick,
		SimTime:    simTime,
		PrevHash:   l.head,
		StateHash:  stateHash,
		EventCount: events,
	}
	e.FinalHash = seal(e.PrevHash, e.Tick, e.SimTime, e.StateHash, e.EventCount)
	l.head = e.FinalHash
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = append(l.entries[:0:0], l.entries[len(l.entries)-l.limit:]...)
	}
	return e, nil
}

// Head is the final hash of the newest entry, or Genesis.
func (l *Ledger) Head() string { return l.head }

// Resume continues the chain from a previously persisted head.
func (l *Ledger) Resume(head string) {
	l.entries = nil
	l.head = head
	if l.head == "" {
		l.head = Genesis
	}
}

// Last returns the newest entry still held in memory.
func (l *Ledger) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

func (l *Ledger) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Verify checks that every entry seals correctly and links to its predecessor.
func Verify(entries []Entry) error {
	for i, e := range entries {
		if want := seal(e.PrevHash, e.Tick, e.SimTime, e.StateHash, e.EventCount); want != e.FinalHash {
			return fmt.Errorf("%w: tick %d seal mismatch", ErrBrokenChain, e.Tick)
		}
		if i > 0 && entries[i-1].FinalHash != e.PrevHash {
			return fmt.Errorf("%w: tick %d does not follow tick %d", ErrBrokenChain, e.Tick, entries[i-1].Tick)
		}
	}
	return nil
}
