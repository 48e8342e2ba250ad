package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fleetcommand/pkg/core"
	"fleetcommand/pkg/journal"
	"fleetcommand/pkg/travel"
	"fleetcommand/pkg/types"
)

// --- Events ---

// EventRecord is a persisted event. The payload stays raw JSON because its
// concrete type depends on Type.
type EventRecord struct {
	Seq     uint64          `json:"seq"`
	Tick    uint64          `json:"tick"`
	Time    float64         `json:"time"`
	Kind    types.EventKind `json:"kind"`
	Type    types.EventType `json:"type"`
	FleetID types.FleetID   `json:"fleet_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Store) InsertEvent(ev types.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	_, err = s.db.Exec(s.Q(`INSERT INTO events (seq, tick, sim_time, kind, event_type, fleet_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		int64(ev.Seq), int64(ev.Tick), ev.Time, string(ev.Kind), string(ev.Type), string(ev.FleetID), string(payload))
	return err
}

// Emit makes the store an event sink. Write errors are logged, never raised
// into the tick.
func (s *Store) Emit(ev types.Event) {
	if err := s.InsertEvent(ev); err != nil {
		s.logFn("store: event %d: %v", ev.Seq, err)
	}
}

// ListEvents returns events after the given row cursor, oldest first. A
// non-empty fleetID filters to that fleet.
func (s *Store) ListEvents(afterSeq uint64, fleetID types.FleetID, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT seq, tick, sim_time, kind, event_type, fleet_id, payload FROM events WHERE seq > ?`
	args := []any{int64(afterSeq)}
	if fleetID != "" {
		query += ` AND fleet_id = ?`
		args = append(args, string(fleetID))
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(s.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r              EventRecord
			seq, tick      int64
			kind, typ, fid string
			payload        string
		)
		if err := rows.Scan(&seq, &tick, &r.Time, &kind, &typ, &fid, &payload); err != nil {
			return nil, err
		}
		r.Seq, r.Tick = uint64(seq), uint64(tick)
		r.Kind, r.Type, r.FleetID = types.EventKind(kind), types.EventType(typ), types.FleetID(fid)
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Ledger ---

func (s *Store) SaveLedgerEntry(e journal.Entry) error {
	_, err := s.db.Exec(s.Q(`INSERT INTO ledger (tick, sim_time, prev_hash, state_hash, final_hash, event_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tick) DO UPDATE SET sim_time = excluded.sim_time, prev_hash = excluded.prev_hash,
			state_hash = excluded.state_hash, final_hash = excluded.final_hash, event_count = excluded.event_count`),
		int64(e.Tick), e.SimTime, e.PrevHash, e.StateHash, e.FinalHash, e.EventCount)
	return err
}

func scanEntry(sc interface{ Scan(...any) error }) (journal.Entry, error) {
	var (
		e    journal.Entry
		tick int64
	)
	err := sc.Scan(&tick, &e.SimTime, &e.PrevHash, &e.StateHash, &e.FinalHash, &e.EventCount)
	e.Tick = uint64(tick)
	return e, err
}

// LedgerEntries returns entries from the given tick on, in tick order.
func (s *Store) LedgerEntries(fromTick uint64, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(s.Q(`SELECT tick, sim_time, prev_hash, state_hash, final_hash, event_count
		FROM ledger WHERE tick >= ? ORDER BY tick LIMIT ?`), int64(fromTick), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []journal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LatestLedgerEntry() (journal.Entry, bool, error) {
	row := s.db.QueryRow(`SELECT tick, sim_time, prev_hash, state_hash, final_hash, event_count
		FROM ledger ORDER BY tick DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Entry{}, false, nil
	}
	if err != nil {
		return journal.Entry{}, false, err
	}
	return e, true, nil
}

// --- Snapshots ---

// SaveSnapshot stores v as lz4-compressed JSON. The returned hash chains the
// compressed blob onto the previous snapshot's hash.
func (s *Store) SaveSnapshot(tick uint64, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	blob, err := core.Compress(raw)
	if err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	prev := journal.Genesis
	err = s.db.QueryRow(`SELECT final_hash FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	final := core.Hash(append(append([]byte(nil), blob...), prev...))

	_, err = s.db.Exec(s.Q(`INSERT INTO snapshots (tick, state_blob, raw_size, final_hash) VALUES (?, ?, ?, ?)
		ON CONFLICT (tick) DO UPDATE SET state_blob = excluded.state_blob, raw_size = excluded.raw_size,
			final_hash = excluded.final_hash`),
		int64(tick), blob, len(raw), final)
	if err != nil {
		return "", err
	}
	return final, nil
}

// LoadLatestSnapshot decodes the newest snapshot into v.
func (s *Store) LoadLatestSnapshot(v any) (uint64, bool, error) {
	var (
		tick int64
		blob []byte
		size int
	)
	err := s.db.QueryRow(`SELECT tick, state_blob, raw_size FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&tick, &blob, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	raw, err := core.Decompress(blob)
	if err != nil {
		return 0, false, fmt.Errorf("decompress snapshot %d: %w", tick, err)
	}
	if len(raw) != size {
		return 0, false, fmt.Errorf("snapshot %d: size %d, recorded %d", tick, len(raw), size)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return 0, false, fmt.Errorf("decode snapshot %d: %w", tick, err)
	}
	return uint64(tick), true, nil
}

// PruneSnapshots keeps the newest keep snapshots.
func (s *Store) PruneSnapshots(keep int) (int64, error) {
	res, err := s.db.Exec(s.Q(`DELETE FROM snapshots WHERE tick NOT IN
		(SELECT tick FROM snapshots ORDER BY tick DESC LIMIT ?)`), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Star chart ---

func (s *Store) UpsertSystem(sys travel.System) error {
	_, err := s.db.Exec(s.Q(`INSERT INTO solar_systems (id, name, x, y, z, cluster, lane) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, x = excluded.x, y = excluded.y, z = excluded.z,
			cluster = excluded.cluster, lane = excluded.lane`),
		string(sys.ID), sys.Name, sys.X, sys.Y, sys.Z, sys.Cluster, sys.Lane)
	return err
}

func (s *Store) Systems() ([]travel.System, error) {
	rows, err := s.db.Query(`SELECT id, name, x, y, z, cluster, lane FROM solar_systems ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []travel.System
	for rows.Next() {
		var (
			sys travel.System
			id  string
		)
		if err := rows.Scan(&id, &sys.Name, &sys.X, &sys.Y, &sys.Z, &sys.Cluster, &sys.Lane); err != nil {
			return nil, err
		}
		sys.ID = types.SystemID(id)
		out = append(out, sys)
	}
	return out, rows.Err()
}
