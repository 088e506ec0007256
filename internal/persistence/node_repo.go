package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/skobkin/sensornet/internal/domain"
)

// NodeRepo persists the gateway's node directory.
type NodeRepo struct {
	db *sql.DB
}

func NewNodeRepo(db *sql.DB) *NodeRepo {
	return &NodeRepo{db: db}
}

func (r *NodeRepo) Upsert(ctx context.Context, n domain.Node) error {
	var batteryLevel any
	if n.BatteryLevel != nil {
		batteryLevel = int64(*n.BatteryLevel)
	}
	sensors, err := marshalJSONNullable(n.Sensors)
	if err != nil {
		return fmt.Errorf("marshal sensors: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO nodes(node_id, presented, is_repeater, protocol_version, sketch_name, sketch_version, battery_level, last_hop, sensors_json, last_heard_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			presented = excluded.presented,
			is_repeater = excluded.is_repeater,
			protocol_version = excluded.protocol_version,
			sketch_name = excluded.sketch_name,
			sketch_version = excluded.sketch_version,
			battery_level = excluded.battery_level,
			last_hop = excluded.last_hop,
			sensors_json = excluded.sensors_json,
			last_heard_at = excluded.last_heard_at,
			updated_at = excluded.updated_at
	`, n.NodeID, boolInt(n.Presented), boolInt(n.IsRepeater), nullableString(n.ProtocolVersion),
		nullableString(n.SketchName), nullableString(n.SketchVersion), batteryLevel, n.LastHop, sensors,
		toUnixMillis(n.LastHeardAt), toUnixMillis(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}

	return nil
}

func (r *NodeRepo) ListSortedByLastHeard(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, presented, is_repeater, protocol_version, sketch_name, sketch_version, battery_level, last_hop, sensors_json, last_heard_at, updated_at
		FROM nodes
		ORDER BY last_heard_at DESC, node_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.Node
	for rows.Next() {
		var (
			n          domain.Node
			presented  int64
			repeater   int64
			protocol   sql.NullString
			sketchName sql.NullString
			sketchVer  sql.NullString
			battery    sql.NullInt64
			sensors    sql.NullString
			heardMs    int64
			updMs      int64
		)
		if err := rows.Scan(&n.NodeID, &presented, &repeater, &protocol, &sketchName, &sketchVer, &battery, &n.LastHop, &sensors, &heardMs, &updMs); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Presented = presented != 0
		n.IsRepeater = repeater != 0
		n.ProtocolVersion = protocol.String
		n.SketchName = sketchName.String
		n.SketchVersion = sketchVer.String
		if battery.Valid {
			// #nosec G115 -- battery levels are stored from a uint8.
			v := uint8(battery.Int64)
			n.BatteryLevel = &v
		}
		if sensors.Valid {
			if err := json.Unmarshal([]byte(sensors.String), &n.Sensors); err != nil {
				return nil, fmt.Errorf("decode sensors of node %d: %w", n.NodeID, err)
			}
		}
		n.LastHeardAt = fromUnixMillis(heardMs)
		n.UpdatedAt = fromUnixMillis(updMs)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	return out, nil
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}

	return 0
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}

	return v
}

func marshalJSONNullable(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" || string(raw) == "[]" {
		return nil, nil
	}

	return string(raw), nil
}
