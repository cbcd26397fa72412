package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/overseer/internal/group"
)

// SaveGroup upserts a full group snapshot, reflection state included.
// Persistence is last-writer-wins by design: every save overwrites the row.
func (s *Store) SaveGroup(ctx context.Context, g *group.Group) error {
	var reflection []byte
	if g.Reflection != nil {
		var err error
		reflection, err = json.Marshal(g.Reflection)
		if err != nil {
			return fmt.Errorf("marshal reflection state: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO groups (id, name, is_multi_agent, mode, orchestrator_prompt, reflection_state, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_multi_agent = EXCLUDED.is_multi_agent,
			mode = EXCLUDED.mode,
			orchestrator_prompt = EXCLUDED.orchestrator_prompt,
			reflection_state = EXCLUDED.reflection_state,
			sort_order = EXCLUDED.sort_order,
			updated_at = NOW()`,
		g.ID, g.Name, g.IsMultiAgent, string(g.Mode), g.OrchestratorPrompt,
		reflection, g.SortOrder, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save group %s: %w", g.ID, err)
	}
	return nil
}

// DeleteGroup removes a group row. Member rows are untouched: role and
// preferred model must survive group deletion for the reconciliation guard.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	return nil
}

// SaveMember upserts a member snapshot.
func (s *Store) SaveMember(ctx context.Context, m *group.MemberMeta) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO group_members (session_name, group_id, role, preferred_model, pinned, sort_order, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (session_name) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			role = EXCLUDED.role,
			preferred_model = EXCLUDED.preferred_model,
			pinned = EXCLUDED.pinned,
			sort_order = EXCLUDED.sort_order,
			updated_at = NOW()`,
		m.SessionName, m.GroupID, string(m.Role), m.PreferredModel, m.Pinned, m.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("save member %s: %w", m.SessionName, err)
	}
	return nil
}

// DeleteMember removes a member row.
func (s *Store) DeleteMember(ctx context.Context, sessionName string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM group_members WHERE session_name = $1`, sessionName)
	if err != nil {
		return fmt.Errorf("delete member %s: %w", sessionName, err)
	}
	return nil
}

// LoadGroups returns every persisted group.
func (s *Store) LoadGroups(ctx context.Context) ([]*group.Group, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, is_multi_agent, mode, orchestrator_prompt, reflection_state, sort_order, created_at
		FROM groups ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	var groups []*group.Group
	for rows.Next() {
		var g group.Group
		var mode string
		var reflection []byte
		var created time.Time
		if err := rows.Scan(&g.ID, &g.Name, &g.IsMultiAgent, &mode,
			&g.OrchestratorPrompt, &reflection, &g.SortOrder, &created); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Mode = group.Mode(mode)
		g.CreatedAt = created
		if len(reflection) > 0 {
			var rs group.ReflectionState
			if err := json.Unmarshal(reflection, &rs); err != nil {
				return nil, fmt.Errorf("unmarshal reflection for group %s: %w", g.ID, err)
			}
			g.Reflection = &rs
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// LoadMembers returns every persisted member record, including orphans whose
// group has been deleted.
func (s *Store) LoadMembers(ctx context.Context) ([]*group.MemberMeta, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_name, group_id, role, preferred_model, pinned, sort_order
		FROM group_members ORDER BY sort_order, session_name`)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var members []*group.MemberMeta
	for rows.Next() {
		var m group.MemberMeta
		var role string
		if err := rows.Scan(&m.SessionName, &m.GroupID, &role,
			&m.PreferredModel, &m.Pinned, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = group.Role(role)
		members = append(members, &m)
	}
	return members, rows.Err()
}

// LoadInto restores all persisted groups and members into the registry.
func (s *Store) LoadInto(ctx context.Context, r *group.Registry) error {
	groups, err := s.LoadGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		r.Restore(g)
	}
	members, err := s.LoadMembers(ctx)
	if err != nil {
		return err
	}
	for _, m := range members {
		r.RestoreMember(m)
	}
	s.logger.Info("group state loaded")
	return nil
}
