package group

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persister writes full snapshots of groups and members to durable storage.
// Every save overwrites the previous snapshot; last writer wins.
type Persister interface {
	SaveGroup(ctx context.Context, g *Group) error
	SaveMember(ctx context.Context, m *MemberMeta) error
	DeleteGroup(ctx context.Context, id string) error
	DeleteMember(ctx context.Context, sessionName string) error
}

// Registry is the in-memory source of truth for groups and member metadata.
// A single coarse lock guards membership mutation; it is never held across
// a persister call or any other blocking operation.
type Registry struct {
	mu        sync.RWMutex
	groups    map[string]*Group
	members   map[string]*MemberMeta // keyed by session name
	persister Persister
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		groups:  make(map[string]*Group),
		members: make(map[string]*MemberMeta),
		logger:  logger,
	}
}

// SetPersister attaches durable storage. Mutations are persisted best-effort;
// a failed save is logged, not propagated, since memory stays authoritative
// while the process lives.
func (r *Registry) SetPersister(p Persister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persister = p
}

// Create registers a new group.
func (r *Registry) Create(name string, mode Mode, multiAgent bool) *Group {
	g := &Group{
		ID:           uuid.New().String(),
		Name:         name,
		IsMultiAgent: multiAgent,
		Mode:         mode,
		CreatedAt:    time.Now(),
	}
	r.mu.Lock()
	g.SortOrder = len(r.groups)
	r.groups[g.ID] = g
	r.mu.Unlock()

	r.logger.Info("group created",
		zap.String("group", g.ID),
		zap.String("name", name),
		zap.String("mode", string(mode)))
	r.persistGroup(g)
	return g
}

// Restore inserts a group loaded from storage without re-persisting it.
func (r *Registry) Restore(g *Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
}

// RestoreMember inserts member metadata loaded from storage.
func (r *Registry) RestoreMember(m *MemberMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.SessionName] = m
}

// Get returns a group by id.
func (r *Registry) Get(id string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// List returns snapshot copies of all groups ordered by sort order, then
// name. Copies keep callers from marshalling a reflection state the run loop
// is still writing.
func (r *Registry) List() []*Group {
	r.mu.RLock()
	out := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, snapshotLocked(g))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Delete removes a group. Member metadata is deliberately retained: role and
// preferred model survive as the durable multi-agent markers.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	_, ok := r.groups[id]
	delete(r.groups, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Info("group deleted", zap.String("group", id))
	if p := r.currentPersister(); p != nil {
		if err := p.DeleteGroup(context.Background(), id); err != nil {
			r.logger.Warn("persist group delete failed", zap.String("group", id), zap.Error(err))
		}
	}
}

// AddMember attaches a session to a group. A session belongs to at most one
// group; re-adding moves it.
func (r *Registry) AddMember(groupID, sessionName string, role Role) (*MemberMeta, error) {
	r.mu.Lock()
	if _, ok := r.groups[groupID]; !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("group %s not found", groupID)
	}
	m, ok := r.members[sessionName]
	if !ok {
		m = &MemberMeta{SessionName: sessionName}
		r.members[sessionName] = m
	}
	m.GroupID = groupID
	m.Role = role
	m.SortOrder = r.memberCountLocked(groupID) - 1
	var demoted *MemberMeta
	if role == RoleOrchestrator {
		demoted = r.demoteOthersLocked(groupID, sessionName)
	}
	r.mu.Unlock()

	r.persistMember(m)
	if demoted != nil {
		r.persistMember(demoted)
	}
	return m, nil
}

// RemoveMember drops a session's metadata entirely.
func (r *Registry) RemoveMember(sessionName string) {
	r.mu.Lock()
	_, ok := r.members[sessionName]
	delete(r.members, sessionName)
	r.mu.Unlock()
	if !ok {
		return
	}
	if p := r.currentPersister(); p != nil {
		if err := p.DeleteMember(context.Background(), sessionName); err != nil {
			r.logger.Warn("persist member delete failed", zap.String("session", sessionName), zap.Error(err))
		}
	}
}

// Member returns metadata for a session.
func (r *Registry) Member(sessionName string) (*MemberMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[sessionName]
	return m, ok
}

// MembersOf returns a group's members: pinned first, then by sort order, then
// by name.
func (r *Registry) MembersOf(groupID string) []*MemberMeta {
	r.mu.RLock()
	var out []*MemberMeta
	for _, m := range r.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].SessionName < out[j].SessionName
	})
	return out
}

// AllMembers returns every member record, grouped or orphaned.
func (r *Registry) AllMembers() []*MemberMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MemberMeta, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Promote makes the named session the group's orchestrator, demoting any
// prior holder in the same pass so the group never holds two.
func (r *Registry) Promote(groupID, sessionName string) error {
	r.mu.Lock()
	m, ok := r.members[sessionName]
	if !ok || m.GroupID != groupID {
		r.mu.Unlock()
		return fmt.Errorf("session %s is not a member of group %s", sessionName, groupID)
	}
	m.Role = RoleOrchestrator
	demoted := r.demoteOthersLocked(groupID, sessionName)
	r.mu.Unlock()

	r.logger.Info("orchestrator promoted",
		zap.String("group", groupID),
		zap.String("session", sessionName))
	r.persistMember(m)
	if demoted != nil {
		r.persistMember(demoted)
	}
	return nil
}

// SetPreferredModel records a session's model preference.
func (r *Registry) SetPreferredModel(sessionName, model string) error {
	r.mu.Lock()
	m, ok := r.members[sessionName]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionName)
	}
	m.PreferredModel = model
	r.mu.Unlock()
	r.persistMember(m)
	return nil
}

// SaveReflection replaces a group's reflection state with a copy of rs and
// persists the group. The caller keeps sole ownership of rs; readers and the
// pause controls only ever see the stored copy. While the run is still active
// the stored pause flag wins: the control surface owns it, and a loop save
// made mid-iteration must not clobber a pause requested in the meantime. A
// terminal state overwrites it, since Finish already cleared the flag.
func (r *Registry) SaveReflection(groupID string, rs *ReflectionState) error {
	snap := rs.Clone()
	r.mu.Lock()
	g, ok := r.groups[groupID]
	var persistable *Group
	if ok {
		if prior := g.Reflection; prior != nil && snap.IsActive {
			snap.IsPaused = prior.IsPaused
		}
		g.Reflection = snap
		persistable = snapshotLocked(g)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("group %s not found", groupID)
	}
	r.persistGroup(persistable)
	return nil
}

// SetPaused flips the pause flag on a group's reflection state and persists
// it, so a pause survives a restart. This is the only writer of the flag
// besides Finish; the run loop reads it back through ReflectionSnapshot.
func (r *Registry) SetPaused(groupID string, paused bool) error {
	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok || g.Reflection == nil {
		r.mu.Unlock()
		return fmt.Errorf("group %s has no reflection state", groupID)
	}
	g.Reflection.IsPaused = paused
	persistable := snapshotLocked(g)
	r.mu.Unlock()

	r.logger.Info("reflection pause toggled",
		zap.String("group", groupID),
		zap.Bool("paused", paused))
	r.persistGroup(persistable)
	return nil
}

// ReflectionSnapshot returns a copy of a group's reflection state, safe to
// read and marshal while a run keeps mutating its own working state.
func (r *Registry) ReflectionSnapshot(groupID string) (*ReflectionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok || g.Reflection == nil {
		return nil, false
	}
	return g.Reflection.Clone(), true
}

// GroupSnapshot returns a copy of a group with its reflection state cloned.
func (r *Registry) GroupSnapshot(id string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, false
	}
	return snapshotLocked(g), true
}

// SetOrchestratorPrompt updates and persists a group's system prompt.
func (r *Registry) SetOrchestratorPrompt(groupID, prompt string) error {
	r.mu.Lock()
	g, ok := r.groups[groupID]
	var persistable *Group
	if ok {
		g.OrchestratorPrompt = prompt
		persistable = snapshotLocked(g)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("group %s not found", groupID)
	}
	r.persistGroup(persistable)
	return nil
}

// snapshotLocked copies a group under the registry lock. The reflection
// pointer is cloned so the copy can be serialized after the lock drops.
func snapshotLocked(g *Group) *Group {
	cp := *g
	if g.Reflection != nil {
		cp.Reflection = g.Reflection.Clone()
	}
	return &cp
}

func (r *Registry) memberCountLocked(groupID string) int {
	n := 0
	for _, m := range r.members {
		if m.GroupID == groupID {
			n++
		}
	}
	return n
}

// demoteOthersLocked demotes any other orchestrator in the group. At most one
// other can exist, so the first hit is returned for persistence.
func (r *Registry) demoteOthersLocked(groupID, keep string) *MemberMeta {
	for _, m := range r.members {
		if m.GroupID == groupID && m.SessionName != keep && m.Role == RoleOrchestrator {
			m.Role = RoleWorker
			return m
		}
	}
	return nil
}

func (r *Registry) currentPersister() Persister {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persister
}

func (r *Registry) persistGroup(g *Group) {
	if p := r.currentPersister(); p != nil {
		if err := p.SaveGroup(context.Background(), g); err != nil {
			r.logger.Warn("persist group failed", zap.String("group", g.ID), zap.Error(err))
		}
	}
}

func (r *Registry) persistMember(m *MemberMeta) {
	if p := r.currentPersister(); p != nil {
		if err := p.SaveMember(context.Background(), m); err != nil {
			r.logger.Warn("persist member failed", zap.String("session", m.SessionName), zap.Error(err))
		}
	}
}
