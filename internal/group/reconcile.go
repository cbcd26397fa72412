package group

import "go.uber.org/zap"

// DefaultGroupName is the group unclaimed sessions land in after a reload.
const DefaultGroupName = "Sessions"

// ReconciliationGuard re-derives group membership when session state is
// reloaded. Sessions with no metadata join the default group. Sessions that
// carry a durable multi-agent marker — orchestrator or evaluator role, or a
// preferred model — are never auto-reassigned, even when their originating
// group has been deleted. Without the guard, a background reload would
// scatter a deliberately assembled team across repository-derived groups.
type ReconciliationGuard struct {
	registry *Registry
	logger   *zap.Logger
}

// NewReconciliationGuard creates a guard over the given registry.
func NewReconciliationGuard(registry *Registry, logger *zap.Logger) *ReconciliationGuard {
	return &ReconciliationGuard{registry: registry, logger: logger}
}

// Reconcile folds the live session list into group membership. It returns the
// default group every unclaimed session was attached to.
func (rg *ReconciliationGuard) Reconcile(liveSessions []string) *Group {
	def := rg.defaultGroup()

	for _, name := range liveSessions {
		if _, ok := rg.registry.Member(name); ok {
			continue
		}
		if _, err := rg.registry.AddMember(def.ID, name, RoleWorker); err != nil {
			rg.logger.Warn("reconcile: attach failed", zap.String("session", name), zap.Error(err))
			continue
		}
		rg.logger.Info("reconcile: session attached to default group", zap.String("session", name))
	}

	// Members whose group vanished get re-homed, unless protected.
	for _, m := range rg.registry.AllMembers() {
		if _, ok := rg.registry.Get(m.GroupID); ok {
			continue
		}
		if Protected(m) {
			rg.logger.Info("reconcile: preserving team marker",
				zap.String("session", m.SessionName),
				zap.String("role", string(m.Role)),
				zap.String("model", m.PreferredModel))
			continue
		}
		if _, err := rg.registry.AddMember(def.ID, m.SessionName, RoleWorker); err != nil {
			rg.logger.Warn("reconcile: re-home failed", zap.String("session", m.SessionName), zap.Error(err))
		}
	}
	return def
}

// Protected reports whether a member carries a durable multi-agent marker
// and must not be auto-reassigned.
func Protected(m *MemberMeta) bool {
	return m.Role == RoleOrchestrator || m.Role == RoleEvaluator || m.PreferredModel != ""
}

func (rg *ReconciliationGuard) defaultGroup() *Group {
	for _, g := range rg.registry.List() {
		if g.Name == DefaultGroupName && !g.IsMultiAgent {
			return g
		}
	}
	return rg.registry.Create(DefaultGroupName, ModeBroadcast, false)
}
