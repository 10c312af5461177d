package core

import "reservecore/pkg/domain"

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine returns the engine preloaded with the invariants the
// arbitration engine enforces on every commit.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewExclusiveHolderRule())
	engine.Register(NewDecisionFinalityRule())
	engine.Register(NewStalePendingRule())
	return engine
}
