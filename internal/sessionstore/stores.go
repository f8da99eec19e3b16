package sessionstore

import (
	"github.com/taskforge/taskforge/internal/models"
)

// NewPlanningStore returns the PlanningSession store rooted at
// `<coord>/planning-sessions/` (CORE SPEC §6).
func NewPlanningStore(coordDir string) (*Store[*models.PlanningSession], error) {
	return newStore[*models.PlanningSession](coordDir, "planning-sessions")
}

// NewPlannerStore returns the PlannerSession store rooted at
// `<coord>/planner-sessions/` (CORE SPEC §6).
func NewPlannerStore(coordDir string) (*Store[*models.PlannerSession], error) {
	return newStore[*models.PlannerSession](coordDir, "planner-sessions")
}

// NewLeaderStore returns the LeaderSession store rooted at
// `<coord>/leader-sessions/` (CORE SPEC §6).
func NewLeaderStore(coordDir string) (*Store[*models.LeaderSession], error) {
	return newStore[*models.LeaderSession](coordDir, "leader-sessions")
}

// NewExplorationStore returns the ExplorationSession store rooted at
// `<coord>/exploration-sessions/` (CORE SPEC §6).
func NewExplorationStore(coordDir string) (*Store[*models.ExplorationSession], error) {
	return newStore[*models.ExplorationSession](coordDir, "exploration-sessions")
}
