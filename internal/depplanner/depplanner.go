// Package depplanner computes, from a set of non-terminal Tasks, which
// tasks are ready to run, which are stuck in a dependency cycle, and how
// the ready set should be batched for execution: serial chains that must
// run in one shared workspace, and a parallel batch bounded by worker
// capacity (CORE SPEC §4.D).
//
// The cycle-detection and topological-ordering idioms here are adapted
// from the teacher's wave-based dependency graph (three-color DFS,
// Kahn's-algorithm-style degree tracking), generalized from numeric task
// numbers to TaskId dependency sets and extended with serial-chain
// extraction, which the teacher's wave model does not need because it
// always runs a wave in parallel.
package depplanner

import (
	"sort"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
)

// Cycle is an ordered dependency cycle a -> b -> ... -> a.
type Cycle []ids.TaskId

// Plan is the result of planning one scheduling round over a task set.
type Plan struct {
	// Ready is every task id eligible to run this round (ready set minus
	// anything consumed into a Chain), in no particular order.
	Ready []ids.TaskId
	// Chains are maximal serial dependency chains that must execute inside
	// one shared workspace (CORE SPEC §4.D.3). Each chain's head is
	// already in the ready set; the rest become ready as predecessors
	// finish.
	Chains [][]ids.TaskId
	// Parallel is the tie-broken, maxWorkers-bounded subset of Ready (with
	// chain heads included as a single slot each) selected to start this
	// round (CORE SPEC §4.D.4-5).
	Parallel []ids.TaskId
	// Cycles lists every dependency cycle found among the input tasks
	// (CORE SPEC §4.D.2). Tasks appearing in any cycle are excluded from
	// Ready/Chains/Parallel.
	Cycles []Cycle
}

func isResolved(state models.TaskState) bool {
	return state == models.TaskDone || state == models.TaskSkipped
}

// ReadySet returns the ids of tasks that are READY and whose every
// dependency resolves to DONE or SKIPPED within tasks (CORE SPEC §4.D.1).
// A dependency that isn't present in tasks at all (already pruned, or
// never existed) makes the task unrunnable, not ready.
func ReadySet(tasks []models.Task) []ids.TaskId {
	byId := indexById(tasks)
	var ready []ids.TaskId
	for _, t := range tasks {
		if t.State != models.TaskReady {
			continue
		}
		if allDepsResolved(t, byId) {
			ready = append(ready, t.Id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

func allDepsResolved(t models.Task, byId map[ids.TaskId]models.Task) bool {
	for _, dep := range t.DependencyList() {
		d, ok := byId[dep]
		if !ok || !isResolved(d.State) {
			return false
		}
	}
	return true
}

func indexById(tasks []models.Task) map[ids.TaskId]models.Task {
	m := make(map[ids.TaskId]models.Task, len(tasks))
	for _, t := range tasks {
		m[t.Id] = t
	}
	return m
}

// DetectCycles runs a three-color DFS over tasks' dependency edges
// (dependency -> dependent) and reports every cycle found as an ordered
// path a -> b -> ... -> a (CORE SPEC §4.D.2).
func DetectCycles(tasks []models.Task) []Cycle {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	byId := indexById(tasks)
	dependents := buildDependents(tasks)
	color := make(map[ids.TaskId]int, len(tasks))
	for id := range byId {
		color[id] = white
	}

	var cycles []Cycle
	var stack []ids.TaskId

	var dfs func(node ids.TaskId)
	dfs = func(node ids.TaskId) {
		color[node] = gray
		stack = append(stack, node)

		next := append([]ids.TaskId(nil), dependents[node]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, neighbor := range next {
			switch color[neighbor] {
			case gray:
				cycles = append(cycles, extractCycle(stack, neighbor))
			case white:
				dfs(neighbor)
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
	}

	allIds := make([]ids.TaskId, 0, len(byId))
	for id := range byId {
		allIds = append(allIds, id)
	}
	sort.Slice(allIds, func(i, j int) bool { return allIds[i] < allIds[j] })
	for _, id := range allIds {
		if color[id] == white {
			dfs(id)
		}
	}
	return cycles
}

// extractCycle builds the ordered path a -> b -> ... -> a from the point in
// stack where target first appears, through the end of stack, back to
// target.
func extractCycle(stack []ids.TaskId, target ids.TaskId) Cycle {
	start := 0
	for i, id := range stack {
		if id == target {
			start = i
			break
		}
	}
	cycle := append(Cycle(nil), stack[start:]...)
	cycle = append(cycle, target)
	return cycle
}

// buildDependents inverts Dependencies: for each task, which tasks in the
// same set depend on it (dependency -> dependents edge direction, matching
// CORE SPEC §4.D.2's "a -> b -> ... -> a" orientation where an edge points
// from a prerequisite to what depends on it).
func buildDependents(tasks []models.Task) map[ids.TaskId][]ids.TaskId {
	dependents := make(map[ids.TaskId][]ids.TaskId)
	for _, t := range tasks {
		for _, dep := range t.DependencyList() {
			dependents[dep] = append(dependents[dep], t.Id)
		}
	}
	return dependents
}

// cycledTasks returns the set of task ids that appear in any cycle.
func cycledTasks(cycles []Cycle) map[ids.TaskId]struct{} {
	set := make(map[ids.TaskId]struct{})
	for _, c := range cycles {
		for _, id := range c {
			set[id] = struct{}{}
		}
	}
	return set
}

// Plan computes a full scheduling round: cycle detection, ready set,
// serial-chain extraction, and a parallel batch bounded by maxWorkers
// (CORE SPEC §4.D).
func Plan(tasks []models.Task, maxWorkers int) Plan {
	cycles := DetectCycles(tasks)
	cycled := cycledTasks(cycles)

	var runnable []models.Task
	for _, t := range tasks {
		if _, stuck := cycled[t.Id]; !stuck {
			runnable = append(runnable, t)
		}
	}

	ready := ReadySet(runnable)
	dependents := buildDependents(runnable)
	byId := indexById(runnable)

	chains, chainHeads := extractSerialChains(ready, runnable, byId, dependents)

	var loneReady []ids.TaskId
	inChain := make(map[ids.TaskId]struct{}, len(chainHeads))
	for _, h := range chainHeads {
		inChain[h] = struct{}{}
	}
	for _, id := range ready {
		if _, ok := inChain[id]; !ok {
			loneReady = append(loneReady, id)
		}
	}

	candidates := append(append([]ids.TaskId(nil), chainHeads...), loneReady...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	parallel := candidates
	if maxWorkers >= 0 && len(parallel) > maxWorkers {
		parallel = parallel[:maxWorkers]
	}

	return Plan{
		Ready:    ready,
		Chains:   chains,
		Parallel: parallel,
		Cycles:   cycles,
	}
}

// extractSerialChains finds every maximal serial chain rooted at a ready
// task (CORE SPEC §4.D.3: each t_i has exactly one dependent in T that is
// t_i+1, and t_i+1 depends only on t_i among ready-or-pending tasks).
// Chains of length 1 (no forced successor) are not reported as chains;
// their head stays in the lone-ready set.
func extractSerialChains(ready []ids.TaskId, all []models.Task, byId map[ids.TaskId]models.Task, dependents map[ids.TaskId][]ids.TaskId) (chains [][]ids.TaskId, heads []ids.TaskId) {
	nonTerminal := make(map[ids.TaskId]struct{}, len(all))
	for _, t := range all {
		if !t.State.IsTerminal() {
			nonTerminal[t.Id] = struct{}{}
		}
	}

	for _, head := range ready {
		chain := []ids.TaskId{head}
		current := head
		for {
			next, ok := soleForcedSuccessor(current, byId, dependents, nonTerminal)
			if !ok {
				break
			}
			chain = append(chain, next)
			current = next
		}
		if len(chain) > 1 {
			chains = append(chains, chain)
			heads = append(heads, head)
		}
	}
	return chains, heads
}

// soleForcedSuccessor returns the single dependent of current within the
// non-terminal set, provided that dependent's only non-terminal dependency
// is current (i.e., it cannot become ready any other way), and current has
// exactly one such dependent.
func soleForcedSuccessor(current ids.TaskId, byId map[ids.TaskId]models.Task, dependents map[ids.TaskId][]ids.TaskId, nonTerminal map[ids.TaskId]struct{}) (ids.TaskId, bool) {
	deps := dependents[current]
	var candidates []ids.TaskId
	for _, d := range deps {
		if _, ok := nonTerminal[d]; ok {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) != 1 {
		return "", false
	}
	successor := candidates[0]
	succTask, ok := byId[successor]
	if !ok {
		return "", false
	}
	for _, dep := range succTask.DependencyList() {
		if _, ok := nonTerminal[dep]; ok && dep != current {
			return "", false
		}
	}
	return successor, true
}
