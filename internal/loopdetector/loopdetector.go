// Package loopdetector tracks, per step name, an iteration counter and a
// bounded window of recent response fingerprints, flagging runaway
// iteration, near-duplicate responses, and repeating transition patterns
// (CORE SPEC §4.E).
//
// The normalize/keyword/Jaccard-similarity idiom is adapted from the
// teacher's duplicate-task detector (internal/pattern/hash.go), which
// already performs lowercase/punctuation-stripped/stopword-filtered
// keyword extraction and Jaccard comparison for a different purpose (task
// dedup rather than loop detection). The fingerprint window itself uses a
// bounded LRU rather than the teacher's unbounded keyword cache, since
// CORE SPEC requires a fixed-size moving window, not an ever-growing one.
package loopdetector

import (
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ResultKind is the kind of LoopDetectionResult.
type ResultKind string

const (
	ResultOK                   ResultKind = "ok"
	ResultStepIterationExceeded ResultKind = "step_iteration_exceeded"
	ResultSimilarResponse       ResultKind = "similar_response"
	ResultTransitionPattern     ResultKind = "transition_pattern"
)

// Result is the outcome of a loop-detector check (CORE SPEC §4.E).
type Result struct {
	Kind        ResultKind
	Step        string
	Iterations  int
	Max         int
	Similarity  float64
	Occurrences int
}

// ActionKind is the kind of remedial Action a Result maps to.
type ActionKind string

const (
	ActionOK             ActionKind = "ok"
	ActionAbort          ActionKind = "abort"
	ActionEscalate       ActionKind = "escalate"
	ActionForceContinue  ActionKind = "force_continue"
	ActionRetryWithHint  ActionKind = "retry_with_hint"
)

// Action is the remedial action a caller should take in response to a
// Result (CORE SPEC §4.E).
type Action struct {
	Kind    ActionKind
	Reason  string
	Target  string
	Warning string
	Hint    string
}

// Thresholds configures the detector (CORE SPEC §6 flat config struct).
type Thresholds struct {
	SimilarityThreshold float64
	FingerprintWindow   int
	MaxStepIterations   int
}

// DefaultThresholds returns the spec's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{SimilarityThreshold: 0.9, FingerprintWindow: 64, MaxStepIterations: 20}
}

type fingerprint struct {
	keywords []string
}

type stepState struct {
	iterations   int
	fingerprints *lru.Cache[int, fingerprint]
	nextSeq      int
}

type transitionKey struct {
	from, to string
}

// Detector tracks loop-detection state across the steps of one execution
// (e.g. one Leader Execution Loop run or one Worker attempt chain).
type Detector struct {
	thresholds  Thresholds
	steps       map[string]*stepState
	transitions map[transitionKey]int
}

// New returns a Detector configured with thresholds.
func New(thresholds Thresholds) *Detector {
	return &Detector{
		thresholds:  thresholds,
		steps:       make(map[string]*stepState),
		transitions: make(map[transitionKey]int),
	}
}

func (d *Detector) stepFor(step string) *stepState {
	s, ok := d.steps[step]
	if !ok {
		cache, _ := lru.New[int, fingerprint](d.thresholds.FingerprintWindow)
		s = &stepState{fingerprints: cache}
		d.steps[step] = s
	}
	return s
}

// RecordStepExecution increments step's iteration counter and reports
// step_iteration_exceeded once it passes MaxStepIterations.
func (d *Detector) RecordStepExecution(step string) Result {
	s := d.stepFor(step)
	s.iterations++
	if s.iterations > d.thresholds.MaxStepIterations {
		return Result{Kind: ResultStepIterationExceeded, Step: step, Iterations: s.iterations, Max: d.thresholds.MaxStepIterations}
	}
	return Result{Kind: ResultOK, Step: step, Iterations: s.iterations}
}

// RecordResponse compares text's fingerprint against step's fingerprint
// window; if any prior response in the window is similar above the
// configured threshold, it reports similar_response. Either way, text's
// fingerprint is added to the window.
func (d *Detector) RecordResponse(step string, text string) Result {
	s := d.stepFor(step)
	kw := extractKeywords(text)

	best := 0.0
	for _, key := range s.fingerprints.Keys() {
		prior, ok := s.fingerprints.Peek(key)
		if !ok {
			continue
		}
		sim := jaccardSimilarity(kw, prior.keywords)
		if sim > best {
			best = sim
		}
	}

	seq := s.nextSeq
	s.nextSeq++
	s.fingerprints.Add(seq, fingerprint{keywords: kw})

	if best > d.thresholds.SimilarityThreshold {
		return Result{Kind: ResultSimilarResponse, Step: step, Similarity: best}
	}
	return Result{Kind: ResultOK, Step: step, Similarity: best}
}

// RecordTransition tracks an observed (from,to) state transition and
// reports transition_pattern once the same transition repeats at least
// MaxStepIterations times, the same ceiling used for step iteration (CORE
// SPEC §4.E gives no separate threshold for transition patterns).
func (d *Detector) RecordTransition(from, to, reason string) Result {
	key := transitionKey{from: from, to: to}
	d.transitions[key]++
	occurrences := d.transitions[key]
	if occurrences > d.thresholds.MaxStepIterations {
		return Result{Kind: ResultTransitionPattern, Occurrences: occurrences}
	}
	return Result{Kind: ResultOK, Occurrences: occurrences}
}

// Decide maps a Result to the Action a caller should take (CORE SPEC §4.E
// output contract). ok/most similar_response cases force a retry with a
// hint; iteration and transition-pattern exhaustion abort or escalate.
func Decide(r Result) Action {
	switch r.Kind {
	case ResultStepIterationExceeded:
		return Action{Kind: ActionAbort, Reason: "step exceeded max iterations"}
	case ResultSimilarResponse:
		return Action{Kind: ActionRetryWithHint, Hint: "prior response was near-identical; try a different approach"}
	case ResultTransitionPattern:
		return Action{Kind: ActionEscalate, Target: "USER", Reason: "repeating state transition pattern detected"}
	default:
		return Action{Kind: ActionOK}
	}
}

var stopwords = buildStopwords()

func buildStopwords() map[string]struct{} {
	words := []string{
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can", "to", "of", "in",
		"for", "on", "with", "at", "by", "from", "as", "into", "through",
		"and", "but", "or", "nor", "so", "yet", "this", "that", "these",
		"those", "it", "its", "we", "you", "your", "he", "she", "they",
		"them", "their", "what", "all", "any", "some", "no", "none",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// extractKeywords lowercases, strips punctuation, removes stopwords, and
// returns a unique sorted keyword list for Jaccard comparison.
func extractKeywords(text string) []string {
	lower := strings.ToLower(text)
	var cleaned strings.Builder
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			cleaned.WriteRune(r)
		} else {
			cleaned.WriteRune(' ')
		}
	}
	words := strings.Fields(cleaned.String())
	seen := make(map[string]struct{}, len(words))
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}
	sort.Strings(keywords)
	return keywords
}

// jaccardSimilarity computes |A ∩ B| / |A ∪ B| over two keyword sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA)
	for w := range setB {
		if _, ok := setA[w]; !ok {
			union++
		}
	}
	return float64(intersection) / float64(union)
}
