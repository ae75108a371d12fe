package orchestrator

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// sequentialDecisiveScore is the score above which a sequential ensemble
// member is treated as decisively good enough to stop trying further
// candidates, per spec.md §4.4.
const sequentialDecisiveScore = 8.0

// sequentialBorderlineFloor is the lower bound of the borderline band
// ([sequentialBorderlineFloor, sequentialDecisiveScore]) within which a
// sequential run keeps every collected member in play for a median
// resolution rather than just taking the best score outright.
const sequentialBorderlineFloor = 4.0

// MemberRunner generates and validates one ensemble member against a
// single model. Generator and Validator are wired in through this
// interface so EnsembleCoordinator stays agnostic of backend transport.
type MemberRunner func(ctx context.Context, model domain.Model) (domain.AttemptMember, error)

// EnsembleCoordinator runs one or more models against the same prompt and
// reconciles their output into a single EnsembleResult, per spec.md §4.4.
// Parallel strategies reuse the teacher's wave-of-goroutines shape from
// internal/application/executor/engine.go (executeWave: a semaphore sized
// to MaxParallelNodes, one goroutine per member, a WaitGroup barrier)
// rather than an errgroup, since the teacher's codebase never imports
// errgroup even though it needs the identical fan-out/fan-in shape.
type EnsembleCoordinator struct {
	maxParallel int
}

// NewEnsembleCoordinator returns a coordinator that runs at most
// maxParallel members concurrently under the parallel/pessimistic/
// optimistic/adaptive strategies.
func NewEnsembleCoordinator(maxParallel int) *EnsembleCoordinator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &EnsembleCoordinator{maxParallel: maxParallel}
}

// Run executes strategy over models using runner, returning the
// reconciled EnsembleResult. iteration and maxIterations (0-based
// current iteration and the job's total budget) only matter for
// EnsembleAdaptive, which resolves to a concrete strategy based on how
// far the job has burned through its budget; every other strategy
// ignores them. The returned result always reports the strategy the
// caller actually requested, even when adaptive resolved to something
// else underneath.
func (c *EnsembleCoordinator) Run(ctx context.Context, strategy domain.EnsembleStrategy, models []domain.Model, iteration, maxIterations int, runner MemberRunner) (domain.EnsembleResult, error) {
	if len(models) == 0 {
		return domain.EnsembleResult{}, domain.NewDomainError(domain.ErrCodeNoCandidate, "ensemble received no candidate models", nil)
	}
	if !strategy.IsValid() {
		strategy = domain.EnsembleSingle
	}

	dispatch := strategy
	if dispatch == domain.EnsembleAdaptive {
		dispatch = resolveAdaptive(iteration, maxIterations, len(models))
	}

	var result domain.EnsembleResult
	var err error
	switch dispatch {
	case domain.EnsembleSequential:
		result, err = c.runSequential(ctx, dispatch, models, runner)
	case domain.EnsembleSpecialized:
		// Specialized delegates the single highest-ranked model for the
		// requested category; by the time models reaches here the caller
		// (ModelSelector's category filter and success-rate ranking) has
		// already narrowed and ordered the candidate list, so specialized
		// behaves like single over that narrowed list.
		result, err = c.runSingle(ctx, models[0], runner)
	case domain.EnsemblePessimistic, domain.EnsembleOptimistic, domain.EnsembleParallel:
		result, err = c.runParallel(ctx, dispatch, models, runner)
	default:
		result, err = c.runSingle(ctx, models[0], runner)
	}
	if err != nil {
		return domain.EnsembleResult{}, err
	}
	result.Strategy = strategy
	return result, nil
}

// resolveAdaptive maps the adaptive strategy onto a concrete one by how
// far the job has burned through its iteration budget, per spec.md
// §4.4: iterations below 70% of the budget run single to conserve VRAM,
// from 70% on they escalate to a sequential second opinion, and the final iteration
// spends a full parallel ensemble. Degrades to single whenever fewer
// than two candidate models are actually available.
func resolveAdaptive(iteration, maxIterations, available int) domain.EnsembleStrategy {
	if available < 2 {
		return domain.EnsembleSingle
	}
	ratio := 1.0
	if maxIterations > 0 {
		ratio = float64(iteration+1) / float64(maxIterations)
	}
	switch {
	case ratio >= 1.0:
		return domain.EnsembleParallel
	case ratio >= 0.7:
		return domain.EnsembleSequential
	default:
		return domain.EnsembleSingle
	}
}

func (c *EnsembleCoordinator) runSingle(ctx context.Context, model domain.Model, runner MemberRunner) (domain.EnsembleResult, error) {
	member, err := runner(ctx, model)
	if err != nil {
		return domain.EnsembleResult{}, err
	}
	return domain.EnsembleResult{
		Strategy:   domain.EnsembleSingle,
		Files:      member.Files,
		Score:      member.Score,
		Issues:     member.Result.Issues,
		Confidence: 1.0,
		Members:    []domain.AttemptMember{member},
	}, nil
}

// runSequential tries models in order, stopping early only once a
// member clears sequentialDecisiveScore. If every member that ran
// landed in the borderline band ([sequentialBorderlineFloor,
// sequentialDecisiveScore]), the final choice is the median-scoring
// member rather than whichever came last; otherwise it's the
// best-scoring member seen. Grounded in the teacher's fail-fast
// sequential fallback (engine.go's executeSequential) for the "try the
// next candidate only if the prior one didn't pan out" shape.
func (c *EnsembleCoordinator) runSequential(ctx context.Context, strategy domain.EnsembleStrategy, models []domain.Model, runner MemberRunner) (domain.EnsembleResult, error) {
	var members []domain.AttemptMember
	for _, m := range models {
		member, err := runner(ctx, m)
		if err != nil {
			continue
		}
		members = append(members, member)
		if member.Score > sequentialDecisiveScore {
			break
		}
	}
	if len(members) == 0 {
		return domain.EnsembleResult{}, domain.NewDomainError(domain.ErrCodeModelsExhausted, "every sequential ensemble member failed", nil)
	}

	chosen := sequentialChoice(members)
	return domain.EnsembleResult{
		Strategy:   strategy,
		Files:      chosen.Files,
		Score:      chosen.Score,
		Issues:     chosen.Result.Issues,
		Confidence: confidence(members),
		Members:    members,
	}, nil
}

// sequentialChoice resolves runSequential's final member: a decisive
// last member wins outright, a single member wins by default, an
// all-borderline run settles on the median (ties toward the
// earlier-tried, already-warmer candidate), and anything else falls
// back to the best score seen.
func sequentialChoice(members []domain.AttemptMember) domain.AttemptMember {
	last := members[len(members)-1]
	if len(members) == 1 || last.Score > sequentialDecisiveScore {
		return last
	}

	allBorderline := true
	for _, m := range members {
		if m.Score < sequentialBorderlineFloor || m.Score > sequentialDecisiveScore {
			allBorderline = false
			break
		}
	}
	if allBorderline {
		return medianMember(members)
	}
	return bestMember(members)
}

// medianMember returns the member at the middle score rank, breaking
// ties (including the even-count case) toward the earlier-appearing
// candidate.
func medianMember(members []domain.AttemptMember) domain.AttemptMember {
	type ranked struct {
		member domain.AttemptMember
		idx    int
	}
	sorted := make([]ranked, len(members))
	for i, m := range members {
		sorted[i] = ranked{member: m, idx: i}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].member.Score != sorted[j].member.Score {
			return sorted[i].member.Score < sorted[j].member.Score
		}
		return sorted[i].idx < sorted[j].idx
	})
	return sorted[(len(sorted)-1)/2].member
}

// runParallel fans members out across a bounded semaphore, the same
// wave-execution shape as engine.go's executeWave, then reconciles by
// strategy per spec.md §4.4: parallel settles on the mean score,
// pessimistic on the minimum, optimistic on the maximum, with the
// reported file set coming from whichever member's score produced that
// aggregate. An issue is retained in the reconciled result only when at
// least two members independently reported a matching {kind, file,
// line} (spec.md §4.4's cross-member corroboration rule).
func (c *EnsembleCoordinator) runParallel(ctx context.Context, strategy domain.EnsembleStrategy, models []domain.Model, runner MemberRunner) (domain.EnsembleResult, error) {
	sem := make(chan struct{}, c.maxParallel)
	var wg sync.WaitGroup
	members := make([]domain.AttemptMember, len(models))
	errs := make([]error, len(models))

	for i, m := range models {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, m domain.Model) {
			defer wg.Done()
			defer func() { <-sem }()
			member, err := runner(ctx, m)
			members[i] = member
			errs[i] = err
		}(i, m)
	}
	wg.Wait()

	var ok []domain.AttemptMember
	for i, err := range errs {
		if err == nil {
			ok = append(ok, members[i])
		}
	}
	if len(ok) == 0 {
		return domain.EnsembleResult{}, domain.NewDomainError(domain.ErrCodeModelsExhausted, "every parallel ensemble member failed", nil)
	}

	score, representative := aggregateScore(strategy, ok)
	return domain.EnsembleResult{
		Strategy:   strategy,
		Files:      representative.Files,
		Score:      score,
		Issues:     aggregateIssues(ok),
		Confidence: confidence(ok),
		Members:    ok,
	}, nil
}

// aggregateScore reconciles members' scores per spec.md §4.4 and
// returns the member whose score produced that aggregate, so its file
// set can stand in for the ensemble's output.
func aggregateScore(strategy domain.EnsembleStrategy, members []domain.AttemptMember) (float64, domain.AttemptMember) {
	scores := make([]float64, len(members))
	for i, m := range members {
		scores[i] = m.Score
	}
	switch strategy {
	case domain.EnsemblePessimistic:
		idx := extremeIndex(scores, false)
		return scores[idx], members[idx]
	case domain.EnsembleOptimistic:
		idx := extremeIndex(scores, true)
		return scores[idx], members[idx]
	default: // parallel
		mean := meanOf(scores)
		idx := closestIndex(scores, mean)
		return mean, members[idx]
	}
}

// aggregateIssues keeps only the issues at least two members
// independently reported at the same {kind, file, line}, preserving the
// order in which each was first seen.
func aggregateIssues(members []domain.AttemptMember) []domain.ValidationIssue {
	type key struct {
		kind domain.IssueKind
		file string
		line int
	}
	counts := make(map[key]int)
	first := make(map[key]domain.ValidationIssue)
	var order []key

	for _, m := range members {
		seenInMember := make(map[key]bool)
		for _, issue := range m.Result.Issues {
			k := key{kind: issue.Kind, file: issue.File, line: issue.Line}
			if seenInMember[k] {
				continue
			}
			seenInMember[k] = true
			if counts[k] == 0 {
				order = append(order, k)
				first[k] = issue
			}
			counts[k]++
		}
	}

	var out []domain.ValidationIssue
	for _, k := range order {
		if counts[k] >= 2 {
			out = append(out, first[k])
		}
	}
	return out
}

func bestMember(members []domain.AttemptMember) domain.AttemptMember {
	best := members[0]
	for _, m := range members[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	return best
}

// confidence implements spec.md §3/§9(2): a single member is always
// fully confident (Open Question 2); with more than one, confidence is
// 1 minus the members' score standard deviation normalized against the
// 0-10 scale's half-range, clamped to [0, 1].
func confidence(members []domain.AttemptMember) float64 {
	if len(members) == 1 {
		return 1.0
	}
	scores := make([]float64, len(members))
	for i, m := range members {
		scores[i] = m.Score
	}
	mean := meanOf(scores)
	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(scores))
	stddev := math.Sqrt(variance)

	conf := 1.0 - stddev/5.0
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func meanOf(scores []float64) float64 {
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// extremeIndex returns the index of the highest score when max is true,
// the lowest otherwise.
func extremeIndex(scores []float64, max bool) int {
	idx := 0
	for i, s := range scores {
		if max && s > scores[idx] {
			idx = i
		}
		if !max && s < scores[idx] {
			idx = i
		}
	}
	return idx
}

// closestIndex returns the index of the score nearest target.
func closestIndex(scores []float64, target float64) int {
	idx := 0
	best := math.Abs(scores[0] - target)
	for i, s := range scores[1:] {
		d := math.Abs(s - target)
		if d < best {
			best = d
			idx = i + 1
		}
	}
	return idx
}
