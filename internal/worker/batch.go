package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/markface/internal/model"
)

// CandidateVerifier verifies one candidate reference against a fixed ownership record
type CandidateVerifier interface {
	VerifyCandidate(ctx context.Context, candidate string) (*model.Verdict, error)
}

// VerifyJob verifies a single candidate
type VerifyJob struct {
	Index     int
	Candidate string
	Verifier  CandidateVerifier
}

// Execute executes the verification
func (j *VerifyJob) Execute(ctx context.Context) Result {
	verdict, err := j.Verifier.VerifyCandidate(ctx, j.Candidate)
	return &VerifyResult{
		Index:     j.Index,
		Candidate: j.Candidate,
		Verdict:   verdict,
		Error:     err,
	}
}

// VerifyResult is the outcome for one candidate. Exactly one of Verdict and Error is set.
type VerifyResult struct {
	Index     int // Position in the input list
	Candidate string
	Verdict   *model.Verdict
	Error     error
}

// GetError returns the error from the verification
func (r *VerifyResult) GetError() error {
	return r.Error
}

// BatchProcessor verifies many candidates concurrently. A failing
// candidate never affects the others.
type BatchProcessor struct {
	verifier    CandidateVerifier
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(verifier CandidateVerifier, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		verifier:    verifier,
		concurrency: concurrency,
	}
}

// ProcessCandidates verifies every candidate; results follow input order
func (b *BatchProcessor) ProcessCandidates(ctx context.Context, candidates []string) []*VerifyResult {
	if len(candidates) == 0 {
		return []*VerifyResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, c := range candidates {
		pool.Submit(&VerifyJob{
			Index:     i,
			Candidate: c,
			Verifier:  b.verifier,
		})
	}

	results := pool.Wait()

	out := make([]*VerifyResult, len(candidates))
	for _, r := range results {
		vr := r.(*VerifyResult)
		out[vr.Index] = vr
	}
	// Jobs dropped by cancellation still get an entry
	for i := range out {
		if out[i] != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		out[i] = &VerifyResult{Index: i, Candidate: candidates[i], Error: err}
	}

	return out
}

// ProcessFile reads candidates from a file and verifies them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*VerifyResult, error) {
	candidates, err := ReadCandidatesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}

	return b.ProcessCandidates(ctx, candidates), nil
}

// ReadCandidatesFromFile reads candidate references, one per line.
// Blank lines and # comments are skipped; duplicates are dropped.
func ReadCandidatesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var candidates []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			candidates = append(candidates, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return candidates, nil
}
