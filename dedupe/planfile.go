package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/olegkotsar/dupesweep/fsutil"
	"github.com/olegkotsar/dupesweep/model"
)

// ErrInvalidPlan reports a plan artifact that does not hold together.
var ErrInvalidPlan = errors.New("invalid deletion plan")

// WritePlan stores the plan as indented JSON, replacing path atomically.
func WritePlan(ctx context.Context, path string, plan *model.DeletionPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := fsutil.WriteFileAtomic(ctx, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing plan %s: %w", path, err)
	}
	return nil
}

// ReadPlan loads a plan artifact and checks it with ValidatePlan.
func ReadPlan(path string) (*model.DeletionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	var plan model.DeletionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan %s: %w", path, err)
	}
	if err := ValidatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ValidatePlan checks that the ID matches the candidate paths, that the
// reclaimable bytes equal the candidate sizes and that no path is both
// deleted and kept.
func ValidatePlan(plan *model.DeletionPlan) error {
	if id := model.PlanID(plan.Candidates); plan.ID != id {
		return fmt.Errorf("%w: id %q does not match candidates (%q)", ErrInvalidPlan, plan.ID, id)
	}

	seen := make(map[string]struct{}, len(plan.Candidates))
	keepers := make(map[string]struct{})
	var total int64
	for _, c := range plan.Candidates {
		if c.Path == "" {
			return fmt.Errorf("%w: empty candidate path", ErrInvalidPlan)
		}
		if _, dup := seen[c.Path]; dup {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidPlan, c.Path)
		}
		seen[c.Path] = struct{}{}
		if c.Keeper != "" {
			keepers[c.Keeper] = struct{}{}
		}
		total += c.SizeBytes
	}
	for k := range keepers {
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: keeper %s is also a delete candidate", ErrInvalidPlan, k)
		}
	}
	if total != plan.ReclaimableBytes {
		return fmt.Errorf("%w: reclaimable_bytes %d, candidates sum to %d", ErrInvalidPlan, plan.ReclaimableBytes, total)
	}
	return nil
}
