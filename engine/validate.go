package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// Input is what a validation rule inspects before a fit.
type Input struct {
	Y        []float64
	Datasets []Dataset
	Config   Config
}

// ValidationRule checks one property of a fit input.
type ValidationRule func(in *Input) error

// Validator runs a chain of rules and reports every failure at once.
type Validator struct {
	rules []ValidationRule
	mu    sync.RWMutex
}

// NewValidator creates a validator with the default rules.
func NewValidator() *Validator {
	v := &Validator{rules: make([]ValidationRule, 0)}
	v.addDefaultRules()
	return v
}

// AddRule registers a validation rule.
func (v *Validator) AddRule(rule ValidationRule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, rule)
}

// Validate runs every rule and joins their errors under ErrInvalidInput.
func (v *Validator) Validate(in *Input) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var errs []error
	for _, rule := range v.rules {
		if err := rule(in); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(errs...))
}

func (v *Validator) addDefaultRules() {
	v.rules = append(v.rules,
		requireDatasets,
		knownOptions,
		matchingRows,
		enoughObservations,
		finiteValues,
		varyingResponse,
		hierarchiesMatch,
		interactionsNeedPairs,
	)
}

func requireDatasets(in *Input) error {
	if len(in.Datasets) == 0 {
		return errors.New("at least one dataset is required")
	}
	for i, ds := range in.Datasets {
		if ds.X == nil {
			return fmt.Errorf("dataset %d has no predictor matrix", i)
		}
		if _, p := ds.X.Dims(); p == 0 {
			return fmt.Errorf("dataset %d has no variables", i)
		}
	}
	return nil
}

func knownOptions(in *Input) error {
	var errs []error
	if _, err := ParseSelection(string(in.Config.Selection)); err != nil {
		errs = append(errs, err)
	}
	if _, err := penalized.ParseChoice(string(in.Config.Choice)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseCompression(string(in.Config.Compression)); err != nil {
		errs = append(errs, err)
	}
	for _, ds := range in.Datasets {
		if _, err := ParseCompression(string(ds.Compression)); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := hierarchy.ParseDistance(string(in.Config.Hierarchy.Distance)); err != nil {
		errs = append(errs, err)
	}
	if _, err := hierarchy.ParseLinkage(string(in.Config.Hierarchy.Linkage)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func matchingRows(in *Input) error {
	for i, ds := range in.Datasets {
		if ds.X == nil {
			continue
		}
		if n, _ := ds.X.Dims(); n != len(in.Y) {
			return fmt.Errorf("dataset %d has %d rows, response has %d", i, n, len(in.Y))
		}
	}
	return nil
}

func enoughObservations(in *Input) error {
	folds := in.Config.CV.Folds
	if in.Config.CV.FoldIDs != nil {
		if len(in.Config.CV.FoldIDs) != len(in.Y) {
			return fmt.Errorf("%d fold ids for %d observations", len(in.Config.CV.FoldIDs), len(in.Y))
		}
		return nil
	}
	if folds < 2 {
		return fmt.Errorf("%w: got %d", penalized.ErrInvalidFolds, folds)
	}
	if len(in.Y) < folds {
		return fmt.Errorf("%d observations cannot fill %d folds", len(in.Y), folds)
	}
	return nil
}

func finiteValues(in *Input) error {
	for i, v := range in.Y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("response value %d is not finite", i)
		}
	}
	for d, ds := range in.Datasets {
		if ds.X == nil {
			continue
		}
		n, p := ds.X.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				if v := ds.X.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("dataset %d value (%d, %d) is not finite", d, i, j)
				}
			}
		}
	}
	return nil
}

func varyingResponse(in *Input) error {
	for _, v := range in.Y {
		if v != in.Y[0] {
			return nil
		}
	}
	return errors.New("response is constant")
}

func hierarchiesMatch(in *Input) error {
	for i, ds := range in.Datasets {
		if ds.X == nil {
			continue
		}
		_, p := ds.X.Dims()
		if ds.Hierarchy != nil && ds.Hierarchy.Leaves != p {
			return fmt.Errorf("dataset %d hierarchy has %d leaves for %d variables", i, ds.Hierarchy.Leaves, p)
		}
		if ds.VariableNames != nil && len(ds.VariableNames) != p {
			return fmt.Errorf("dataset %d has %d names for %d variables", i, len(ds.VariableNames), p)
		}
	}
	return nil
}

func interactionsNeedPairs(in *Input) error {
	if !in.Config.MainEffects && len(in.Datasets) < 2 {
		return errors.New("an interaction-only model needs at least two datasets")
	}
	return nil
}
