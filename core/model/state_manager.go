// Package model provides the shared building blocks of dircal calibrators:
// fitted-state management, weight export and gob persistence.
package model

import (
	"sync"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

// StateManager tracks whether a calibrator is fitted and guards the swap of
// its fitted parameters. Writers hold the lock for the whole publish step,
// so readers never observe a half-written state.
type StateManager struct {
	Fitted bool // Public for gob encoding
	mu     sync.RWMutex

	// Shape seen during the last successful fit - Public for gob encoding
	NClasses int
	NSamples int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// GetDimensions returns the number of classes and samples of the last fit.
func (s *StateManager) GetDimensions() (nClasses, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NClasses, s.NSamples
}

// RequireFitted returns a NotFittedError naming modelName and method if the
// model has not been fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return scierrors.NewNotFittedError(modelName, method)
	}
	return nil
}

// ModelState is a snapshot of the fitted state for debugging and export.
type ModelState struct {
	Fitted   bool `json:"fitted"`
	NClasses int  `json:"n_classes,omitempty"`
	NSamples int  `json:"n_samples,omitempty"`
}

// GetState returns the current state as a ModelState struct.
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelState{
		Fitted:   s.Fitted,
		NClasses: s.NClasses,
		NSamples: s.NSamples,
	}
}

// Publish runs fn under the write lock and, if it succeeds, marks the model
// fitted with the given shape. A failing fn leaves the previous state as is.
func (s *StateManager) Publish(nClasses, nSamples int, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	s.Fitted = true
	s.NClasses = nClasses
	s.NSamples = nSamples
	return nil
}

// WithState executes fn with the state locked for reading.
func (s *StateManager) WithState(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}
