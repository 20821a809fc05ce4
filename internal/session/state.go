package session

import (
	"media-annotator/internal/domain"
)

// State is the process-wide session: the loaded model and the entries
// processed with it. It is created once and owned by the interactive loop.
type State struct {
	Entries *Store

	detector  domain.Detector
	modelPath string
}

// NewState creates a state with no model loaded.
func NewState() *State {
	return &State{Entries: NewStore()}
}

// Initialize installs a freshly loaded detector and returns the previous one
// so the caller can release it.
func (s *State) Initialize(detector domain.Detector, modelPath string) domain.Detector {
	prev := s.detector
	s.detector = detector
	s.modelPath = modelPath
	return prev
}

// Detector returns the loaded detector or ErrModelUnavailable.
func (s *State) Detector() (domain.Detector, error) {
	if s.detector == nil {
		return nil, domain.ErrModelUnavailable
	}
	return s.detector, nil
}

// ModelPath returns the path of the loaded model.
func (s *State) ModelPath() string {
	return s.modelPath
}

// Reset clears all entries. The loaded model stays.
func (s *State) Reset() {
	s.Entries.Clear()
}
