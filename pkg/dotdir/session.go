package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/papercomputeco/relay/pkg/llm"
)

const (
	sessionFile = "session.json"
)

// SessionState is the persisted chat conversation.
type SessionState struct {
	// Model is the model the conversation was held with.
	Model string `json:"model"`

	// Messages is the conversation history in chronological order
	// (oldest first).
	Messages []llm.Message `json:"messages"`
}

// LoadSession reads session.json from the resolved directory. A missing file
// is nil, nil: there is no conversation to resume.
func (m *Manager) LoadSession(overrideDir string) (*SessionState, error) {
	path, err := m.Path(overrideDir, sessionFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}

	state := &SessionState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}

	return state, nil
}

// SaveSession writes state to session.json, readable only by the owner since
// conversations may hold private content.
func (m *Manager) SaveSession(state *SessionState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil session state")
	}

	path, err := m.Path(overrideDir, sessionFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}

	return nil
}

// ClearSession deletes session.json. Clearing twice is not an error.
func (m *Manager) ClearSession(overrideDir string) error {
	path, err := m.Path(overrideDir, sessionFile)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing session state: %w", err)
	}

	return nil
}
