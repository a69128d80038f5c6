package statefile

import (
	"encoding/json"
	"os"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/herderr"
)

// WriteSession atomically writes sessions/<agent>.json (spec §6.1).
func (s *Store) WriteSession(agent string, sess domain.Session) error {
	path, err := s.SessionPath(agent)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(&sess, "", "  ")
	if err != nil {
		return &herderr.StateFileError{Path: path, Cause: err}
	}
	if err := atomicWrite(path, data, 0o600); err != nil {
		return &herderr.StateFileError{Path: path, Cause: err}
	}
	return nil
}

// ReadSession reads sessions/<agent>.json. A missing file is not an error;
// it returns ok=false.
func (s *Store) ReadSession(agent string) (sess domain.Session, ok bool, err error) {
	path, err := s.SessionPath(agent)
	if err != nil {
		return domain.Session{}, false, err
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, &herderr.StateFileError{Path: path, Cause: readErr}
	}
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domain.Session{}, false, &herderr.StateFileError{Path: path, Cause: unmarshalErr}
	}
	return sess, true, nil
}
