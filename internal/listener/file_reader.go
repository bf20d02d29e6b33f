package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// fileState is the JSON document written by the memory-engine bridge.
type fileState struct {
	GlobalState
	Players []PlayerState `json:"players"`
}

// FileReader reads game state from a JSON document that an external
// memory-reading process rewrites in place.
//
// A missing file reads as an empty game, so the listener can start before
// the bridge has written anything.
type FileReader struct {
	path string
}

// NewFileReader returns a reader for the document at path.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// Path returns the document location.
func (r *FileReader) Path() string {
	return r.path
}

func (r *FileReader) read() (fileState, error) {
	var st fileState
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse state file %s: %w", r.path, err)
	}
	return st, nil
}

func (r *FileReader) ReadGlobal(ctx context.Context) (GlobalState, error) {
	st, err := r.read()
	if err != nil {
		return GlobalState{}, err
	}
	return st.GlobalState, nil
}

func (r *FileReader) ReadPlayers(ctx context.Context) ([]PlayerState, error) {
	st, err := r.read()
	if err != nil {
		return nil, err
	}
	return st.Players, nil
}
