// Package filestore saves run checkpoints as json files in a directory, one file per run.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autom8ter/foreach/errors"
	"github.com/samber/lo"
)

const ext = ".checkpoint.json"

type record struct {
	RunID   string    `json:"runId"`
	Token   string    `json:"token"`
	SavedAt time.Time `json:"savedAt"`
}

// Store is a foreach.Checkpointer writing to a directory
type Store struct {
	dir string
}

// New creates a store in dir. The directory is created on the first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, filepath.Base(runID)+ext)
}

func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (string, bool, error) {
	bits, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, errors.Internal, "failed to read checkpoint for run %s", runID)
	}
	var r record
	if err := json.Unmarshal(bits, &r); err != nil {
		return "", false, errors.Wrap(err, errors.Internal, "corrupt checkpoint for run %s", runID)
	}
	return r.Token, true, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, runID string, token string) error {
	bits, err := json.Marshal(record{RunID: runID, Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to encode checkpoint")
	}
	return WriteAtomic(s.path(runID), bits)
}

func (s *Store) ClearCheckpoint(ctx context.Context, runID string) error {
	if err := os.Remove(s.path(runID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.Internal, "failed to clear checkpoint for run %s", runID)
	}
	return nil
}

// Runs returns the ids of the runs with a saved checkpoint
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Internal, "failed to list checkpoints")
	}
	runs := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			return "", false
		}
		return strings.TrimSuffix(e.Name(), ext), true
	})
	sort.Strings(runs)
	return runs, nil
}

// WriteAtomic writes data to a temporary file and renames it over filePath, so a crash never leaves
// a partially written checkpoint
func WriteAtomic(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, errors.Internal, "failed to create directory %s", dir)
	}
	tmpPath := filePath + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to create temp file")
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.Internal, "failed to write temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.Internal, "failed to sync temp file")
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.Internal, "failed to close temp file")
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.Internal, "failed to rename temp file to %s", filePath)
	}
	return nil
}
