package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// loadFile reads a pool file. A missing file is not an error and returns
// nil.
func loadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &file, nil
}

// queuePersistLocked snapshots the pool state for the background writer.
// The caller holds p.mu; the file write itself happens off the lock.
func (p *Pool) queuePersistLocked() {
	if p.cfg.Path == "" {
		return
	}
	accounts := make([]*Account, len(p.accounts))
	for i, a := range p.accounts {
		copied := *a
		accounts[i] = &copied
	}
	data, err := json.MarshalIndent(File{
		Accounts:    accounts,
		Settings:    p.settings,
		ActiveIndex: p.index,
	}, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("encode account file")
		return
	}

	p.persistMu.Lock()
	p.pending = data
	p.persistMu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// persistWorker rewrites the pool file whenever a new snapshot is queued.
// Only the latest snapshot is written; intermediate ones are dropped.
func (p *Pool) persistWorker() {
	defer close(p.stopped)
	for {
		select {
		case <-p.kick:
			p.writePending()
		case <-p.done:
			p.writePending()
			return
		}
	}
}

func (p *Pool) writePending() {
	p.persistMu.Lock()
	data := p.pending
	p.pending = nil
	p.persistMu.Unlock()

	if data == nil {
		return
	}
	if err := writeAtomic(p.cfg.Path, data); err != nil {
		log.Error().Err(err).Str("path", p.cfg.Path).Msg("write account file")
	}
}

// writeAtomic replaces path via a temp file and rename so a crash never
// leaves a truncated pool file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
