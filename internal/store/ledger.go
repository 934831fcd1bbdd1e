// Package store persists the rented-number ledger. The ledger is a single
// JSON file rewritten wholesale on every mutation; write volume is a handful
// of records per run, so a database would be dead weight here.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"

	"github.com/sirupsen/logrus"
)

// Ledger is the file-backed record of rented numbers. Readers reload the file
// on every call; writers serialize through a lock file plus an in-process
// mutex-equivalent (the lock file covers concurrent processes sharing the
// same ledger path).
type Ledger struct {
	path         string
	reuseWindow  time.Duration
	averagePrice float64
	logger       *logrus.Logger

	// now is swapped out by tests.
	now func() time.Time
}

func NewLedger(cfg *config.LedgerConfig, logger *logrus.Logger) *Ledger {
	return &Ledger{
		path:         cfg.Path,
		reuseWindow:  cfg.Window(),
		averagePrice: cfg.AveragePrice,
		logger:       logger,
		now:          time.Now,
	}
}

// AddNumber inserts a new record or, when the number already exists, unions
// the service in, bumps the reuse counter and refreshes last_used.
func (l *Ledger) AddNumber(phoneNumber, countryCode, activationID, service string) error {
	unlock, err := l.lock()
	if err != nil {
		return err
	}
	defer unlock()

	records := l.load()
	now := l.now()

	updated := false
	for i := range records {
		if records[i].Number != phoneNumber {
			continue
		}
		if !records[i].HasService(service) {
			records[i].Services = append(records[i].Services, service)
		}
		records[i].TimesUsed++
		records[i].LastUsed = now
		records[i].ActivationID = activationID
		updated = true
		break
	}

	if !updated {
		records = append(records, models.PhoneRecord{
			Number:       phoneNumber,
			CountryCode:  countryCode,
			ActivationID: activationID,
			Services:     []string{service},
			FirstUsed:    now,
			LastUsed:     now,
			TimesUsed:    1,
		})
	}

	if err := l.persist(records); err != nil {
		return err
	}

	l.logger.Infof("Ledger updated: number %s now covers %s", phoneNumber, service)
	return nil
}

// ReusableNumber returns the most recently used non-stale record that has not
// yet served the given service, or nil when none qualifies.
func (l *Ledger) ReusableNumber(service string) (*models.PhoneRecord, error) {
	records := l.load()
	now := l.now()

	var candidates []models.PhoneRecord
	for _, rec := range records {
		if rec.IsStale(now, l.reuseWindow) {
			continue
		}
		if rec.HasService(service) {
			continue
		}
		candidates = append(candidates, rec)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastUsed.After(candidates[j].LastUsed)
	})

	rec := candidates[0]
	return &rec, nil
}

// RemoveNumber hard-deletes a record; reports whether it existed. Records are
// otherwise never deleted automatically, stale ones stay for statistics.
func (l *Ledger) RemoveNumber(phoneNumber string) (bool, error) {
	unlock, err := l.lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	records := l.load()
	kept := records[:0]
	removed := false
	for _, rec := range records {
		if rec.Number == phoneNumber {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}

	if !removed {
		return false, nil
	}

	if err := l.persist(kept); err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the ledger. Estimated savings approximate purchases
// avoided through reuse at the configured average number price.
func (l *Ledger) Stats() models.LedgerStats {
	records := l.load()
	now := l.now()

	stats := models.LedgerStats{TotalNumbers: len(records)}
	for _, rec := range records {
		if !rec.IsStale(now, l.reuseWindow) {
			stats.ActiveNumbers++
		}
		if rec.TimesUsed > 1 {
			stats.TotalReuses += rec.TimesUsed - 1
		}
	}
	stats.EstimatedSavings = float64(stats.TotalReuses) * l.averagePrice

	return stats
}

// Records returns the full ledger contents, newest first.
func (l *Ledger) Records() []models.PhoneRecord {
	records := l.load()
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastUsed.After(records[j].LastUsed)
	})
	return records
}

// load reads the full ledger, self-healing a missing or corrupt file to an
// empty one.
func (l *Ledger) load() []models.PhoneRecord {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warnf("Failed to read ledger %s, starting empty: %v", l.path, err)
		}
		return nil
	}

	var records []models.PhoneRecord
	if err := json.Unmarshal(data, &records); err != nil {
		l.logger.Warnf("Ledger %s is corrupt, starting empty: %v", l.path, err)
		return nil
	}

	return records
}

// persist rewrites the ledger atomically via temp file and rename.
func (l *Ledger) persist(records []models.PhoneRecord) error {
	if records == nil {
		records = []models.PhoneRecord{}
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}

	return nil
}

// lock takes the cross-process write lock. A lock file older than a minute is
// treated as abandoned by a dead writer and taken over.
func (l *Ledger) lock() (func(), error) {
	lockPath := l.path + ".lock"

	if dir := filepath.Dir(lockPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	deadline := l.now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > time.Minute {
				l.logger.Warnf("Taking over stale ledger lock %s", lockPath)
				os.Remove(lockPath)
				continue
			}
		}

		if l.now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for ledger lock %s", lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
