package deadstreams

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"m3u-catalog/work/catalog"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/prober"
	"m3u-catalog/work/types"
)

// DeadStreamEntry is one channel that failed its last reachability probe.
type DeadStreamEntry struct {
	ID          string `json:"id"`                   // Catalog id of the channel
	Channel     string `json:"channel"`              // Name of the channel
	URL         string `json:"url"`                  // URL that was probed
	Verdict     string `json:"verdict"`              // FAIL, TIMEOUT or ERROR
	StatusCode  int    `json:"statusCode,omitempty"` // HTTP status for FAIL verdicts
	Reason      string `json:"reason"`               // Status text or transport error
	FirstSeen   string `json:"firstSeen"`            // First run the stream was found dead
	LastChecked string `json:"lastChecked"`          // Most recent failing run
}

// DeadStreamsFile wraps the report for JSON serialization.
type DeadStreamsFile struct {
	GeneratedAt string            `json:"generatedAt"`
	Checked     int               `json:"checked"`
	DeadStreams []DeadStreamEntry `json:"deadStreams"`
}

// LoadDeadStreams loads the report at path. A missing or empty file yields
// an empty report. A corrupted file is moved aside and treated as empty.
func LoadDeadStreams(path string) (*DeadStreamsFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &DeadStreamsFile{DeadStreams: []DeadStreamEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dead streams file: %w", err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return &DeadStreamsFile{DeadStreams: []DeadStreamEntry{}}, nil
	}

	var deadStreams DeadStreamsFile
	if err := json.Unmarshal(data, &deadStreams); err != nil {
		backupPath := path + ".corrupted." + time.Now().Format("20060102-150405")
		if renameErr := os.Rename(path, backupPath); renameErr != nil {
			logger.Warn("{deadstreams/deadstreams - LoadDeadStreams} could not move corrupted report aside: %v", renameErr)
		} else {
			logger.Warn("{deadstreams/deadstreams - LoadDeadStreams} corrupted report moved to %s", backupPath)
		}
		return &DeadStreamsFile{DeadStreams: []DeadStreamEntry{}}, nil
	}

	if deadStreams.DeadStreams == nil {
		deadStreams.DeadStreams = []DeadStreamEntry{}
	}
	return &deadStreams, nil
}

// SaveDeadStreams writes the report to path as indented JSON.
func SaveDeadStreams(path string, deadStreams *DeadStreamsFile) error {
	data, err := json.MarshalIndent(deadStreams, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dead streams: %w", err)
	}
	return catalog.WriteFileAtomic(path, append(data, '\n'), 0644)
}

// Record folds a probe run into the report at path. Streams that failed
// are added or updated, keeping the time they were first seen dead;
// streams that now pass, or were not part of the run, are dropped.
func Record(path string, results []prober.Result, now time.Time) (*DeadStreamsFile, error) {
	previous, err := LoadDeadStreams(path)
	if err != nil {
		return nil, err
	}

	known := make(map[string]DeadStreamEntry, len(previous.DeadStreams))
	for _, entry := range previous.DeadStreams {
		known[entry.URL] = entry
	}

	stamp := now.UTC().Format(time.RFC3339)
	report := &DeadStreamsFile{
		GeneratedAt: stamp,
		Checked:     len(results),
		DeadStreams: []DeadStreamEntry{},
	}

	revived := 0
	for _, res := range results {
		old, wasDead := known[res.URL]
		if res.Verdict == types.VerdictOK {
			if wasDead {
				revived++
			}
			continue
		}

		entry := DeadStreamEntry{
			ID:          res.ID,
			Channel:     res.Name,
			URL:         res.URL,
			Verdict:     string(res.Verdict),
			StatusCode:  res.StatusCode,
			Reason:      res.Error,
			FirstSeen:   stamp,
			LastChecked: stamp,
		}
		if wasDead && old.FirstSeen != "" {
			entry.FirstSeen = old.FirstSeen
		}
		report.DeadStreams = append(report.DeadStreams, entry)
	}

	if err := SaveDeadStreams(path, report); err != nil {
		return nil, err
	}

	logger.Info("{deadstreams/deadstreams - Record} %d dead streams of %d checked (%d revived), report at %s",
		len(report.DeadStreams), report.Checked, revived, path)
	return report, nil
}
