package screenflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileStageLogger writes one newline-delimited JSON file per thread under a
// directory. Appends are synced before LogStage returns.
type FileStageLogger struct {
	directory string
	mutex     sync.Mutex
}

func NewFileStageLogger(directory string) *FileStageLogger {
	return &FileStageLogger{directory: directory}
}

func (l *FileStageLogger) path(threadID string) string {
	return filepath.Join(l.directory, url.PathEscape(threadID)+".jsonl")
}

// GetStageHistory returns the logged attempts of a thread in order. A thread
// with no log has no history. A partial last line, left by a crash during an
// append, is skipped.
func (l *FileStageLogger) GetStageHistory(ctx context.Context, threadID string) ([]*StageLogEntry, error) {
	data, err := os.ReadFile(l.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	complete := bytes.HasSuffix(data, []byte("\n"))
	var entries []*StageLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry StageLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			if !complete && bytes.HasSuffix(data, scanner.Bytes()) {
				break
			}
			return nil, fmt.Errorf("stage log %s line %d: %w", threadID, lineNo, err)
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (l *FileStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := os.MkdirAll(l.directory, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path(entry.ThreadID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
