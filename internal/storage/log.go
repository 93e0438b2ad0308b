package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"docbase/internal/document"
)

const (
	// tombstoneKey marks a record that deletes the referenced identifier.
	tombstoneKey = "$$delete"
	// numericIDKey records a high-water numeric identifier without deleting.
	numericIDKey = "$$id"

	// compactionFactor triggers compaction once the record count exceeds
	// this multiple of the live document count (stale ratio above 75%).
	compactionFactor = 4

	// maxLineSize bounds a single log record during replay.
	maxLineSize = 16 << 20
)

// Log is the append-only file backing one collection: one JSON record per
// line, replayed into memory on open, compacted by temp-file plus atomic
// rename once stale records dominate.
type Log struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	syncWrites bool

	records int
	liveIDs map[string]struct{}
}

// OpenLog replays the file at path and reopens it for appending. Malformed
// lines are skipped, not fatal: the log tolerates partial writes from a
// prior crash.
func OpenLog(path string, syncWrites bool) (*Log, *OpenResult, error) {
	result, records, err := replayFile(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file for append: %w", err)
	}

	l := &Log{
		path:       path,
		file:       file,
		writer:     bufio.NewWriter(file),
		syncWrites: syncWrites,
		records:    records,
		liveIDs:    make(map[string]struct{}, len(result.Docs)),
	}
	for id := range result.Docs {
		l.liveIDs[id] = struct{}{}
	}

	slog.Info("Collection log replayed", "path", path, "records", records, "live", len(result.Docs))
	return l, result, nil
}

// replayFile streams the log line by line and rebuilds the live document map
// in last-write-wins order.
func replayFile(path string) (*OpenResult, int, error) {
	result := &OpenResult{Docs: make(map[string]document.Document)}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open log file for replay: %w", err)
	}
	defer file.Close()

	var (
		records int
		skipped int
		order   []string
		seen    = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		records++

		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			skipped++
			continue
		}

		if id, ok := raw[tombstoneKey]; ok {
			if num, isNum := id.(float64); isNum && int64(num) > result.MaxNumericID {
				result.MaxNumericID = int64(num)
			}
			key := fmt.Sprintf("%v", id)
			delete(result.Docs, key)
			// A later reinsert of this identifier starts a fresh position
			// in the iteration order.
			delete(seen, key)
			continue
		}
		if num, ok := raw[numericIDKey].(float64); ok {
			if int64(num) > result.MaxNumericID {
				result.MaxNumericID = int64(num)
			}
			continue
		}

		doc, err := document.Deserialize(line)
		if err != nil {
			skipped++
			slog.Warn("Skipping unreadable log record", "path", path, "error", err)
			continue
		}
		id := document.ID(doc)
		if id == "" {
			skipped++
			continue
		}
		result.Docs[id] = doc
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			order = append(order, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan log file: %w", err)
	}

	// Keep each live identifier's latest position: a delete-then-reinsert
	// moves the document to the end of the iteration order.
	emitted := make(map[string]struct{}, len(result.Docs))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if _, live := result.Docs[id]; !live {
			continue
		}
		if _, dup := emitted[id]; dup {
			continue
		}
		emitted[id] = struct{}{}
		result.Order = append(result.Order, id)
	}
	for i, j := 0, len(result.Order)-1; i < j; i, j = i+1, j-1 {
		result.Order[i], result.Order[j] = result.Order[j], result.Order[i]
	}
	if skipped > 0 {
		slog.Warn("Log replay skipped malformed records", "path", path, "skipped", skipped)
	}
	return result, records, nil
}

// Append writes one document record and makes it durable.
func (l *Log) Append(doc document.Document) error {
	data, err := document.Serialize(doc)
	if err != nil {
		return err
	}
	if err := l.writeLine(data); err != nil {
		return err
	}
	l.records++
	if id := document.ID(doc); id != "" {
		l.liveIDs[id] = struct{}{}
	}
	return nil
}

// AppendTombstone records the deletion of an identifier.
func (l *Log) AppendTombstone(id string) error {
	data, err := json.Marshal(map[string]any{tombstoneKey: id})
	if err != nil {
		return fmt.Errorf("failed to serialize tombstone: %w", err)
	}
	if err := l.writeLine(data); err != nil {
		return err
	}
	l.records++
	delete(l.liveIDs, id)
	return nil
}

func (l *Log) writeLine(data []byte) error {
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write log record: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write log record terminator: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log writer: %w", err)
	}
	if l.syncWrites {
		return l.file.Sync()
	}
	return nil
}

// NeedsCompaction reports whether stale records dominate the file.
func (l *Log) NeedsCompaction() bool {
	return l.records > compactionFactor*len(l.liveIDs)
}

// Compact rewrites the log to contain only currently-live documents in their
// first-write order, via a temporary file and an atomic rename. Semantically
// transparent: replaying before and after yields the same map.
func (l *Log) Compact() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log before compaction: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log before compaction: %w", err)
	}

	result, _, err := replayFile(l.path)
	if err != nil {
		return err
	}

	tempPath := filepath.Join(filepath.Dir(l.path),
		fmt.Sprintf("%s.compact-%s.tmp", filepath.Base(l.path), uuid.NewString()))
	temp, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create compaction temp file: %w", err)
	}

	writer := bufio.NewWriter(temp)
	for _, id := range result.Order {
		data, err := document.Serialize(result.Docs[id])
		if err != nil {
			temp.Close()
			os.Remove(tempPath)
			return err
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			temp.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write compacted record: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush compacted log: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync compacted log: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close compacted log: %w", err)
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace log with compacted file: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen log after compaction: %w", err)
	}
	l.file = file
	l.writer.Reset(file)
	l.records = len(result.Docs)
	l.liveIDs = make(map[string]struct{}, len(result.Docs))
	for id := range result.Docs {
		l.liveIDs[id] = struct{}{}
	}

	slog.Info("Collection log compacted", "path", l.path, "live", len(result.Docs))
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to flush log on close: %w", err)
	}
	return l.file.Close()
}

// Path returns the log's file path.
func (l *Log) Path() string {
	return l.path
}
