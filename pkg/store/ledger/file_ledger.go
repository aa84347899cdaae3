package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
)

// FileLedger persists entries as JSON lines in an append-only file and serves
// reads from memory. Each append is fsynced before it becomes visible.
type FileLedger struct {
	*MemoryLedger
	path string
	file *os.File
}

func NewFileLedger(path string, keys crypto.SignVerifier) (*FileLedger, error) {
	return NewFileLedgerWithClock(path, keys, time.Now)
}

func NewFileLedgerWithClock(path string, keys crypto.SignVerifier, clock func() time.Time) (*FileLedger, error) {
	entries, err := loadEntries(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	fl := &FileLedger{
		MemoryLedger: NewMemoryLedger(keys).WithClock(clock),
		path:         path,
		file:         file,
	}
	fl.entries = entries
	fl.persist = fl.writeLine
	return fl, nil
}

// loadEntries reads every line of path. Integrity is not checked here; call
// VerifyChain for that. A line that does not decode is an error.
func loadEntries(path string) ([]Entry, error) {
	entries := make([]Entry, 0)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil // Start empty
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("ledger file %s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger file: %w", err)
	}
	return entries, nil
}

func (f *FileLedger) writeLine(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	b = append(b, '\n')
	if _, err := f.file.Write(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}
	return nil
}

// Path returns the backing file.
func (f *FileLedger) Path() string {
	return f.path
}

func (f *FileLedger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

var _ Store = (*FileLedger)(nil)
