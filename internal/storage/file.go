package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"joanabot/internal/conversation/history"
	logx "joanabot/pkg/logx"
)

// compactEvery bounds journal growth: after this many saves the journal is
// folded into the snapshot.
const compactEvery = 500

// fileStore keeps every history in memory and persists it as:
//   - <prefix>.history.snapshot.json (full map, replaced atomically)
//   - <prefix>.history.journal.jsonl (one full history per save)
//
// On open the snapshot is loaded and the journal replayed over it.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	m            map[string]*history.History
	order        map[string]int // first-seen order for ListSenders
	seq          int
	writes       int
}

type snapshotFile struct {
	Order     []string                    `json:"order"`
	Histories map[string]*history.History `json:"histories"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".history.snapshot.json",
		m:            map[string]*history.History{},
		order:        map[string]int{},
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	journalPath := prefix + ".history.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Info("file store opened", logx.String("path", s.snapshotPath), logx.Int("senders", len(s.m)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("final compact failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) LoadHistory(_ context.Context, sender string) (*history.History, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, ErrClosed
	}
	h, ok := s.m[sender]
	if !ok {
		return nil, false, nil
	}
	return h.Clone(), true, nil
}

func (s *fileStore) SaveHistory(_ context.Context, h *history.History) error {
	if h == nil || strings.TrimSpace(h.Sender) == "" {
		return errors.New("history without sender")
	}
	cp := h.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(cp); err != nil {
		return err
	}
	s.putLocked(cp)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListSenders(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.orderedLocked(), nil
}

func (s *fileStore) putLocked(h *history.History) {
	if _, ok := s.order[h.Sender]; !ok {
		s.seq++
		s.order[h.Sender] = s.seq
	}
	s.m[h.Sender] = h
}

func (s *fileStore) orderedLocked() []string {
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i]] < s.order[out[j]] })
	return out
}

// compactLocked writes the snapshot via temp file + rename, then truncates the journal.
func (s *fileStore) compactLocked() error {
	snap := snapshotFile{Order: s.orderedLocked(), Histories: s.m}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshotFile
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, sender := range snap.Order {
		if h := snap.Histories[sender]; h != nil {
			s.putLocked(h)
		}
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for sc.Scan() {
		var h history.History
		if err := json.Unmarshal(sc.Bytes(), &h); err != nil || h.Sender == "" {
			// A torn final line after a crash is expected.
			continue
		}
		s.putLocked(&h)
	}
	return sc.Err()
}
