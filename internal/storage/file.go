package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

const compactEvery = 500

// fileStore keeps two collections, each as a snapshot plus a journal:
//
//	<prefix>.reminders.snapshot.json / <prefix>.reminders.journal.jsonl
//	<prefix>.dedup.snapshot.json     / <prefix>.dedup.journal.jsonl
//
// A journal is folded into its snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	reminders *journal[ReminderRecord]
	dedup     *journal[int64] // unix milli
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

	rem, err := openJournal[ReminderRecord](prefix+".reminders", nil)
	if err != nil {
		return nil, err
	}
	notExpired := func(until int64) bool { return until >= time.Now().UnixMilli() }
	dd, err := openJournal[int64](prefix+".dedup", notExpired)
	if err != nil {
		_ = rem.close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("reminders", len(rem.data)), logx.Int("dedup", len(dd.data)))
	return &fileStore{log: log, reminders: rem, dedup: dd}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reminders == nil {
		return nil
	}
	err := errors.Join(s.reminders.compact(), s.dedup.compact(), s.reminders.close(), s.dedup.close())
	s.reminders, s.dedup = nil, nil
	return err
}

func (s *fileStore) PutReminder(_ context.Context, r ReminderRecord) error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("reminder name is empty")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reminders == nil {
		return ErrClosed
	}
	return s.write(s.reminders.put(r.Name, r), s.reminders)
}

func (s *fileStore) DeleteReminder(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reminders == nil {
		return ErrClosed
	}
	if _, ok := s.reminders.data[name]; !ok {
		return nil
	}
	return s.write(s.reminders.del(name), s.reminders)
}

func (s *fileStore) ListReminders(_ context.Context) ([]ReminderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reminders == nil {
		return nil, ErrClosed
	}
	out := make([]ReminderRecord, 0, len(s.reminders.data))
	for _, r := range s.reminders.data {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		return ErrClosed
	}
	return s.write(s.dedup.put(key, until.UnixMilli()), s.dedup)
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.dedup.data[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// write compacts j when due. A failed compaction only costs disk space.
func (s *fileStore) write(err error, j compacter) error {
	if err != nil {
		return err
	}
	if j.due() {
		if cerr := j.compact(); cerr != nil {
			s.log.Warn("storage compaction failed", logx.Err(cerr))
		}
	}
	return nil
}

type compacter interface {
	due() bool
	compact() error
}

// journal is a string-keyed map persisted as snapshot + append-only journal.
type journal[V any] struct {
	snapPath string
	f        *os.File
	data     map[string]V
	keep     func(V) bool // nil keeps everything
	writes   int
}

type journalOp[V any] struct {
	Key string `json:"key"`
	Del bool   `json:"del,omitempty"`
	Val V      `json:"val"`
}

func openJournal[V any](prefix string, keep func(V) bool) (*journal[V], error) {
	j := &journal[V]{
		snapPath: prefix + ".snapshot.json",
		data:     map[string]V{},
		keep:     keep,
	}
	if err := j.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := j.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	j.prune()
	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	j.f = f
	return j, nil
}

func (j *journal[V]) loadSnapshot() error {
	f, err := os.Open(j.snapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(&j.data)
}

// replay applies journal lines in order. A torn last line is skipped.
func (j *journal[V]) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp[V]
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil || op.Key == "" {
			continue
		}
		if op.Del {
			delete(j.data, op.Key)
		} else {
			j.data[op.Key] = op.Val
		}
	}
	return sc.Err()
}

func (j *journal[V]) prune() {
	if j.keep == nil {
		return
	}
	for k, v := range j.data {
		if !j.keep(v) {
			delete(j.data, k)
		}
	}
}

func (j *journal[V]) append(op journalOp[V]) error {
	if j.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(j.f).Encode(op); err != nil {
		return err
	}
	j.writes++
	return nil
}

func (j *journal[V]) put(k string, v V) error {
	if err := j.append(journalOp[V]{Key: k, Val: v}); err != nil {
		return err
	}
	j.data[k] = v
	return nil
}

func (j *journal[V]) del(k string) error {
	if err := j.append(journalOp[V]{Key: k, Del: true}); err != nil {
		return err
	}
	delete(j.data, k)
	return nil
}

func (j *journal[V]) due() bool { return j.writes >= compactEvery }

// compact writes the snapshot atomically and truncates the journal.
func (j *journal[V]) compact() error {
	if j.f == nil {
		return nil
	}
	j.prune()
	tmp := j.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(j.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.snapPath); err != nil {
		return err
	}
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	j.writes = 0
	return nil
}

func (j *journal[V]) close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
