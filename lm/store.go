package lm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/happyhackingspace/werger/vocab"
)

var (
	metaOrder = []byte("meta:order")
	metaUnk   = []byte("meta:unk")
)

const ngramPrefix = "ng:"

// ErrNotAStore is returned when a database holds no language model.
var ErrNotAStore = errors.New("lm: database holds no language model")

// StoreConfig configures the badger database backing a Store.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps the database in memory only.
	InMemory bool
	// ReadOnly opens an existing database without write access.
	ReadOnly bool
	// Logger receives badger's internal messages. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenDB opens the badger database described by cfg.
func OpenDB(cfg StoreConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("lm: path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0750); err != nil {
				return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return db, nil
}

// Store is a backoff n-gram model persisted in badger. N-grams are keyed by
// their words, so a store can be shared by processes with different
// vocabularies.
type Store struct {
	db    *badger.DB
	vocab *vocab.Vocabulary
	order int
	unk   float64
}

// WriteStore copies every n-gram of m into db.
func WriteStore(db *badger.DB, m *NgramModel, v *vocab.Vocabulary) error {
	wb := db.NewWriteBatch()
	defer wb.Cancel()

	err := m.Each(func(ngram []int, prob, backoff float64) error {
		return wb.Set(storeKey(ngram, v), encodeEntry(entry{prob: prob, backoff: backoff}))
	})
	if err != nil {
		return fmt.Errorf("write n-grams: %w", err)
	}
	if err := wb.Set(metaOrder, []byte(strconv.Itoa(m.Order()))); err != nil {
		return err
	}
	if err := wb.Set(metaUnk, []byte(strconv.FormatFloat(m.unk, 'g', -1, 64))); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush n-grams: %w", err)
	}
	return nil
}

// OpenStore wraps a database written by WriteStore.
func OpenStore(db *badger.DB, v *vocab.Vocabulary) (*Store, error) {
	s := &Store{db: db, vocab: v, unk: LogZero}
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaOrder)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotAStore
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			s.order, err = strconv.Atoi(string(val))
			return err
		}); err != nil {
			return err
		}

		item, err = txn.Get(metaUnk)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s.unk, err = strconv.ParseFloat(string(val), 64)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("open lm store: %w", err)
	}
	return s, nil
}

// Order returns the n-gram order.
func (s *Store) Order() int {
	return s.order
}

// LogProb returns the backed-off log10 probability of the last id.
func (s *Store) LogProb(ngram []int) float64 {
	return backoffLogProb(ngram, s.order, s.unk, s.lookup)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lookup(ngram []int) (entry, bool) {
	var e entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(ngram, s.vocab))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			e, derr = decodeEntry(val)
			found = derr == nil
			return derr
		})
	})
	if err != nil {
		return entry{}, false
	}
	return e, found
}

func storeKey(ngram []int, v *vocab.Vocabulary) []byte {
	words := make([]string, len(ngram))
	for i, id := range ngram {
		words[i] = v.Word(id)
	}
	return []byte(ngramPrefix + strings.Join(words, "\x00"))
}

func encodeEntry(e entry) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(e.prob))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(e.backoff))
	return buf
}

func decodeEntry(val []byte) (entry, error) {
	if len(val) != 16 {
		return entry{}, fmt.Errorf("lm: corrupt entry of %d bytes", len(val))
	}
	return entry{
		prob:    math.Float64frombits(binary.LittleEndian.Uint64(val[:8])),
		backoff: math.Float64frombits(binary.LittleEndian.Uint64(val[8:])),
	}, nil
}
