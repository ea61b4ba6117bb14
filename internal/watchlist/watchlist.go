// Package watchlist persists the personal and market symbol lists as flat
// files, one symbol per line.
package watchlist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rewired-gh/mftrend/internal/models"
)

var ErrInvalidSymbol = errors.New("invalid symbol")

// DefaultSymbols seeds a list that has never been saved.
var DefaultSymbols = []string{"SSI", "HPG", "FPT"}

// Store reads and writes watchlist files under one directory.
type Store struct {
	mu    sync.Mutex
	dir   string
	files map[models.WatchlistMode]string
}

// NewStore uses files keyed by mode; missing entries default to
// watchlist_<mode>.txt.
func NewStore(dir string, files map[models.WatchlistMode]string) *Store {
	s := &Store{dir: dir, files: make(map[models.WatchlistMode]string)}
	for _, mode := range []models.WatchlistMode{models.ModePersonal, models.ModeMarket} {
		name := files[mode]
		if name == "" {
			name = "watchlist_" + string(mode) + ".txt"
		}
		s.files[mode] = name
	}
	return s
}

func (s *Store) path(mode models.WatchlistMode) (string, error) {
	name, ok := s.files[mode]
	if !ok {
		return "", fmt.Errorf("unknown watchlist mode %q", mode)
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Join(s.dir, name), nil
}

// Load returns the ordered symbols for mode, or DefaultSymbols if the file
// does not exist yet.
func (s *Store) Load(mode models.WatchlistMode) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(mode)
}

func (s *Store) load(mode models.WatchlistMode) ([]string, error) {
	p, err := s.path(mode)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return append([]string(nil), DefaultSymbols...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open watchlist: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}
	return Normalize(lines), nil
}

// Save replaces the list for mode.
func (s *Store) Save(mode models.WatchlistMode, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(mode, symbols)
}

func (s *Store) save(mode models.WatchlistMode, symbols []string) error {
	p, err := s.path(mode)
	if err != nil {
		return err
	}
	for _, sym := range symbols {
		if err := ValidateSymbol(sym); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create watchlist directory: %w", err)
	}

	var b strings.Builder
	for _, sym := range Normalize(symbols) {
		b.WriteString(sym)
		b.WriteByte('\n')
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write watchlist: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to replace watchlist: %w", err)
	}
	return nil
}

// Add appends symbol if it is not already listed and returns the new list.
func (s *Store) Add(mode models.WatchlistMode, symbol string) ([]string, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(mode)
	if err != nil {
		return nil, err
	}
	list = Normalize(append(list, symbol))
	if err := s.save(mode, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Remove drops symbol and returns the new list. Removing an unlisted symbol
// is not an error.
func (s *Store) Remove(mode models.WatchlistMode, symbol string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(mode)
	if err != nil {
		return nil, err
	}
	target := strings.ToUpper(strings.TrimSpace(symbol))
	out := list[:0]
	for _, sym := range list {
		if sym != target {
			out = append(out, sym)
		}
	}
	if err := s.save(mode, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize trims and upper-cases symbols, dropping blanks and repeats while
// keeping first-seen order.
func Normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// ValidateSymbol accepts letters, digits, '.', '-' and '_' once trimmed.
func ValidateSymbol(symbol string) error {
	sym := strings.TrimSpace(symbol)
	if sym == "" || len(sym) > 16 {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, r := range sym {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return nil
}
