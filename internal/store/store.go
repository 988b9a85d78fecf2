// Package store persists the expression catalog and scene settings as YAML.
package store

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// ErrNoPath is returned when a store has no file to work with.
var ErrNoPath = errors.New("catalog path is empty")

// DefaultBackgroundColor is the chroma-key green used when none is stored.
const DefaultBackgroundColor = "#00ff00"

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidColor reports whether s is a #rrggbb color.
func ValidColor(s string) bool { return colorRe.MatchString(s) }

// Document is the persisted scene: the catalog plus unrelated settings that
// live in the same file.
type Document struct {
	// InputDevice is the capture device last chosen by the user. Empty means
	// the daemon's configured device.
	InputDevice     string
	BackgroundColor string
	Expressions     []expression.Expression
}

// Catalog builds a catalog from the document's expressions.
func (d Document) Catalog() *expression.Catalog {
	return expression.NewCatalog(d.Expressions...)
}

// DefaultDocument is what a fresh install starts with: a single always-on
// expression that bounces when it activates.
func DefaultDocument() Document {
	return Document{
		BackgroundColor: DefaultBackgroundColor,
		Expressions: []expression.Expression{{
			ID:        expression.NewID(),
			Name:      "normal",
			Threshold: 0,
			Bounce:    &expression.Bounce{MaxVelocity: 12, TotalFrames: 30},
			Asset:     "normal.png",
		}},
	}
}

// ============================================================================
// Wire format
// ============================================================================

type bounceRecord struct {
	Enabled     bool    `yaml:"enabled"`
	MaxVelocity float32 `yaml:"max_velocity"`
	TotalFrames int32   `yaml:"total_frames"`
}

type expressionRecord struct {
	ID        string        `yaml:"id,omitempty"`
	Name      string        `yaml:"name"`
	Threshold float64       `yaml:"threshold"`
	AttackMS  float64       `yaml:"attack_ms"`
	ReleaseMS float64       `yaml:"release_ms"`
	Bounce    *bounceRecord `yaml:"bounce,omitempty"`
	Asset     string        `yaml:"asset"`
}

type record struct {
	InputDevice     string             `yaml:"input_device"`
	BackgroundColor string             `yaml:"background_color"`
	Expressions     []expressionRecord `yaml:"expressions"`
}

func toRecord(d Document) record {
	r := record{
		InputDevice:     d.InputDevice,
		BackgroundColor: d.BackgroundColor,
		Expressions:     make([]expressionRecord, 0, len(d.Expressions)),
	}
	for _, e := range d.Expressions {
		er := expressionRecord{
			ID:        string(e.ID),
			Name:      e.Name,
			Threshold: e.Threshold,
			AttackMS:  e.AttackMS,
			ReleaseMS: e.ReleaseMS,
			Asset:     e.Asset,
		}
		if e.Bounce != nil {
			er.Bounce = &bounceRecord{
				Enabled:     true,
				MaxVelocity: e.Bounce.MaxVelocity,
				TotalFrames: e.Bounce.TotalFrames,
			}
		}
		r.Expressions = append(r.Expressions, er)
	}
	return r
}

func fromRecord(r record, opts expression.NormalizeOptions) Document {
	d := Document{
		InputDevice:     r.InputDevice,
		BackgroundColor: r.BackgroundColor,
	}
	if !ValidColor(d.BackgroundColor) {
		d.BackgroundColor = DefaultBackgroundColor
	}

	exprs := make([]expression.Expression, 0, len(r.Expressions))
	for _, er := range r.Expressions {
		e := expression.Expression{
			ID:        expression.ID(er.ID),
			Name:      er.Name,
			Threshold: er.Threshold,
			AttackMS:  er.AttackMS,
			ReleaseMS: er.ReleaseMS,
			Asset:     er.Asset,
		}
		if er.Bounce != nil && er.Bounce.Enabled {
			e.Bounce = &expression.Bounce{
				MaxVelocity: er.Bounce.MaxVelocity,
				TotalFrames: er.Bounce.TotalFrames,
			}
		}
		exprs = append(exprs, e)
	}
	d.Expressions = expression.NormalizeAll(exprs, opts)
	return d
}

// Decode parses a YAML document. Unknown fields are rejected. Expressions are
// normalized, so the result is safe to hand to the engine.
func Decode(r io.Reader, opts expression.NormalizeOptions) (Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rec record
	if err := dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return fromRecord(record{}, opts), nil
		}
		return Document{}, fmt.Errorf("decode catalog yaml: %w", err)
	}
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Document{}, errors.New("decode catalog yaml: unexpected trailing document")
	}
	return fromRecord(rec, opts), nil
}

// Encode writes d as YAML.
func Encode(w io.Writer, d Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toRecord(d)); err != nil {
		return fmt.Errorf("encode catalog yaml: %w", err)
	}
	return enc.Close()
}

// ============================================================================
// Store
// ============================================================================

// Store reads and writes one catalog file. It remembers the digest of the
// last content it read or wrote so that a file watcher can skip its own
// writes.
type Store struct {
	path   string
	opts   expression.NormalizeOptions
	logger *slog.Logger

	mu     sync.Mutex
	digest [sha256.Size]byte
}

// New creates a store for path.
func New(path string, opts expression.NormalizeOptions, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, opts: opts, logger: logger}
}

// Path returns the catalog file path.
func (s *Store) Path() string { return s.path }

// Load reads the catalog. A missing file yields DefaultDocument.
func (s *Store) Load() (Document, error) {
	doc, _, err := s.load(false)
	return doc, err
}

// LoadIfChanged reads the catalog and reports whether its content differs
// from what this store last read or wrote.
func (s *Store) LoadIfChanged() (Document, bool, error) {
	return s.load(true)
}

func (s *Store) load(onlyChanged bool) (Document, bool, error) {
	if s.path == "" {
		return Document{}, false, ErrNoPath
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("catalog file not found, using defaults", "path", s.path)
		return DefaultDocument(), true, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("read catalog file: %w", err)
	}

	sum := sha256.Sum256(b)
	s.mu.Lock()
	changed := sum != s.digest
	s.digest = sum
	s.mu.Unlock()

	if onlyChanged && !changed {
		return Document{}, false, nil
	}

	doc, err := Decode(bytes.NewReader(b), s.opts)
	if err != nil {
		return Document{}, false, err
	}
	return doc, changed, nil
}

// Save writes d atomically: the file is replaced only once the new content is
// fully on disk.
func (s *Store) Save(d Document) error {
	if s.path == "" {
		return ErrNoPath
	}

	var buf bytes.Buffer
	if err := Encode(&buf, d); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp catalog: %w", err)
	}

	// Record the digest before the rename so a watcher firing right after
	// sees the content as already known.
	sum := sha256.Sum256(buf.Bytes())
	s.mu.Lock()
	s.digest = sum
	s.mu.Unlock()

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	s.logger.Debug("catalog saved", "path", s.path, "expressions", len(d.Expressions))
	return nil
}
