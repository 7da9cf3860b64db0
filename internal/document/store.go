// Package document keeps the live content of open documents and applies
// edits to them under an optimistic revision check.
package document

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

var (
	// ErrNotOpen indicates the document is not open.
	ErrNotOpen = errors.New("document not open")

	// ErrAlreadyOpen indicates the document is already open.
	ErrAlreadyOpen = errors.New("document already open")

	// ErrStaleRevision indicates edits were computed against an older revision.
	ErrStaleRevision = errors.New("stale document revision")

	// ErrOverlappingEdits indicates two edits of one batch overlap.
	ErrOverlappingEdits = errors.New("overlapping edits")
)

// ChangeFunc observes a document after its content changed.
type ChangeFunc func(buf *Buffer, revision int, content string)

// Store holds the open documents.
type Store struct {
	mu       sync.RWMutex
	buffers  map[lsp.DocumentURI]*Buffer
	onChange []ChangeFunc
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{buffers: make(map[lsp.DocumentURI]*Buffer)}
}

// OnChange registers fn to run after every content change.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Open adds a document at revision 1.
func (s *Store) Open(path, languageID, content string) (*Buffer, error) {
	uri := lsp.FilePathToURI(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buffers[uri]; exists {
		return nil, ErrAlreadyOpen
	}

	buf := &Buffer{
		store:      s,
		uri:        uri,
		path:       path,
		languageID: languageID,
		revision:   1,
		content:    content,
	}
	s.buffers[uri] = buf
	return buf, nil
}

// Close removes a document.
func (s *Store) Close(uri lsp.DocumentURI) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buffers[uri]; !exists {
		return ErrNotOpen
	}
	delete(s.buffers, uri)
	return nil
}

// Get returns the buffer of an open document.
func (s *Store) Get(uri lsp.DocumentURI) (*Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[uri]
	return buf, ok
}

// Documents returns the URIs of the open documents, sorted.
func (s *Store) Documents() []lsp.DocumentURI {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uris := make([]lsp.DocumentURI, 0, len(s.buffers))
	for uri := range s.buffers {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// Revision returns the live revision of an open document.
func (s *Store) Revision(uri lsp.DocumentURI) (int, bool) {
	buf, ok := s.Get(uri)
	if !ok {
		return 0, false
	}
	return buf.Revision(), true
}

// ApplyEdits applies edits to an open document as one change. When
// expected is non-nil and differs from the live revision, nothing is
// applied and ErrStaleRevision is returned.
func (s *Store) ApplyEdits(uri lsp.DocumentURI, expected *int, edits []lsp.TextEdit) error {
	buf, ok := s.Get(uri)
	if !ok {
		return fmt.Errorf("%s: %w", uri, ErrNotOpen)
	}
	return buf.ApplyEdits(expected, edits)
}

// Save writes an open document to its path.
func (s *Store) Save(uri lsp.DocumentURI) error {
	buf, ok := s.Get(uri)
	if !ok {
		return fmt.Errorf("%s: %w", uri, ErrNotOpen)
	}
	return buf.Save()
}

func (s *Store) notify(buf *Buffer, revision int, content string) {
	s.mu.RLock()
	hooks := append([]ChangeFunc(nil), s.onChange...)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(buf, revision, content)
	}
}

// Buffer is one open document. Every change increments its revision.
type Buffer struct {
	store *Store

	uri        lsp.DocumentURI
	path       string
	languageID string

	mu       sync.RWMutex
	revision int
	content  string
	dirty    bool
}

// URI returns the document URI.
func (b *Buffer) URI() lsp.DocumentURI { return b.uri }

// Path returns the file path.
func (b *Buffer) Path() string { return b.path }

// LanguageID returns the language identifier.
func (b *Buffer) LanguageID() string { return b.languageID }

// Revision returns the live revision.
func (b *Buffer) Revision() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// Content returns the live content.
func (b *Buffer) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content
}

// Snapshot returns content and revision read together.
func (b *Buffer) Snapshot() (string, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content, b.revision
}

// EntireRange returns the range covering the whole content.
func (b *Buffer) EntireRange() lsp.Range {
	return lsp.EntireContentRange(b.Content())
}

// IsDirty reports whether the buffer changed since it was opened or saved.
func (b *Buffer) IsDirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}

// SetContent replaces the whole content and returns the new revision.
func (b *Buffer) SetContent(content string) int {
	b.mu.Lock()
	b.content = content
	rev := b.bumpLocked()
	b.mu.Unlock()

	b.store.notify(b, rev, content)
	return rev
}

// Insert inserts text at pos and returns the new revision.
func (b *Buffer) Insert(pos lsp.Position, text string) int {
	rev, _ := b.apply(nil, []lsp.TextEdit{{Range: lsp.PointRange(pos), NewText: text}})
	return rev
}

// ApplyEdits applies edits as one change; see Store.ApplyEdits.
func (b *Buffer) ApplyEdits(expected *int, edits []lsp.TextEdit) error {
	_, err := b.apply(expected, edits)
	return err
}

// apply checks the revision and rewrites the content while holding the
// lock, so no change can slip in between the check and the write.
func (b *Buffer) apply(expected *int, edits []lsp.TextEdit) (int, error) {
	b.mu.Lock()
	if expected != nil && *expected != b.revision {
		live := b.revision
		b.mu.Unlock()
		return live, fmt.Errorf("%s: declared %d, live %d: %w", b.uri, *expected, live, ErrStaleRevision)
	}

	content, err := Splice(b.content, edits)
	if err != nil {
		b.mu.Unlock()
		return b.revision, fmt.Errorf("%s: %w", b.uri, err)
	}
	if len(edits) == 0 {
		rev := b.revision
		b.mu.Unlock()
		return rev, nil
	}

	b.content = content
	rev := b.bumpLocked()
	b.mu.Unlock()

	b.store.notify(b, rev, content)
	return rev, nil
}

func (b *Buffer) bumpLocked() int {
	b.revision++
	b.dirty = true
	return b.revision
}

// Save writes the content to the buffer's path.
func (b *Buffer) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.WriteFile(b.path, []byte(b.content), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", b.path, err)
	}
	b.dirty = false
	return nil
}

// Splice applies edits to content. Every range refers to content as it
// was before any of the edits; edits starting at the same place are
// inserted in the order given.
func Splice(content string, edits []lsp.TextEdit) (string, error) {
	if len(edits) == 0 {
		return content, nil
	}

	type span struct {
		start, end int
		text       string
	}

	pc := lsp.NewPositionConverter(content)
	spans := make([]span, len(edits))
	for i, e := range edits {
		start, end := pc.RangeToByteOffsets(e.Range)
		spans[i] = span{start: start, end: end, text: e.NewText}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return "", ErrOverlappingEdits
		}
	}

	var sb strings.Builder
	sb.Grow(len(content))
	last := 0
	for _, sp := range spans {
		sb.WriteString(content[last:sp.start])
		sb.WriteString(sp.text)
		last = sp.end
	}
	sb.WriteString(content[last:])
	return sb.String(), nil
}
