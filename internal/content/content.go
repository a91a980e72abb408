// Package content holds the document model shared by the server and the
// editor: an ordered list of text and image items plus its fingerprint.
package content

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Kind identifies the type of an item.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// ErrInvalidItem is returned when an item fails validation.
var ErrInvalidItem = errors.New("invalid content item")

// Item is one unit of document content. Items are values: they are replaced,
// never mutated in place.
type Item struct {
	Kind  Kind   `json:"type" validate:"required,oneof=text image"`
	Value string `json:"content" validate:"required_if=Kind image"`
}

func Text(value string) Item {
	return Item{Kind: KindText, Value: value}
}

func Image(uri string) Item {
	return Item{Kind: KindImage, Value: uri}
}

func (i Item) IsText() bool {
	return i.Kind == KindText
}

// List is the ordered sequence of items that is persisted as a whole.
type List []Item

// Clone returns a copy that shares no backing array with l. A nil list
// clones to an empty, non-nil list so it always encodes as [].
func (l List) Clone() List {
	out := make(List, len(l))
	copy(out, l)
	return out
}

func (l List) Equal(other List) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// IndexOf returns the position of the first item equal to target, or -1.
func (l List) IndexOf(target Item) int {
	for i, item := range l {
		if item == target {
			return i
		}
	}
	return -1
}

// Without returns a new list with the item at index removed.
func (l List) Without(index int) List {
	if index < 0 || index >= len(l) {
		return l.Clone()
	}
	out := make(List, 0, len(l)-1)
	out = append(out, l[:index]...)
	return append(out, l[index+1:]...)
}

// CountKind reports how many items of the given kind the list holds.
func (l List) CountKind(kind Kind) int {
	n := 0
	for _, item := range l {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

// Fingerprint is a deterministic serialization of a list used purely for
// change detection.
type Fingerprint string

// Fingerprint encodes the list canonically. Two lists have the same
// fingerprint iff they hold the same items in the same order.
func (l List) Fingerprint() Fingerprint {
	encoded, err := json.Marshal(l.Clone())
	if err != nil {
		// Items are plain strings; Marshal cannot fail on them.
		panic(fmt.Sprintf("encode content fingerprint: %v", err))
	}
	return Fingerprint(encoded)
}

// Entry pairs a text item with its position at snapshot time.
type Entry struct {
	Position int
	Item     Item
}

// Snapshot is an immutable ordered copy of the text items of a list.
type Snapshot struct {
	entries []Entry
}

// TextSnapshot captures every text item in document order.
func (l List) TextSnapshot() Snapshot {
	entries := make([]Entry, 0, len(l))
	for i, item := range l {
		if item.IsText() {
			entries = append(entries, Entry{Position: i, Item: item})
		}
	}
	return Snapshot{entries: entries}
}

func (s Snapshot) Len() int {
	return len(s.entries)
}

func (s Snapshot) At(i int) Entry {
	return s.entries[i]
}

// Entries returns a copy of the snapshot entries.
func (s Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

var validate = validator.New()

// Validate checks a single item.
func Validate(item Item) error {
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	return nil
}

// ValidateList checks every item and reports the first failure with its
// position.
func ValidateList(l List) error {
	for i, item := range l {
		if err := Validate(item); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

// Envelope is the wire shape of /api/content.
type Envelope struct {
	Content List `json:"content"`
}
