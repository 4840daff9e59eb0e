package block

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCorruptedData marks a block with a missing or empty required field.
	ErrCorruptedData = errors.New("block: corrupted data")
	// ErrInconsistentHash marks a block whose parent hash breaks the accepted chain.
	ErrInconsistentHash = errors.New("block: inconsistent hash")
)

// Kind classifies a validation result.
type Kind uint8

const (
	KindPass Kind = iota
	KindCorruptedData
	KindInconsistentHash
)

func (k Kind) String() string {
	switch k {
	case KindPass:
		return "pass"
	case KindCorruptedData:
		return "corrupted_data"
	case KindInconsistentHash:
		return "inconsistent_hash"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Outcome is the result of Validate. The zero value is a pass.
type Outcome struct {
	Kind Kind
	// Field names the offending field for KindCorruptedData.
	Field string

	number   uint64
	hash     string
	parent   string
	expected string
}

// OK reports whether the block passed.
func (o Outcome) OK() bool {
	return o.Kind == KindPass
}

// Err converts a failed outcome into an error; it returns nil on pass.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &ValidationError{
		Kind:     o.Kind,
		Field:    o.Field,
		Number:   o.number,
		Hash:     o.hash,
		Parent:   o.parent,
		Expected: o.expected,
	}
}

// ValidationError carries the details of a rejected block.
type ValidationError struct {
	Kind     Kind
	Field    string
	Number   uint64
	Hash     string
	Parent   string
	Expected string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindCorruptedData:
		return fmt.Sprintf("block %d missing required field %q", e.Number, e.Field)
	case KindInconsistentHash:
		return fmt.Sprintf("block %d (%s) parent %s does not match expected %s", e.Number, e.Hash, e.Parent, e.Expected)
	default:
		return fmt.Sprintf("block %d failed validation: %s", e.Number, e.Kind)
	}
}

func (e *ValidationError) Unwrap() error {
	switch e.Kind {
	case KindCorruptedData:
		return ErrCorruptedData
	case KindInconsistentHash:
		return ErrInconsistentHash
	default:
		return nil
	}
}

// IsChainFailure reports whether err is a corrupted or inconsistent block.
func IsChainFailure(err error) bool {
	return errors.Is(err, ErrCorruptedData) || errors.Is(err, ErrInconsistentHash)
}

// Validate checks that rec is well formed and, when expectedParent is non-empty,
// that it extends the block with that hash.
func Validate(rec Record, expectedParent string) Outcome {
	if field := missingField(rec); field != "" {
		return Outcome{Kind: KindCorruptedData, Field: field, number: rec.Number, hash: rec.Hash}
	}

	if expectedParent != "" && !strings.EqualFold(rec.ParentHash, expectedParent) {
		return Outcome{
			Kind:     KindInconsistentHash,
			number:   rec.Number,
			hash:     rec.Hash,
			parent:   rec.ParentHash,
			expected: expectedParent,
		}
	}

	return Outcome{}
}

func missingField(rec Record) string {
	switch {
	case rec.Number == 0:
		return "number"
	case rec.Hash == "":
		return "hash"
	case rec.Timestamp == 0:
		return "timestamp"
	case rec.ParentHash == "":
		return "parentHash"
	default:
		return ""
	}
}
