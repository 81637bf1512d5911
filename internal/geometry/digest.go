package geometry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"
)

// Canonical returns the RFC 8785 encoding of the sequence.
func Canonical(seq Sequence) ([]byte, error) {
	raw, err := json.Marshal(seq)
	if err != nil {
		return nil, fmt.Errorf("geometry: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("geometry: canonicalize: %w", err)
	}
	return out, nil
}

// Digest is a stable content hash of the sequence. Two builds from the same
// parameters always share a digest.
func Digest(seq Sequence) (string, error) {
	b, err := Canonical(seq)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Change describes one command that differs between two sequences.
type Change struct {
	Name string
	Op   string // added, removed, changed
}

// Diff reports commands added, removed or changed from a to b, keyed by name.
func Diff(a, b Sequence) []Change {
	var out []Change
	for _, ca := range a {
		cb, ok := b.Find(ca.Name)
		switch {
		case !ok:
			out = append(out, Change{Name: ca.Name, Op: "removed"})
		case !reflect.DeepEqual(ca, cb):
			out = append(out, Change{Name: ca.Name, Op: "changed"})
		}
	}
	for _, cb := range b {
		if _, ok := a.Find(cb.Name); !ok {
			out = append(out, Change{Name: cb.Name, Op: "added"})
		}
	}
	return out
}

// MarshalYAML renders the sequence for human review.
func MarshalYAML(seq Sequence) ([]byte, error) {
	return yaml.Marshal(seq)
}

// UnmarshalJSON decodes and validates a sequence.
func UnmarshalJSON(data []byte) (Sequence, error) {
	var seq Sequence
	if err := json.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("geometry: decode: %w", err)
	}
	if err := Validate(seq); err != nil {
		return nil, err
	}
	return seq, nil
}
