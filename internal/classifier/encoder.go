package classifier

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownClass is returned when a label or class index is not part of the encoder.
var ErrUnknownClass = errors.New("unknown class")

// LabelEncoder maps identity labels to dense zero-based class indices.
// Classes holds the distinct labels in ascending order; the index of a label in Classes is
// its class index.
type LabelEncoder struct {
	Classes []int
}

// NewLabelEncoder fits an encoder over every distinct label in labels.
func NewLabelEncoder(labels []int) LabelEncoder {
	classes := slices.Clone(labels)
	slices.Sort(classes)
	return LabelEncoder{Classes: slices.Compact(classes)}
}

// Len returns the number of classes.
func (e LabelEncoder) Len() int {
	return len(e.Classes)
}

// Index returns the class index of label.
func (e LabelEncoder) Index(label int) (int, bool) {
	return slices.BinarySearch(e.Classes, label)
}

// Transform maps every label to its class index.
func (e LabelEncoder) Transform(labels []int) ([]int, error) {
	out := make([]int, len(labels))
	for i, label := range labels {
		idx, ok := e.Index(label)
		if !ok {
			return nil, fmt.Errorf("%w: label %d", ErrUnknownClass, label)
		}
		out[i] = idx
	}
	return out, nil
}

// Inverse maps a class index back to its label.
func (e LabelEncoder) Inverse(index int) (int, error) {
	if index < 0 || index >= len(e.Classes) {
		return 0, fmt.Errorf("%w: index %d of %d", ErrUnknownClass, index, len(e.Classes))
	}
	return e.Classes[index], nil
}
