package wire

import "errors"

// Validator accumulates structural errors encountered while decoding a wire
// message so that malformed input is rejected as a whole, with no partial
// parsing, per spec.md §4.1. Grounded on the teacher's lneto.Validator
// (_examples/soypat-lneto/validation.go), generalized from per-field frame
// validation to whole-message decode validation.
type Validator struct {
	allowMultiErrs bool
	accum          []error
}

// NewValidator returns a Validator. If allowMultiErrs is false (the common
// case) only the first error encountered is retained, matching "no partial
// parsing": the first structural problem is enough to discard the message.
func NewValidator(allowMultiErrs bool) Validator {
	return Validator{allowMultiErrs: allowMultiErrs}
}

// AddError records a decode error.
func (v *Validator) AddError(err error) {
	if err == nil {
		return
	}
	if len(v.accum) != 0 && !v.allowMultiErrs {
		return
	}
	v.accum = append(v.accum, err)
}

// Err returns the accumulated error, or nil if decoding succeeded.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// Reset clears accumulated errors for reuse across decode calls.
func (v *Validator) Reset() {
	v.accum = v.accum[:0]
}
