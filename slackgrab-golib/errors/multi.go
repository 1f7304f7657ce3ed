package errors

import "strings"

// Errors is a non-empty list of errors. A nil Errors means no error occurred.
type Errors interface {
	error
	Slice() []error
	Len() int
}

type errorList []error

func (l errorList) Slice() []error { return append([]error(nil), l...) }

func (l errorList) Len() int { return len(l) }

func (l errorList) Error() string {
	parts := make([]string, 0, len(l))
	for _, err := range l {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// Append adds err (which may itself be an Errors) to errs.
func Append(errs Errors, err error) Errors {
	if err == nil {
		return errs
	}
	var list errorList
	if errs != nil {
		list = errorList(errs.Slice())
	}
	if nested, ok := err.(Errors); ok {
		return append(list, nested.Slice()...)
	}
	return append(list, err)
}

// Combine merges two possibly-nil errors into one.
func Combine(e, f error) error {
	switch {
	case e == nil:
		return f
	case f == nil:
		return e
	}
	errs := Append(nil, e)
	return Append(errs, f)
}

// Defer folds the result of f into *err, for use with deferred Close calls.
func Defer(err *error, f func() error) {
	*err = Combine(*err, f())
}
