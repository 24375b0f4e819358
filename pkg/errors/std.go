package errors

import stderrors "errors"

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// TypeOf returns the ErrorType of the first *Error in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var e *Error
	if !stderrors.As(err, &e) {
		return 0, false
	}
	return e.Type, true
}
