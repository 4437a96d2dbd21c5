package s3

import stderrors "errors"

// isErrorType reports whether err's chain contains an error of type T.
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

func asError(err error, target any) bool {
	return stderrors.As(err, target)
}
