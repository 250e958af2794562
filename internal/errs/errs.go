// Package errs attaches call stacks to errors that cross package boundaries.
package errs

import (
	stderrors "errors"

	"github.com/go-errors/errors"
	"go.uber.org/zap"
)

// Wrap records the caller's stack on err. A nil err stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var withStack *errors.Error
	if stderrors.As(err, &withStack) {
		return err
	}
	return errors.Wrap(err, 1)
}

// Stack renders err with its recorded stack when one exists.
func Stack(err error) string {
	if err == nil {
		return ""
	}
	var withStack *errors.Error
	if stderrors.As(err, &withStack) {
		return withStack.ErrorStack()
	}
	return err.Error()
}

// Field is a zap field carrying the stack of err.
func Field(err error) zap.Field {
	return zap.String("stack", Stack(err))
}
