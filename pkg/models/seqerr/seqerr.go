package seqerr

import (
	"errors"
	"fmt"
)

const (
	SEQ_UNEXPECTED = "SEQU"
	SEQ_VALIDATION = "SEQV"
	SEQ_BUSY       = "SEQB"
	SEQ_NOT_FOUND  = "SEQN"
	SEQ_STORAGE    = "SEQS"
)

var existingErrorCodeMap = map[string]string{
	SEQ_VALIDATION: "invalid sequence configuration",
	SEQ_BUSY:       "sequence is locked by another transaction",
	SEQ_NOT_FOUND:  "no such sequence",
	SEQ_STORAGE:    "sequence storage failure",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &SeqError{}

type SeqError struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *SeqError {
	return &SeqError{
		Err:       errors.New(errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, a ...any) *SeqError {
	return &SeqError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

func (er *SeqError) Error() string {
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		er.ErrorCode, GetMessageByCode(er.ErrorCode), er.Err)
}

func (er *SeqError) Unwrap() error {
	return er.Err
}

// CodeOf returns the error code carried by err, or SEQ_UNEXPECTED
// when err does not wrap a SeqError.
func CodeOf(err error) string {
	var se *SeqError
	if errors.As(err, &se) {
		return se.ErrorCode
	}
	return SEQ_UNEXPECTED
}

func IsValidation(err error) bool {
	return CodeOf(err) == SEQ_VALIDATION
}

func IsBusy(err error) bool {
	return CodeOf(err) == SEQ_BUSY
}

func IsNotFound(err error) bool {
	return CodeOf(err) == SEQ_NOT_FOUND
}
