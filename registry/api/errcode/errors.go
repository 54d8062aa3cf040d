// Package errcode implements the error payload of the container image API: machine readable error
// codes, grouped into an errors array and serialized as JSON.
package errcode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCoder is the interface the error serving machinery accepts; everything else is wrapped as
// an internal error.
type ErrorCoder interface {
	ErrorCode() ErrorCode
}

// ErrorCode identifies an error condition on the wire.
type ErrorCode int

var _ error = ErrorCode(0)

func (ec ErrorCode) ErrorCode() ErrorCode {
	return ec
}

func (ec ErrorCode) Error() string {
	return strings.ToLower(strings.Replace(ec.String(), "_", " ", -1))
}

// Descriptor returns the registered descriptor for the code.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	d, ok := errorCodeToDescriptors[ec]
	if !ok {
		return ErrorCodeUnknown.Descriptor()
	}
	return d
}

// String returns the canonical identifier for the code, e.g. "BLOB_UNKNOWN".
func (ec ErrorCode) String() string {
	return ec.Descriptor().Value
}

// Message returns the human readable default message for the code.
func (ec ErrorCode) Message() string {
	return ec.Descriptor().Message
}

func (ec ErrorCode) MarshalText() ([]byte, error) {
	return []byte(ec.String()), nil
}

func (ec *ErrorCode) UnmarshalText(text []byte) error {
	desc, ok := idToDescriptors[string(text)]
	if !ok {
		desc = ErrorCodeUnknown.Descriptor()
	}
	*ec = desc.Code
	return nil
}

// WithMessage creates a new Error struct based on the passed-in info and overrides the default
// message.
func (ec ErrorCode) WithMessage(message string) Error {
	return Error{
		Code:    ec,
		Message: message,
	}
}

// WithDetail creates a new Error struct based on the passed-in info and set the Detail property
// appropriately.
func (ec ErrorCode) WithDetail(detail interface{}) Error {
	return Error{
		Code:    ec,
		Message: ec.Message(),
		Detail:  detail,
	}
}

// WithArgs creates a new Error struct and sets the Message property by formatting the descriptor
// message with the given arguments.
func (ec ErrorCode) WithArgs(args ...interface{}) Error {
	return Error{
		Code:    ec,
		Message: fmt.Sprintf(ec.Message(), args...),
	}
}

// Error provides a wrapper around ErrorCode with extra Details provided.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

var _ error = Error{}

func (e Error) ErrorCode() ErrorCode {
	return e.Code
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.Error(), e.Message)
}

// WithDetail will return a new Error struct attaching the given detail.
func (e Error) WithDetail(detail interface{}) Error {
	e.Detail = detail
	return e
}

// ErrorDescriptor provides relevant information about a given error code.
type ErrorDescriptor struct {
	// Code is the error code that this descriptor describes.
	Code ErrorCode

	// Value provides a unique, string key, often capitalized with underscores, to identify the
	// error code. This value is used as the keyed value when serializing api errors.
	Value string

	// Message is a short, human readable description of the error condition included in API
	// responses.
	Message string

	// Description provides a complete account of the errors purpose, suitable for use in
	// documentation.
	Description string

	// HTTPStatusCode provides the http status code that is associated with this error condition.
	HTTPStatusCode int
}

// Errors provides the envelope for multiple errors and a few sugar methods for use within the
// application.
type Errors []error

var _ error = Errors{}

func (errs Errors) Error() string {
	switch len(errs) {
	case 0:
		return "<nil>"
	case 1:
		return errs[0].Error()
	default:
		msg := "errors:\n"
		for _, err := range errs {
			msg += err.Error() + "\n"
		}
		return msg
	}
}

// Len returns the current number of errors.
func (errs Errors) Len() int {
	return len(errs)
}

// MarshalJSON converts slice of errors into the wire format.
func (errs Errors) MarshalJSON() ([]byte, error) {
	var tmpErrs struct {
		Errors []Error `json:"errors,omitempty"`
	}

	for _, daErr := range errs {
		var err Error
		switch daErr := daErr.(type) {
		case ErrorCode:
			err = daErr.WithDetail(nil)
		case Error:
			err = daErr
		default:
			err = ErrorCodeUnknown.WithDetail(daErr)
		}

		// undocumented codes serialize with the default message so the client always sees text
		if err.Message == "" {
			err.Message = err.Code.Message()
		}

		tmpErrs.Errors = append(tmpErrs.Errors, err)
	}

	return json.Marshal(tmpErrs)
}

// UnmarshalJSON deserializes the wire format back into Errors.
func (errs *Errors) UnmarshalJSON(data []byte) error {
	var tmpErrs struct {
		Errors []Error
	}

	if err := json.Unmarshal(data, &tmpErrs); err != nil {
		return err
	}

	var newErrs Errors
	for _, daErr := range tmpErrs.Errors {
		if daErr.Detail == nil && (daErr.Message == "" || daErr.Message == daErr.Code.Message()) {
			newErrs = append(newErrs, daErr.Code)
		} else {
			newErrs = append(newErrs, daErr)
		}
	}

	*errs = newErrs
	return nil
}

// ServeJSON attempts to serve the errcode in a JSON envelope. It marshals err and sets the HTTP
// status code determined by the first error in the group.
func ServeJSON(w http.ResponseWriter, err error) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	var sc int

	switch errs := err.(type) {
	case Errors:
		if len(errs) < 1 {
			break
		}

		if err, ok := errs[0].(ErrorCoder); ok {
			sc = err.ErrorCode().Descriptor().HTTPStatusCode
		}

	case ErrorCoder:
		sc = errs.ErrorCode().Descriptor().HTTPStatusCode
		err = Errors{err}

	default:
		err = Errors{err}
	}

	if sc == 0 {
		sc = http.StatusInternalServerError
	}

	w.WriteHeader(sc)

	return json.NewEncoder(w).Encode(err)
}
