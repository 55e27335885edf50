// Package errors defines the typed failure taxonomy returned by every ledger
// command. Each failure carries a stable numeric code plus the gRPC and HTTP
// status it maps to at the transport boundary.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is a namespaced error code.
type Code struct {
	Code       uint16
	Name       string
	GrpcCode   grpccodes.Code
	HTTPStatus int
}

var (
	AssetAlreadyExists      = Code{1, "AssetAlreadyExists", grpccodes.AlreadyExists, http.StatusConflict}
	AssetNotVerified        = Code{2, "AssetNotVerified", grpccodes.FailedPrecondition, http.StatusUnprocessableEntity}
	AlreadyVerified         = Code{3, "AlreadyVerified", grpccodes.FailedPrecondition, http.StatusConflict}
	InsufficientSupply      = Code{4, "InsufficientSupply", grpccodes.FailedPrecondition, http.StatusUnprocessableEntity}
	InsufficientFreeBalance = Code{5, "InsufficientFreeBalance", grpccodes.FailedPrecondition, http.StatusUnprocessableEntity}
	InsufficientListedUnits = Code{6, "InsufficientListedUnits", grpccodes.FailedPrecondition, http.StatusUnprocessableEntity}
	ListingInactive         = Code{7, "ListingInactive", grpccodes.FailedPrecondition, http.StatusConflict}
	Unauthorized            = Code{8, "Unauthorized", grpccodes.PermissionDenied, http.StatusForbidden}
	InvalidState            = Code{9, "InvalidState", grpccodes.FailedPrecondition, http.StatusConflict}
	AmountMismatch          = Code{10, "AmountMismatch", grpccodes.InvalidArgument, http.StatusUnprocessableEntity}
	InsufficientRepayment   = Code{11, "InsufficientRepayment", grpccodes.FailedPrecondition, http.StatusUnprocessableEntity}
	NotYetDue               = Code{12, "NotYetDue", grpccodes.FailedPrecondition, http.StatusConflict}
	NotFound                = Code{13, "NotFound", grpccodes.NotFound, http.StatusNotFound}
	InvalidArgument         = Code{14, "InvalidArgument", grpccodes.InvalidArgument, http.StatusBadRequest}
	InsufficientFunds       = Code{15, "InsufficientFunds", grpccodes.FailedPrecondition, http.StatusUnprocessableEntity}
	DuplicateRequest        = Code{16, "DuplicateRequest", grpccodes.AlreadyExists, http.StatusConflict}
	Internal                = Code{17, "Internal", grpccodes.Internal, http.StatusInternalServerError}
)

var codesByNumber = map[uint16]Code{}

func init() {
	for _, c := range []Code{
		AssetAlreadyExists, AssetNotVerified, AlreadyVerified, InsufficientSupply,
		InsufficientFreeBalance, InsufficientListedUnits, ListingInactive, Unauthorized,
		InvalidState, AmountMismatch, InsufficientRepayment, NotYetDue, NotFound,
		InvalidArgument, InsufficientFunds, DuplicateRequest, Internal,
	} {
		codesByNumber[c.Code] = c
	}
}

// Lookup returns the code registered under the given number.
func Lookup(number uint16) (Code, bool) {
	c, ok := codesByNumber[number]
	return c, ok
}

// New creates a new error with the given code and message.
func (c Code) New(msg string, args ...any) *TypedError {
	return &TypedError{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new error with the given code and cause.
func (c Code) Wrap(cause error) *TypedError {
	return &TypedError{
		code:  c,
		cause: cause,
	}
}

func (c Code) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

// Error lets a bare Code be used as an errors.Is target.
func (c Code) Error() string {
	return c.Name
}

// Error is implemented by every typed ledger failure.
type Error interface {
	error
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	HTTPStatus() int
	Metadata() map[string]string
}

// TypedError is the concrete Error implementation.
type TypedError struct {
	code     Code
	cause    error
	metadata map[string]any
}

// WithMetadata attaches a key/value detail. Returns the receiver for chaining.
func (e *TypedError) WithMetadata(key string, value any) *TypedError {
	if e.metadata == nil {
		e.metadata = make(map[string]any)
	}
	e.metadata[key] = value
	return e
}

func (e *TypedError) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *TypedError) Unwrap() error {
	return e.cause
}

// Is matches against a bare Code or another TypedError with the same code.
func (e *TypedError) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return t.Code == e.code.Code
	case *TypedError:
		return t.code.Code == e.code.Code
	}
	return false
}

func (e *TypedError) Code() uint16             { return e.code.Code }
func (e *TypedError) CodeName() string         { return e.code.Name }
func (e *TypedError) GrpcCode() grpccodes.Code { return e.code.GrpcCode }
func (e *TypedError) HTTPStatus() int          { return e.code.HTTPStatus }

// Message returns the cause without the code prefix.
func (e *TypedError) Message() string {
	return e.cause.Error()
}

// Metadata flattens the attached details to strings for transport.
func (e *TypedError) Metadata() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		default:
			buf, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprintf("%v", val)
				continue
			}
			out[k] = string(buf)
		}
	}
	return out
}

// MarshalZerologObject lets a typed error be logged with zerolog's Object().
func (e *TypedError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("name", e.code.Name).Uint16("code", e.code.Code)
	md := e.Metadata()
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Str(k, md[k])
	}
}

// As extracts the typed error from err, falling back to Internal.
func As(err error) *TypedError {
	if err == nil {
		return nil
	}
	var typed *TypedError
	if stderrors.As(err, &typed) {
		return typed
	}
	return Internal.Wrap(err)
}

// Body is the transport form of a typed error, shared by the HTTP API, the
// gRPC status details and NATS result messages.
type Body struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToBody converts err for transport. Untyped errors become Internal.
func ToBody(err error) Body {
	typed := As(err)
	b := Body{
		Code:    typed.Code(),
		Name:    typed.CodeName(),
		Message: typed.Message(),
	}
	if md := typed.Metadata(); len(md) > 0 {
		b.Metadata = md
	}
	return b
}

// Err rebuilds a typed error from its transport form.
func (b Body) Err() *TypedError {
	c, ok := Lookup(b.Code)
	if !ok {
		c = Internal
	}
	e := &TypedError{code: c, cause: stderrors.New(b.Message)}
	for k, v := range b.Metadata {
		e.WithMetadata(k, v)
	}
	return e
}
