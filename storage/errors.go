package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"

	"ebay-harvester/models"
)

// Postgres error codes the writers care about.
const (
	ForeignKeyViolation = "23503"
	QueryCanceled       = "57014"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrEmptyPatch      = errors.New("patch has no fields to update")
)

// StorageError is a failed storage operation. A failed batch leaves no rows
// behind.
type StorageError struct {
	Op      string
	Code    string
	Timeout bool
	Err     error
}

func (e *StorageError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("storage: %s: timeout: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("storage: %s: [%s] %v", e.Op, e.Code, e.Err)
	default:
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
}

func (e *StorageError) Unwrap() error { return e.Err }

// wrap classifies err into a StorageError. Sentinel errors of this package
// and existing StorageErrors pass through unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrEmptyPatch) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}

	out := &StorageError{Op: op, Err: err}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		out.Code = string(pqErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		out.Timeout = true
	}
	return out
}

// wrapCtx is wrap for errors returned while ctx was live. lib/pq reports an
// expired deadline as a cancelled statement (57014), so the context decides
// whether the failure is a timeout.
func wrapCtx(ctx context.Context, op string, err error) error {
	err = wrap(op, err)
	var se *StorageError
	if errors.As(err, &se) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		se.Timeout = true
	}
	return err
}

// IsTimeout reports whether err is a storage timeout.
func IsTimeout(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Timeout
}

var patchValidator = validator.New()

// ValidatePatch rejects empty patches and values that do not fit the schema.
func ValidatePatch(p models.ProductPatch) error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	if err := patchValidator.Struct(p); err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	return nil
}
