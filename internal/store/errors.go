package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
)

var indexNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkIndexName rejects names that cannot be used as a table or directory name.
func checkIndexName(index string) error {
	if !indexNamePattern.MatchString(index) {
		return relerrors.ValidationError(fmt.Sprintf("invalid index name %q", index), nil).
			WithDetail("index", index)
	}
	return nil
}

// transportErr classifies a backend failure. Deadline and cancellation map
// to the timeout code, anything else to a generic transport failure.
func transportErr(op, index string, err error) error {
	if err == nil {
		return nil
	}
	var re *relerrors.RelError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return relerrors.New(relerrors.ErrCodeTransportTimeout, op+" timed out", err).
			WithDetail("index", index).
			WithDetail("op", op)
	}
	return relerrors.TransportError(op+" failed", err).
		WithDetail("index", index).
		WithDetail("op", op)
}
