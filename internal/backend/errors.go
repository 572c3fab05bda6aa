package backend

import (
	"errors"
	"fmt"
	"strings"

	"pithos/pkg/hashmap"
)

var (
	ErrNotAllowed        = errors.New("not allowed")
	ErrItemNotExists     = errors.New("item does not exist")
	ErrVersionNotExists  = errors.New("version does not exist")
	ErrAccountExists     = errors.New("account already exists")
	ErrContainerExists   = errors.New("container already exists")
	ErrAccountNotEmpty   = errors.New("account is not empty")
	ErrContainerNotEmpty = errors.New("container is not empty")
	ErrInvalidPolicy     = errors.New("invalid policy")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrSessionFinished   = errors.New("session already finished")
	ErrInvalidHash       = hashmap.ErrInvalidHash
)

// QuotaError reports a write refused because it takes a resource over its
// limit. Limit and Usage are zero when the refusal came from an external
// quotaholder that did not report them.
type QuotaError struct {
	Resource string
	Limit    int64
	Usage    int64
	Err      error
}

func (e *QuotaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s quota exceeded: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("%s quota exceeded: limit: %d, usage: %d", e.Resource, e.Limit, e.Usage)
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// IncompleteUploadError lists the blocks of a hashmap that are not stored
// yet. The caller uploads exactly those blocks and retries.
type IncompleteUploadError struct {
	Missing []string
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("incomplete upload: %d missing blocks: %s", len(e.Missing), strings.Join(e.Missing, ","))
}
