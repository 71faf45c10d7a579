package boardsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/boardkeep/boardsync/internal/storage"
)

// ErrVerificationFailed means a write was acknowledged but could not be
// proven durable within the polling budget. The document is presumed NOT
// saved; callers retry the whole save rather than treating data as lost.
var ErrVerificationFailed = errors.New("write not verified")

type VerificationError struct {
	Path     string
	Attempts int
	LastErr  error
}

func (e *VerificationError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("write to %s not verified after %d reads: %v", e.Path, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("write to %s not verified after %d reads", e.Path, e.Attempts)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}

func (e *VerificationError) Unwrap() error {
	return e.LastErr
}

// DefaultVerifySchedule spaces the confirmation reads. The schedule is
// independent of the write retry budget because the store's consistency
// window is decoupled from its write acknowledgment.
var DefaultVerifySchedule = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// Verifier confirms a write landed by independently re-reading the object
// through the gateway's cache-bypassing read and comparing content digests.
type Verifier struct {
	Gateway  storage.Gateway
	Schedule []time.Duration
}

// Confirm polls until the object's digest matches want, returning nil on
// the first match and a VerificationError once the schedule is exhausted.
func (v *Verifier) Confirm(ctx context.Context, path, want string) error {
	schedule := v.Schedule
	if len(schedule) == 0 {
		schedule = DefaultVerifySchedule
	}
	var lastErr error
	for _, delay := range schedule {
		if err := waitWithContext(ctx, delay); err != nil {
			return err
		}
		data, err := v.Gateway.ReadFresh(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		if HashBytes(data) == want {
			return nil
		}
		lastErr = errors.New("content digest mismatch")
	}
	return &VerificationError{Path: path, Attempts: len(schedule), LastErr: lastErr}
}

// HashBytes is the content digest used for write verification and for the
// session's last confirmed hash.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
