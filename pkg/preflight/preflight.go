// Package preflight checks that an artifact store accepts the calls a
// deploy makes before any local file is uploaded.
package preflight

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/livyctl/pkg/output"
	"github.com/3leaps/livyctl/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModePlanOnly   Mode = "plan-only"
	ModeReadSafe   Mode = "read-safe"
	ModeWriteProbe Mode = "write-probe"
)

// ProbeStrategy selects how write access is probed.
type ProbeStrategy string

const (
	// ProbePutDelete uploads an empty marker object and deletes it again.
	ProbePutDelete ProbeStrategy = "put-delete"
	// ProbePutOnly uploads the marker and leaves it in place. Used for
	// stores that do not support deletes.
	ProbePutOnly ProbeStrategy = "put-only"
)

// DefaultProbeFolder is joined onto the upload folder for probe objects.
const DefaultProbeFolder = ".livyctl-preflight"

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode          Mode
	ProbeStrategy ProbeStrategy
	ProbePrefix   string
}

// Capability names are stable strings used in JSONL output.
const (
	CapStoreList   = "store.list"
	CapStoreHead   = "store.head"
	CapStoreWrite  = "store.write"
	CapStoreDelete = "store.delete"
)

// Store runs preflight checks against an artifact store. folder is the
// upload folder a deploy would write under.
//
// Ordering (fail-fast): list, head, then the write probe when enabled.
func Store(ctx context.Context, store provider.Provider, folder string, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:          string(spec.Mode),
		ProbeStrategy: string(spec.ProbeStrategy),
		ProbePrefix:   spec.ProbePrefix,
		Results:       []output.PreflightCheckResult{},
	}

	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	listMethod := fmt.Sprintf("List(prefix=%q,maxKeys=1)", folder)
	if _, err := store.List(ctx, provider.ListOptions{Prefix: folder, MaxKeys: 1}); err != nil {
		rec.Results = append(rec.Results, denied(CapStoreList, listMethod, err))
		return rec, err
	}
	rec.Results = append(rec.Results, allowed(CapStoreList, listMethod))

	headKey := joinPrefix(folder, "head-"+uuid.NewString())
	if _, err := store.Head(ctx, headKey); err != nil && !provider.IsNotFound(err) {
		rec.Results = append(rec.Results, denied(CapStoreHead, "Head(random)", err))
		return rec, err
	}
	rec.Results = append(rec.Results, allowed(CapStoreHead, "Head(random)"))

	if spec.Mode != ModeWriteProbe {
		return rec, nil
	}

	probeRec, err := WriteProbe(ctx, store, folder, spec)
	rec.ProbePrefix = probeRec.ProbePrefix
	rec.Results = append(rec.Results, probeRec.Results...)
	return rec, err
}

// WriteProbe verifies that the store accepts uploads under folder.
func WriteProbe(ctx context.Context, store provider.Provider, folder string, spec Spec) (*output.PreflightRecord, error) {
	prefix := spec.ProbePrefix
	if prefix == "" {
		prefix = joinPrefix(folder, DefaultProbeFolder)
	}
	strategy := spec.ProbeStrategy
	if strategy == "" {
		strategy = ProbePutDelete
	}
	rec := &output.PreflightRecord{
		Mode:          string(ModeWriteProbe),
		ProbeStrategy: string(strategy),
		ProbePrefix:   prefix,
		Results:       []output.PreflightCheckResult{},
	}

	key := joinPrefix(prefix, "probe-"+uuid.NewString())
	if err := store.PutObject(ctx, key, bytes.NewReader(nil), 0); err != nil {
		rec.Results = append(rec.Results, denied(CapStoreWrite, "PutObject(empty)", err))
		return rec, err
	}
	rec.Results = append(rec.Results, allowed(CapStoreWrite, "PutObject(empty)"))

	if strategy == ProbePutOnly {
		return rec, nil
	}

	deleter, ok := store.(provider.ObjectDeleter)
	if !ok {
		err := fmt.Errorf("artifact store does not support DeleteObject; probe object left at %s", store.URI(key))
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapStoreDelete,
			Allowed:    false,
			Method:     "DeleteObject(probe)",
			ErrorCode:  output.ErrCodeInternal,
			Detail:     err.Error(),
		})
		return rec, err
	}
	if err := deleter.DeleteObject(ctx, key); err != nil {
		rec.Results = append(rec.Results, denied(CapStoreDelete, "DeleteObject(probe)", err))
		return rec, err
	}
	rec.Results = append(rec.Results, allowed(CapStoreDelete, "DeleteObject(probe)"))
	return rec, nil
}

func allowed(capability, method string) output.PreflightCheckResult {
	return output.PreflightCheckResult{Capability: capability, Allowed: true, Method: method}
}

func denied(capability, method string, err error) output.PreflightCheckResult {
	return output.PreflightCheckResult{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  normalizeErrorCode(err),
		Detail:     err.Error(),
	}
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsBucketNotFound(err), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeServiceUnavailable
	default:
		return output.ErrCodeInternal
	}
}

func joinPrefix(prefix, suffix string) string {
	if prefix == "" {
		return strings.TrimPrefix(suffix, "/")
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + strings.TrimPrefix(suffix, "/")
	}
	return prefix + "/" + strings.TrimPrefix(suffix, "/")
}
