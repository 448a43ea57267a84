// Package metadata declares the data-access contract the orchestrator
// needs from the platform's metadata service (C11): resolving a job key
// to the object/version identifiers the executor stages into sandbox
// volumes. This package intentionally has no implementation here — the
// concrete client lives in the platform's metadata service module and is
// wired in at the orchestrator's composition root (cmd/orchestrator).
package metadata

import "context"

// ObjectRef identifies one versioned metadata object.
type ObjectRef struct {
	ObjectType string
	ObjectID   string
	Version    int32
}

// JobDefinition is the subset of a job's metadata the executor needs to
// stage its sandbox: the objects to materialize as input volumes and the
// objects expected to be produced as output volumes.
type JobDefinition struct {
	JobKey  string
	Inputs  map[string]ObjectRef // volume name -> input object
	Outputs map[string]ObjectRef // volume name -> expected output object
}

// DAL is the metadata data-access contract the orchestrator depends on.
// Implementations are expected to be thin gRPC clients against the
// platform's metadata service; none is provided in this module.
type DAL interface {
	// GetJobDefinition resolves jobKey to its full definition.
	GetJobDefinition(ctx context.Context, jobKey string) (*JobDefinition, error)

	// ResolveObject returns the storage location (a backend-specific URI)
	// of ref, for the executor to read from when staging an input volume.
	ResolveObject(ctx context.Context, ref ObjectRef) (storageURI string, err error)

	// PublishOutput records that ref was produced as jobKey's output in
	// volumeName, completing the job's metadata once the batch finishes.
	PublishOutput(ctx context.Context, jobKey, volumeName string, ref ObjectRef) error
}
