package capability

import "github.com/l1jgo/scriptrt/internal/core/ecs"

// TransformProvider reads and writes entity transforms. SetTransform must
// reject dead entities.
type TransformProvider interface {
	Transform(id ecs.EntityID) (ecs.Transform, bool)
	SetTransform(id ecs.EntityID, t ecs.Transform) error
}

// QueryProvider answers spatial and identity queries. Results are fresh slices.
type QueryProvider interface {
	FindByName(name string) []ecs.EntityID
	FindByTag(tag string) []ecs.EntityID
	Nearby(center ecs.Vec3, radius float64) []ecs.EntityID
}

// EntityProvider resolves references and accepts destroy requests.
type EntityProvider interface {
	Exists(id ecs.EntityID) bool
	Info(id ecs.EntityID) (ecs.Info, bool)
	ResolveGUID(guid string) (ecs.EntityID, bool)
	RequestDestroy(id ecs.EntityID)
}

// Providers bundles the host implementations injected into every surface.
// All three must be set.
type Providers struct {
	Transforms TransformProvider
	Queries    QueryProvider
	Entities   EntityProvider
}

// WorldProviders serves every provider from the reference world store.
func WorldProviders(w *ecs.World) Providers {
	return Providers{Transforms: w, Queries: w, Entities: w}
}
