package data

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"gopkg.in/yaml.v3"
)

var ErrInvalidScene = errors.New("invalid scene")

// Scene is the startup population of the world.
type Scene struct {
	Name     string        `yaml:"name"`
	Entities []EntityEntry `yaml:"entities"`
}

// EntityEntry describes one entity and the behavior attached to it.
type EntityEntry struct {
	Name      string         `yaml:"name"`
	GUID      string         `yaml:"guid"`
	Tags      []string       `yaml:"tags"`
	Transform TransformEntry `yaml:"transform"`
	Script    string         `yaml:"script"` // behavior file name, with or without .lua
	Params    map[string]any `yaml:"params"`
}

// TransformEntry holds [x, y, z] triples. Omitted scale means unit scale.
type TransformEntry struct {
	Position []float64 `yaml:"position"`
	Rotation []float64 `yaml:"rotation"` // radians
	Scale    []float64 `yaml:"scale"`
}

// LoadScene reads and validates a scene file.
func LoadScene(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	return ParseScene(raw)
}

func ParseScene(raw []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	guids := make(map[string]int, len(s.Entities))
	for i := range s.Entities {
		e := &s.Entities[i]
		if _, err := e.Transform.build(); err != nil {
			return nil, fmt.Errorf("entity %d (%s): %w", i, e.Name, err)
		}
		if e.GUID != "" {
			if prev, dup := guids[e.GUID]; dup {
				return nil, fmt.Errorf("entity %d (%s): guid %q already used by entity %d: %w", i, e.Name, e.GUID, prev, ErrInvalidScene)
			}
			guids[e.GUID] = i
		}
		e.Script = strings.TrimSuffix(e.Script, ".lua")
	}
	return &s, nil
}

// Spawn converts the entry into a world spawn request.
func (e *EntityEntry) Spawn() (ecs.Spawn, error) {
	t, err := e.Transform.build()
	if err != nil {
		return ecs.Spawn{}, err
	}
	return ecs.Spawn{Name: e.Name, GUID: e.GUID, Tags: e.Tags, Transform: t}, nil
}

// Scripted returns the entries that carry a behavior, in file order.
func (s *Scene) Scripted() []*EntityEntry {
	var out []*EntityEntry
	for i := range s.Entities {
		if s.Entities[i].Script != "" {
			out = append(out, &s.Entities[i])
		}
	}
	return out
}

func (t TransformEntry) build() (ecs.Transform, error) {
	out := ecs.Identity()
	for _, f := range []struct {
		name string
		src  []float64
		dst  *ecs.Vec3
	}{
		{"position", t.Position, &out.Position},
		{"rotation", t.Rotation, &out.Rotation},
		{"scale", t.Scale, &out.Scale},
	} {
		if f.src == nil {
			continue
		}
		if len(f.src) != 3 {
			return ecs.Transform{}, fmt.Errorf("%s needs 3 components, got %d: %w", f.name, len(f.src), ErrInvalidScene)
		}
		*f.dst = ecs.Vec3{X: f.src[0], Y: f.src[1], Z: f.src[2]}
	}
	if err := out.Validate(); err != nil {
		return ecs.Transform{}, errors.Join(ErrInvalidScene, err)
	}
	return out, nil
}
