package character

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
)

// LoadGLTF reads a .gltf or .glb rig and derives a template from its morph
// target names and a character from its first skin. Both take their id from
// the file name.
func LoadGLTF(path string) (*Template, *Character, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open gltf: %w", err)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tmpl, char, err := FromGLTF(id, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return tmpl, char, nil
}

// FromGLTF converts a decoded glTF document.
func FromGLTF(id string, doc *gltf.Document) (*Template, *Character, error) {
	if doc == nil || len(doc.Meshes) == 0 {
		return nil, nil, fmt.Errorf("no meshes in file: %w", ErrNoMorphTargets)
	}

	tmpl := &Template{ID: id, Name: id}
	seen := make(map[string]bool)

	for mi, mesh := range doc.Meshes {
		count := 0
		for _, prim := range mesh.Primitives {
			count = max(count, len(prim.Targets))
		}
		if count == 0 {
			continue
		}

		names := targetNames(mesh.Extras)
		for i := 0; i < count; i++ {
			name := fmt.Sprintf("target_%d", i)
			if len(doc.Meshes) > 1 {
				name = fmt.Sprintf("mesh%d_target_%d", mi, i)
			}
			if i < len(names) && names[i] != "" {
				name = names[i]
			}
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			tmpl.MorphTargets = append(tmpl.MorphTargets, MorphTarget{ID: name, Name: mesh.Name})
		}
	}

	if len(tmpl.MorphTargets) == 0 {
		return nil, nil, ErrNoMorphTargets
	}

	char := &Character{
		ID:         id,
		Name:       id,
		TemplateID: id,
		Skeleton:   skeletonFromGLTF(doc),
		MorphState: make(map[string]float64, len(tmpl.MorphTargets)),
	}
	return tmpl, char, nil
}

// targetNames reads the conventional extras.targetNames array.
func targetNames(extras any) []string {
	m, ok := extras.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m["targetNames"].([]interface{})
	if !ok {
		return nil
	}
	names := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			names[i] = s
		}
	}
	return names
}

func skeletonFromGLTF(doc *gltf.Document) Skeleton {
	if len(doc.Skins) == 0 {
		return Skeleton{}
	}
	skin := doc.Skins[0]

	parent := make(map[int]int)
	for ni, node := range doc.Nodes {
		for _, child := range node.Children {
			parent[child] = ni
		}
	}

	nodeID := func(i int) string {
		if i < 0 || i >= len(doc.Nodes) {
			return ""
		}
		if name := doc.Nodes[i].Name; name != "" {
			return name
		}
		return fmt.Sprintf("node_%d", i)
	}

	joints := make(map[int]bool, len(skin.Joints))
	for _, j := range skin.Joints {
		joints[j] = true
	}

	var sk Skeleton
	for _, j := range skin.Joints {
		b := Bone{ID: nodeID(j), Name: nodeID(j)}
		if p, ok := parent[j]; ok && joints[p] {
			b.ParentID = nodeID(p)
		} else if sk.RootBoneID == "" {
			sk.RootBoneID = b.ID
		}
		sk.Bones = append(sk.Bones, b)
	}

	if skin.Skeleton != nil {
		if id := nodeID(*skin.Skeleton); id != "" {
			sk.RootBoneID = id
		}
	}
	return sk
}
