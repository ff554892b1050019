package digest

import (
	"strings"

	"gardennotify/internal/types"
)

const chainSeparator = " › "

// TargetIndex resolves garden entity ids to names and parents. It is built
// from a user's plantings, which carry the full garden/bed/plant chain.
type TargetIndex struct {
	plantings map[string]types.Planting
	beds      map[string]types.Planting
	plants    map[string]types.Planting
	gardens   map[string]string
}

// NewTargetIndex indexes plantings. When several plantings share a bed or
// plant the first one wins for name lookups.
func NewTargetIndex(plantings []types.Planting) *TargetIndex {
	idx := &TargetIndex{
		plantings: make(map[string]types.Planting, len(plantings)),
		beds:      make(map[string]types.Planting),
		plants:    make(map[string]types.Planting),
		gardens:   make(map[string]string),
	}
	for _, p := range plantings {
		idx.plantings[p.ID] = p
		if _, ok := idx.beds[p.BedID]; !ok && p.BedID != "" {
			idx.beds[p.BedID] = p
		}
		if _, ok := idx.plants[p.PlantID]; !ok && p.PlantID != "" {
			idx.plants[p.PlantID] = p
		}
		if _, ok := idx.gardens[p.GardenID]; !ok && p.GardenID != "" {
			idx.gardens[p.GardenID] = p.GardenName
		}
	}
	return idx
}

// expand returns ref plus every ancestor the index knows about.
func (idx *TargetIndex) expand(ref types.TargetRef) []types.TargetRef {
	refs := []types.TargetRef{ref}
	if idx == nil {
		return refs
	}
	switch ref.Kind {
	case types.TargetPlanting:
		if p, ok := idx.plantings[ref.ID]; ok {
			refs = append(refs,
				types.TargetRef{Kind: types.TargetPlant, ID: p.PlantID},
				types.TargetRef{Kind: types.TargetBed, ID: p.BedID},
				types.TargetRef{Kind: types.TargetGarden, ID: p.GardenID},
			)
		}
	case types.TargetBed:
		if p, ok := idx.beds[ref.ID]; ok {
			refs = append(refs, types.TargetRef{Kind: types.TargetGarden, ID: p.GardenID})
		}
	}
	return refs
}

// chain renders the "Garden › Bed › Plant" context of ref.
func (idx *TargetIndex) chain(ref types.TargetRef) string {
	if idx == nil {
		return ""
	}
	var parts []string
	switch ref.Kind {
	case types.TargetPlanting:
		p, ok := idx.plantings[ref.ID]
		if !ok {
			return ""
		}
		parts = []string{p.GardenName, p.BedName, plantLabel(p)}
	case types.TargetBed:
		p, ok := idx.beds[ref.ID]
		if !ok {
			return ""
		}
		parts = []string{p.GardenName, p.BedName}
	case types.TargetPlant:
		p, ok := idx.plants[ref.ID]
		if !ok {
			return ""
		}
		parts = []string{p.PlantName}
	case types.TargetGarden:
		parts = []string{idx.gardens[ref.ID]}
	}
	return joinNonEmpty(parts)
}

func plantLabel(p types.Planting) string {
	if p.Nickname != "" && p.Nickname != p.PlantName {
		return p.PlantName + " (" + p.Nickname + ")"
	}
	return p.PlantName
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0:0]
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, chainSeparator)
}
