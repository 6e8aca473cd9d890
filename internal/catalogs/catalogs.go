package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"tilecraft.ai/internal/encoding"
)

// Catalogs is the session-scoped, read-only view of the server dictionary.
// It is loaded once after joining a world and shared by reference.
type Catalogs struct {
	Kinds   KindTable
	Formats Formats
}

type KindDef struct {
	ID    uint32 `json:"id"`
	Name  string `json:"name"`
	Layer int    `json:"layer,omitempty"`
}

// KindTable maps numeric kind ids to names and back. Ids are only stable for
// the lifetime of one server deploy; persist names, not ids.
type KindTable struct {
	ByID   map[uint32]KindDef
	ByName map[string]uint32
	Digest string
}

func (t KindTable) Name(id uint32) (string, bool) {
	d, ok := t.ByID[id]
	return d.Name, ok
}

func (t KindTable) ID(name string) (uint32, bool) {
	id, ok := t.ByName[name]
	return id, ok
}

func (t KindTable) Layer(id uint32) (int, bool) {
	d, ok := t.ByID[id]
	return d.Layer, ok
}

func (t KindTable) Len() int { return len(t.ByID) }

// Sorted returns the definitions ordered by id.
func (t KindTable) Sorted() []KindDef {
	out := make([]KindDef, 0, len(t.ByID))
	for _, d := range t.ByID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load reads blocks.json from configDir and attaches the default argument formats.
func Load(configDir string) (*Catalogs, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		return nil, err
	}
	var defs []KindDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	kinds, err := NewKindTable(defs)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	return &Catalogs{Kinds: kinds, Formats: DefaultFormats()}, nil
}

// FromMappings builds catalogs from the name->id dictionary the server hands out on join.
func FromMappings(m map[string]uint32) (*Catalogs, error) {
	defs := make([]KindDef, 0, len(m))
	for name, id := range m {
		defs = append(defs, KindDef{ID: id, Name: name})
	}
	kinds, err := NewKindTable(defs)
	if err != nil {
		return nil, err
	}
	return &Catalogs{Kinds: kinds, Formats: DefaultFormats()}, nil
}

// NewKindTable validates that ids and names form a bijection.
func NewKindTable(defs []KindDef) (KindTable, error) {
	t := KindTable{
		ByID:   make(map[uint32]KindDef, len(defs)),
		ByName: make(map[string]uint32, len(defs)),
	}
	names := mapset.NewThreadUnsafeSet[string]()
	for _, d := range defs {
		if d.Name == "" {
			return KindTable{}, fmt.Errorf("kind %d: empty name", d.ID)
		}
		if _, dup := t.ByID[d.ID]; dup {
			return KindTable{}, fmt.Errorf("duplicate kind id %d", d.ID)
		}
		if !names.Add(d.Name) {
			return KindTable{}, fmt.Errorf("duplicate kind name %q", d.Name)
		}
		t.ByID[d.ID] = d
		t.ByName[d.Name] = d.ID
	}
	b, _ := json.Marshal(t.Sorted())
	sum := sha256.Sum256(b)
	t.Digest = hex.EncodeToString(sum[:])
	return t, nil
}

// Formats maps kind names to the ordered tags of their extra arguments.
type Formats map[string][]encoding.Tag

// Of returns the format for name; kinds without an entry carry no arguments.
func (f Formats) Of(name string) []encoding.Tag {
	return f[name]
}

var (
	i32   = encoding.TagInt32
	boolT = encoding.TagBoolean
	str   = encoding.TagString
	blob  = encoding.TagByteArray
)

func DefaultFormats() Formats {
	return Formats{
		"coin_gold_door": {i32},
		"coin_blue_door": {i32},
		"coin_gold_gate": {i32},
		"coin_blue_gate": {i32},

		"effects_jump_height":     {i32},
		"effects_fly":             {boolT},
		"effects_speed":           {i32},
		"effects_invulnerability": {boolT},
		"effects_curse":           {i32},
		"effects_zombie":          {i32},
		"effects_gravityforce":    {i32},
		"effects_multi_jump":      {i32},

		"tool_portal_world_spawn": {i32},

		"sign_normal": {str},
		"sign_red":    {str},
		"sign_green":  {str},
		"sign_blue":   {str},
		"sign_gold":   {str},

		"portal":           {i32, i32, i32},
		"portal_invisible": {i32, i32, i32},
		"portal_world":     {str, i32},

		"switch_local_toggle":     {i32},
		"switch_local_activator":  {i32, boolT},
		"switch_local_resetter":   {boolT},
		"switch_local_door":       {i32},
		"switch_local_gate":       {i32},
		"switch_global_toggle":    {i32},
		"switch_global_activator": {i32, boolT},
		"switch_global_resetter":  {boolT},
		"switch_global_door":      {i32},
		"switch_global_gate":      {i32},

		"hazard_death_door": {i32},
		"hazard_death_gate": {i32},

		"note_drum":   {blob},
		"note_piano":  {blob},
		"note_guitar": {blob},
	}
}
