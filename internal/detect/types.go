package detect

// Origin identifies which detection pass produced an entity.
type Origin string

const (
	OriginDenyList Origin = "deny_list"
	OriginRegex    Origin = "regex"
	OriginNLP      Origin = "nlp"
)

// Entity is a detected PII span. Offsets are byte offsets into the source
// string with Start < End <= len(text). Entities are produced fresh per
// call and never cached across rows.
type Entity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Origin     Origin  `json:"origin"`
}

// Length returns the span width in bytes.
func (e Entity) Length() int { return e.End - e.Start }

// overlaps reports whether two spans intersect.
func (e Entity) overlaps(other Entity) bool {
	return e.Start < other.End && other.Start < e.End
}
