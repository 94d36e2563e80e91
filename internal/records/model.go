package records

import "time"

// Record is one saved analysis: a linked-mode container plus the artifact ids
// it references.
type Record struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	StateKey   string    `json:"-"`
	StateBytes int64     `json:"size"`
	Files      []string  `json:"files"`
	CreatedAt  time.Time `json:"createdAt"`
}
