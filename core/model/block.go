package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Block is one driver's work for one day: 1 to 3 tours ordered by start.
type Block struct {
	ID       string    `json:"id"`
	Day      int       `json:"day"`
	Type     BlockType `json:"type"`
	Tours    []string  `json:"tours"`
	StartMin int       `json:"start_min"`
	EndMin   int       `json:"end_min"`
	WorkMin  int       `json:"work_min"`
	PauseMin int       `json:"pause_min,omitempty"`
	Split    bool      `json:"split,omitempty"`
	Depot    string    `json:"depot,omitempty"`
	// Forced marks a single that violates a hard constraint on its own. It is
	// kept so the tour surfaces as uncovered instead of disappearing.
	Forced bool `json:"forced,omitempty"`
}

// SpanMin returns minutes from first start to last end.
func (b Block) SpanMin() int { return b.EndMin - b.StartMin }

// Contains reports whether the block holds the tour fingerprint.
func (b Block) Contains(fp string) bool {
	for _, t := range b.Tours {
		if t == fp {
			return true
		}
	}
	return false
}

// BlockID derives the stable id of a block from its day and ordered tours.
func BlockID(day int, tours []string) string {
	sum := sha256.Sum256([]byte("blk|" + strconv.Itoa(day) + "|" + strings.Join(tours, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// DriverSlot describes a capacity unit the solver may instantiate. Slots are
// addressed by Index while solving and only receive an external id when the
// roster is committed.
type DriverSlot struct {
	Index     int         `json:"index"`
	Class     DriverClass `json:"class"`
	WeeklyMin int         `json:"weekly_min"`
	Days      int         `json:"days"`
}
