package dispatch

import (
	"fmt"
	"os"
	"strings"

	"orderbot_backend/internal/suppression"

	"gopkg.in/yaml.v3"
)

// Canonical order statuses. Raw spreadsheet cells are folded onto these
// before any dispatch decision; an empty or unrecognized cell maps to new.
const (
	StatusNew       = "new"
	StatusNoAnswer  = "noAnswer"
	StatusCallback  = "callback"
	StatusConfirmed = "confirmed"
	StatusShipped   = "shipped"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// builtinSynonyms maps lowercased spreadsheet spellings to canonical
// statuses. Operators type these by hand, so Dutch and English variants
// and common shorthand all appear.
var builtinSynonyms = map[string]string{
	"new":            StatusNew,
	"nieuw":          StatusNew,
	"nieuwe order":   StatusNew,
	"open":           StatusNew,
	"no answer":      StatusNoAnswer,
	"noanswer":       StatusNoAnswer,
	"geen gehoor":    StatusNoAnswer,
	"niet opgenomen": StatusNoAnswer,
	"voicemail":      StatusNoAnswer,
	"callback":       StatusCallback,
	"terugbellen":    StatusCallback,
	"bel terug":      StatusCallback,
	"confirmed":      StatusConfirmed,
	"bevestigd":      StatusConfirmed,
	"akkoord":        StatusConfirmed,
	"shipped":        StatusShipped,
	"verzonden":      StatusShipped,
	"onderweg":       StatusShipped,
	"verstuurd":      StatusShipped,
	"rejected":       StatusRejected,
	"afgewezen":      StatusRejected,
	"geweigerd":      StatusRejected,
	"geannuleerd":    StatusCancelled,
	"cancelled":      StatusCancelled,
	"canceled":       StatusCancelled,
	"completed":      StatusCompleted,
	"afgerond":       StatusCompleted,
	"geleverd":       StatusCompleted,
}

// statusActions maps a canonical status to the message type its transition
// triggers. Statuses without an entry are tracked but never messaged.
var statusActions = map[string]suppression.MessageType{
	StatusNew:      suppression.TypeNewOrder,
	StatusNoAnswer: suppression.TypeNoAnswer,
	StatusShipped:  suppression.TypeShipped,
	StatusRejected: suppression.TypeRejectedOffer,
}

// StatusTable folds raw spreadsheet statuses onto canonical ones.
type StatusTable struct {
	synonyms map[string]string
}

// NewStatusTable builds the table from the built-in synonyms, optionally
// merged with an operator-maintained override file.
func NewStatusTable(overrideFile string) (*StatusTable, error) {
	synonyms := make(map[string]string, len(builtinSynonyms))
	for k, v := range builtinSynonyms {
		synonyms[k] = v
	}

	if overrideFile != "" {
		overrides, err := loadOverrides(overrideFile)
		if err != nil {
			return nil, err
		}
		for raw, canonical := range overrides {
			synonyms[strings.ToLower(strings.TrimSpace(raw))] = canonical
		}
	}

	return &StatusTable{synonyms: synonyms}, nil
}

// Normalize maps a raw status cell to its canonical status. Unknown and
// empty cells are treated as new orders, the safe default for rows an
// operator has not yet touched.
func (t *StatusTable) Normalize(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StatusNew
	}
	if canonical, ok := t.synonyms[key]; ok {
		return canonical
	}
	return StatusNew
}

// ActionFor returns the message type a transition into status triggers,
// or false when the status is tracked silently.
func ActionFor(status string) (suppression.MessageType, bool) {
	mt, ok := statusActions[status]
	return mt, ok
}

// ReminderEligible reports whether an order sitting unchanged in status
// qualifies for a reminder message.
func ReminderEligible(status string) bool {
	return status == StatusNoAnswer || status == StatusCallback
}

type overrideFile struct {
	Synonyms map[string]string `yaml:"synonyms"`
}

func loadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status map file: %w", err)
	}

	var parsed overrideFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse status map file: %w", err)
	}

	canonical := map[string]bool{
		StatusNew: true, StatusNoAnswer: true, StatusCallback: true,
		StatusConfirmed: true, StatusShipped: true, StatusRejected: true,
		StatusCompleted: true, StatusCancelled: true,
	}
	for raw, target := range parsed.Synonyms {
		if !canonical[target] {
			return nil, fmt.Errorf("status map file maps %q to unknown status %q", raw, target)
		}
	}
	return parsed.Synonyms, nil
}
