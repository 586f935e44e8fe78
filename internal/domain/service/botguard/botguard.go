// Package botguard tags automated comments so that trigger listeners can
// tell bot output apart from human input and never re-trigger on it.
package botguard

import (
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// Markers for the two workflow families.
const (
	AppMarker   = "[ASW-AGENTS]"
	InfraMarker = "[ASW-INFRA-AGENTS]"
)

// Marker returns the marker of a workflow family. Unknown families fall back
// to the application marker.
func Marker(family workflow.Family) string {
	if family == workflow.FamilyInfra {
		return InfraMarker
	}
	return AppMarker
}

// FormatComment prefixes message with the family marker and the
// "<workflow id>_<phase>" origin tag.
func FormatComment(family workflow.Family, workflowID, phaseLabel, message string) string {
	return fmt.Sprintf("%s %s_%s: %s", Marker(family), workflowID, phaseLabel, message)
}

// IsBotAuthored reports whether text carries either marker.
func IsBotAuthored(text string) bool {
	return strings.Contains(text, AppMarker) || strings.Contains(text, InfraMarker)
}
