package workflow

import (
	"fmt"
	"strings"
)

// Category is the closed set of issue classifications chosen during Plan.
type Category string

const (
	CategoryFeature     Category = "feature"
	CategoryBugFix      Category = "bug-fix"
	CategoryMaintenance Category = "maintenance"
	CategoryDirectPatch Category = "direct-patch"
)

// ValidCategories defines allowed values for issue_category
var ValidCategories = map[Category]bool{
	CategoryFeature:     true,
	CategoryBugFix:      true,
	CategoryMaintenance: true,
	CategoryDirectPatch: true,
}

// categoryAliases maps slash commands and common labels onto categories.
var categoryAliases = map[string]Category{
	"feature":      CategoryFeature,
	"/feature":     CategoryFeature,
	"feat":         CategoryFeature,
	"enhancement":  CategoryFeature,
	"bug-fix":      CategoryBugFix,
	"bug":          CategoryBugFix,
	"/bug":         CategoryBugFix,
	"bugfix":       CategoryBugFix,
	"fix":          CategoryBugFix,
	"maintenance":  CategoryMaintenance,
	"chore":        CategoryMaintenance,
	"/chore":       CategoryMaintenance,
	"direct-patch": CategoryDirectPatch,
	"patch":        CategoryDirectPatch,
	"/patch":       CategoryDirectPatch,
}

// ParseCategory accepts a canonical category or one of its aliases
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown issue category %q", s)
}

// ExtractCategory scans free-form agent output for the first recognisable
// classification token.
func ExtractCategory(output string) (Category, bool) {
	fields := strings.FieldsFunc(strings.ToLower(output), func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '`' || r == '"' || r == ',' || r == '.'
	})
	for _, f := range fields {
		if c, ok := categoryAliases[f]; ok {
			return c, true
		}
	}
	return "", false
}

// ModelTier selects the agent capability level requested by later phases.
type ModelTier string

const (
	ModelTierStandard ModelTier = "standard"
	ModelTierElevated ModelTier = "elevated"
)

// ParseModelTier validates a model tier string
func ParseModelTier(s string) (ModelTier, error) {
	switch ModelTier(strings.ToLower(strings.TrimSpace(s))) {
	case ModelTierStandard:
		return ModelTierStandard, nil
	case ModelTierElevated:
		return ModelTierElevated, nil
	}
	return "", fmt.Errorf("unknown model tier %q (expected standard or elevated)", s)
}

// TierFromIssueBody looks for an explicit "model_tier: <tier>" directive in the
// issue text and falls back to def.
func TierFromIssueBody(body string, def ModelTier) ModelTier {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.ToLower(strings.TrimSpace(key)) != "model_tier" {
			continue
		}
		if tier, err := ParseModelTier(value); err == nil {
			return tier
		}
	}
	return def
}

// Family identifies which of the two workflow families a run belongs to.
type Family string

const (
	FamilyApp   Family = "app"
	FamilyInfra Family = "infra"
)

// ParseFamily validates a workflow family string
func ParseFamily(s string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case FamilyApp:
		return FamilyApp, nil
	case FamilyInfra:
		return FamilyInfra, nil
	}
	return "", fmt.Errorf("unknown workflow family %q (expected app or infra)", s)
}
