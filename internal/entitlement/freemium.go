package entitlement

import (
	"fmt"
	"sort"
	"strings"
)

// DirectSuffix names the tier a plain freemium agreement is stored as.
const DirectSuffix = "_direct"

// Freemium tier display titles in precedence order. The set is closed: an
// unknown tier title is a defect, not something to sort arbitrarily.
var tierTitles = []string{"Direct Use", "Exploration", "Commercial"}

// TierIndex returns the precedence position of a tier title.
func TierIndex(title string) (int, error) {
	for i, known := range tierTitles {
		if known == title {
			return i, nil
		}
	}
	return 0, fmt.Errorf("entitlement: unknown freemium tier %q", title)
}

// SortTierTitles orders tier titles by the fixed precedence
// Direct Use < Exploration < Commercial, failing on any unknown title.
func SortTierTitles(titles []string) error {
	indexes := make(map[string]int, len(titles))
	for _, title := range titles {
		idx, errIndex := TierIndex(title)
		if errIndex != nil {
			return errIndex
		}
		indexes[title] = idx
	}
	sort.Slice(titles, func(i, j int) bool {
		return indexes[titles[i]] < indexes[titles[j]]
	})
	return nil
}

// TierRequest is one requested tier change within a freemium family.
type TierRequest struct {
	LicenceName string `json:"licence_id"`
	Agreed      bool   `json:"agreed"`
}

// ReconcileFreemium folds a freemium family's tier changes into the pending
// group-update map, producing the minimal diff of external-group booleans.
// All tiers of a family map onto a single external group, so the group flag
// only changes when the user's overall membership in the family changes:
//
//   - some tier agreed, user already in the family: drop the key (no-op);
//   - some tier agreed, user new to the family: grant the group;
//   - no tier agreed but the user held the family through a direct variant
//     already flagged: drop the key; otherwise revoke the group.
//
// currentAgreements is the pre-change snapshot of the user's licence names.
func ReconcileFreemium(family string, requested []TierRequest, groups map[string]bool, currentAgreements []string) map[string]bool {
	agreed := 0
	for _, tier := range requested {
		if tier.Agreed {
			agreed++
		}
	}

	holdsFamily := anyContains(currentAgreements, family)
	_, flagged := groups[family]

	if agreed > 0 && flagged {
		if holdsFamily {
			delete(groups, family)
		} else {
			groups[family] = true
		}
	} else if agreed == 0 && holdsFamily {
		if anyContains(currentAgreements, family+DirectSuffix) && flagged {
			delete(groups, family)
		} else {
			groups[family] = false
		}
	}

	return groups
}

// anyContains reports whether any name contains the fragment. Family
// membership is a prefix relationship ("res_cov" matches "res_cov_direct").
func anyContains(names []string, fragment string) bool {
	for _, name := range names {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}
