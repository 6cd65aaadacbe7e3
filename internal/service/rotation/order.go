package rotation

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

// orderMembers arranges active members into passage order under the given
// policy. The returned slice index is the zero-based rank.
func orderMembers(members []domain.Member, policy domain.RotationPolicy, rng *rand.Rand) ([]domain.Member, error) {
	ordered := make([]domain.Member, len(members))
	copy(ordered, members)

	switch policy {
	case domain.RotationPolicyRandom:
		rng.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	case domain.RotationPolicyAlphabetical:
		sort.SliceStable(ordered, func(i, j int) bool {
			a := strings.ToLower(ordered[i].DisplayName)
			b := strings.ToLower(ordered[j].DisplayName)
			if a != b {
				return a < b
			}
			// Same display name happens in practice; fall back to seniority,
			// then the id so the order is total.
			if !ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
				return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
			}
			return lessUUID(ordered[i], ordered[j])
		})
	case domain.RotationPolicyJoinDate:
		sort.SliceStable(ordered, func(i, j int) bool {
			if !ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
				return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
			}
			return lessUUID(ordered[i], ordered[j])
		})
	default:
		return nil, fmt.Errorf("orderMembers: policy %q: %w", policy, domain.ErrInvalidState)
	}
	return ordered, nil
}

func lessUUID(a, b domain.Member) bool {
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
