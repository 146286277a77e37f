package consensus

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Fantasim/btcoracle/internal/models"
)

// group is a set of providers that returned identical facts.
type group struct {
	facts     *models.TransactionFacts // from the earliest responder in the group
	firstSeq  int64
	providers []string
}

// vote groups answers by factsKey and returns the groups ordered by votes
// descending, then by earliest first response.
func vote(answers []outcome) []*group {
	sorted := make([]outcome, len(answers))
	copy(sorted, answers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })

	byKey := make(map[string]*group)
	var groups []*group
	for _, a := range sorted {
		k := factsKey(a.facts)
		g, ok := byKey[k]
		if !ok {
			g = &group{facts: a.facts, firstSeq: a.seq}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.providers = append(g.providers, a.provider)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].providers) != len(groups[j].providers) {
			return len(groups[i].providers) > len(groups[j].providers)
		}
		return groups[i].firstSeq < groups[j].firstSeq
	})
	return groups
}

// factsKey covers every field of TransactionFacts except the provenance
// fields. SenderAddresses is already sorted by normalize.
func factsKey(f *models.TransactionFacts) string {
	var b strings.Builder
	b.WriteString(f.TxHash)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.AmountToTracked, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(f.ReceiverIsTracked))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.Confirmations, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.BlockHeight, 10))
	b.WriteByte('|')
	b.WriteString(strings.Join(f.SenderAddresses, ","))
	return b.String()
}
