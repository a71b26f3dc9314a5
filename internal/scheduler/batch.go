// Package scheduler selects and paces per-cycle extraction work: it rotates
// candidates across domains, skips cooled-down domains, and chooses the pause
// before the next batch.
package scheduler

import "github.com/newsloom/extractor/internal/extract"

// SelectBatch picks up to size candidates, interleaving round-robin across
// distinct domains instead of clustering on one. Per-domain order is
// preserved. Clustering is what trips per-domain limits, so a batch like
// [a a a b b c] comes out as [a b c a b a].
func SelectBatch(candidates []extract.Candidate, size int) []extract.Candidate {
	if size <= 0 || len(candidates) == 0 {
		return nil
	}

	var order []string
	byDomain := make(map[string][]extract.Candidate)
	for _, c := range candidates {
		if _, seen := byDomain[c.Domain]; !seen {
			order = append(order, c.Domain)
		}
		byDomain[c.Domain] = append(byDomain[c.Domain], c)
	}

	batch := make([]extract.Candidate, 0, min(size, len(candidates)))
	for len(batch) < size {
		advanced := false
		for _, domain := range order {
			queue := byDomain[domain]
			if len(queue) == 0 {
				continue
			}
			batch = append(batch, queue[0])
			byDomain[domain] = queue[1:]
			advanced = true
			if len(batch) == size {
				break
			}
		}
		if !advanced {
			break
		}
	}
	return batch
}
