package extract

import "likevault/internal/types"

// AssignRanks stamps a harvested batch with collection ranks above
// base. The feed renders newest-first, so the batch is walked from the
// end: the oldest post in the batch gets base+1 and the newest gets
// base+len. Replaying collection across runs then keeps earlier
// archives below later ones no matter how the feed re-renders.
func AssignRanks(base int64, batch []types.Candidate) {
	for i := range batch {
		batch[len(batch)-1-i].Post.CollectionRank = base + int64(i) + 1
	}
}
