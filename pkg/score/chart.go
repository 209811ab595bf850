package score

// ChartScore converts a 1-based chart rank into a 0-100 popularity score:
// rank 1 scores 100 and each further position costs one point. A nil or
// non-positive rank, or one beyond maxRank, counts as not charting.
func ChartScore(rank *int, maxRank int) float64 {
	if rank == nil || *rank < 1 || *rank > maxRank {
		return 0
	}
	return float64(max(100-(*rank-1), 0))
}
