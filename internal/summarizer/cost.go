package summarizer

// Share of total tokens assumed to be input. This is an approximation of the
// per-call breakdown and not suitable for billing reconciliation.
const inputTokenShare = 0.7

// EstimateCost prices totalTokens at the given per-1000-token rates, assuming
// a 70/30 input/output split
func EstimateCost(totalTokens int, inputPer1K, outputPer1K float64) float64 {
	if totalTokens <= 0 {
		return 0
	}
	tokens := float64(totalTokens)
	input := tokens * inputTokenShare
	output := tokens - input
	return input/1000*inputPer1K + output/1000*outputPer1K
}
