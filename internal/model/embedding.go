package model

// Embedding is a fixed-length vector describing an image's visual content.
// A nil Embedding means the item has none.
type Embedding []float64

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e)
}
