// Package embedding defines the out-of-scope embedding-backend collaborator
// named: a thin interface plus one real-SDK adapter, since the
// embedding model itself is explicitly out of scope — only the boundary this
// repo calls through is tested.
package embedding

import "context"

// Backend turns text into a dense vector for C4/C5.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
