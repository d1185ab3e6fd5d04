package metrics

// EmbeddingLatencyBuckets covers provider round-trips from a few milliseconds to tens of seconds.
var EmbeddingLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// QueryLatencyBuckets covers a single retrieval, dominated by query embedding.
var QueryLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
