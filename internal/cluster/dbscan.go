package cluster

import "math"

// Label values produced by dbscan. Cluster ids start at 0.
const (
	labelUndefined = -2
	labelNoise     = -1
)

// dbscan runs density-based clustering over the vectors with the given
// neighborhood radius and minimum cluster size, returning one label
// per vector. Points that belong to no dense region are labeled
// labelNoise.
func dbscan(vectors [][]float32, eps float64, minPoints int) []int {
	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = labelUndefined
	}

	cluster := 0
	for i := range vectors {
		if labels[i] != labelUndefined {
			continue
		}

		neighbors := regionQuery(vectors, i, eps)
		if len(neighbors) < minPoints {
			labels[i] = labelNoise
			continue
		}

		labels[i] = cluster
		// Expand the cluster breadth-first through density-reachable
		// points. The frontier can grow while we walk it.
		frontier := neighbors
		for cursor := 0; cursor < len(frontier); cursor++ {
			j := frontier[cursor]
			if labels[j] == labelNoise {
				labels[j] = cluster
			}
			if labels[j] != labelUndefined {
				continue
			}
			labels[j] = cluster

			jNeighbors := regionQuery(vectors, j, eps)
			if len(jNeighbors) >= minPoints {
				frontier = append(frontier, jNeighbors...)
			}
		}
		cluster++
	}
	return labels
}

// regionQuery returns the indexes of all vectors within eps of vectors[i],
// including i itself.
func regionQuery(vectors [][]float32, i int, eps float64) []int {
	var neighbors []int
	for j := range vectors {
		if euclidean(vectors[i], vectors[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
