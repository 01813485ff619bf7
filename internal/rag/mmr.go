package rag

import "math"

// MMRReranker 最大边际相关性重排
// 每一步选择 λ·Sim(D,Q) − (1−λ)·max Sim(D,Di) 最大的候选，首个结果为最相关的候选
type MMRReranker struct {
	Lambda float64 // 相关性权重，取值 [0,1]
}

// NewMMRReranker 创建 MMR 重排器
func NewMMRReranker(lambda float64) *MMRReranker {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	return &MMRReranker{Lambda: lambda}
}

// Rerank 从候选中选出 k 个结果，候选必须带有向量
// 同分时取候选列表中靠前的一个，结果可复现
func (r *MMRReranker) Rerank(queryVector []float32, candidates []*RetrievalResult, k int) []*RetrievalResult {
	if k <= 0 || len(candidates) == 0 {
		return []*RetrievalResult{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, cand := range candidates {
		relevance[i] = CosineSimilarity(queryVector, cand.Chunk.Embedding)
	}

	// maxSim[i] 记录候选 i 与已选结果的最大相似度
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}
	picked := make([]bool, len(candidates))
	selected := make([]*RetrievalResult, 0, k)

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			score := relevance[i]
			if len(selected) > 0 {
				score = r.Lambda*relevance[i] - (1-r.Lambda)*maxSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		picked[best] = true
		selected = append(selected, candidates[best])
		for i := range candidates {
			if picked[i] {
				continue
			}
			if sim := CosineSimilarity(candidates[i].Chunk.Embedding, candidates[best].Chunk.Embedding); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	return selected
}

// CosineSimilarity 余弦相似度，维度不一致或零向量返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
