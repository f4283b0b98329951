package textsim

import (
	"math/bits"

	"github.com/go-dedup/simhash"
)

// RepeatDistance 汉明距离<=3 视为同一句的重复输出
const RepeatDistance = 3

// wordFeatureSet 实现 simhash.FeatureSet，使用词级 unigram + bigram 特征
type wordFeatureSet struct {
	words []string
}

func (w wordFeatureSet) GetFeatures() []simhash.Feature {
	features := make([]simhash.Feature, 0, len(w.words)*2)
	for i, word := range w.words {
		features = append(features, simhash.NewFeature([]byte(word)))
		if i > 0 {
			features = append(features, simhash.NewFeature([]byte(w.words[i-1]+" "+word)))
		}
	}
	return features
}

// Fingerprint 计算文本的 64 位 SimHash 指纹（基于规范化后的词）
func Fingerprint(text string) uint64 {
	words := Words(text)
	if len(words) == 0 {
		return 0
	}
	return simhash.NewSimhash().GetSimhash(wordFeatureSet{words: words})
}

// HammingDistance 计算两个指纹的汉明距离（0-64）
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// IsRepeat reports whether two texts are the same utterance up to minor variation.
func IsRepeat(a, b string) bool {
	if len(Words(a)) == 0 || len(Words(b)) == 0 {
		return false
	}
	return HammingDistance(Fingerprint(a), Fingerprint(b)) <= RepeatDistance
}
