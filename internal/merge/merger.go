// Package merge implements the Overlap Merger: it reconciles
// the word stream of the current chunk against the previous chunk's words
// over the declared overlap region, so the stitched stream contains no
// duplicated words.
package merge

import (
	"strings"
	"time"

	"github.com/askid/voicecore/internal/asr"
)

// Method identifies which strategy found the merge point.
type Method string

const (
	MethodExact     Method = "exact"
	MethodFuzzy     Method = "fuzzy"
	MethodTimestamp Method = "timestamp"
	MethodNone      Method = "none"
)

// Result is what FindMergePoint returns.
type Result struct {
	MergeIndex   int
	Method       Method
	Confidence   float64
	MatchedWords int
}

// FindMergePoint identifies the index into currWords at which newly
// processed content begins, given prevWords (the previous chunk's
// stitched words) and the current chunk's declared overlap duration.
func FindMergePoint(prevWords, currWords []asr.Word, overlapDuration time.Duration) Result {
	if overlapDuration <= 0 || len(prevWords) == 0 || len(currWords) == 0 {
		return Result{MergeIndex: 0, Method: MethodNone, Confidence: 1.0}
	}
	overlapSec := overlapDuration.Seconds()

	prevEnd := 0.0
	for _, w := range prevWords {
		if w.TEnd > prevEnd {
			prevEnd = w.TEnd
		}
	}
	prevRegionStart := prevEnd - overlapSec

	var prevRange []asr.Word
	for _, w := range prevWords {
		if w.TEnd >= prevRegionStart {
			prevRange = append(prevRange, w)
		}
	}

	var currRange []asr.Word
	for _, w := range currWords {
		if w.TStart < overlapSec {
			currRange = append(currRange, w)
		} else {
			break
		}
	}

	if len(prevRange) == 0 || len(currRange) == 0 {
		return timestampCut(currWords, overlapSec)
	}

	if idx, matched, ok := exactMatch(prevRange, currRange); ok {
		total := len(currRange)
		conf := float64(matched) / float64(max(total, 1))
		return Result{MergeIndex: idx, Method: MethodExact, Confidence: conf, MatchedWords: matched}
	}

	if idx, matched, ok := fuzzyMatch(prevRange, currRange); ok {
		total := len(currRange)
		conf := 0.5 * float64(matched) / float64(max(total, 1))
		return Result{MergeIndex: idx, Method: MethodFuzzy, Confidence: conf, MatchedWords: matched}
	}

	return timestampCut(currWords, overlapSec)
}

// AdjustTimestamps subtracts overlapDuration from every word's timestamps,
// converting overlap-region-local times back to chunk-local time. Zero
// overlap is the identity transform.
func AdjustTimestamps(words []asr.Word, overlapDuration time.Duration) []asr.Word {
	if overlapDuration == 0 {
		out := make([]asr.Word, len(words))
		copy(out, words)
		return out
	}
	shift := overlapDuration.Seconds()
	out := make([]asr.Word, len(words))
	for i, w := range words {
		w.TStart -= shift
		w.TEnd -= shift
		out[i] = w
	}
	return out
}

func timestampCut(currWords []asr.Word, overlapSec float64) Result {
	idx := 0
	for i, w := range currWords {
		if w.TStart >= overlapSec {
			idx = i
			return Result{MergeIndex: idx, Method: MethodTimestamp, Confidence: 0.3}
		}
	}
	return Result{MergeIndex: len(currWords), Method: MethodTimestamp, Confidence: 0.3}
}

// exactMatch finds the longest common subsequence of normalized tokens
// between prevRange's tail and currRange's head. If the match covers at
// least 2 tokens (or every token of currRange when it holds fewer than 2),
// the merge index is the position right after the last matched token in
// currRange (mapped back into the original currWords index space by the
// caller via word identity, here by count from 0).
func exactMatch(prevRange, currRange []asr.Word) (mergeIndex, matched int, ok bool) {
	pt := normalizeAll(prevRange)
	ct := normalizeAll(currRange)

	need := 2
	if len(ct) < need {
		need = len(ct)
	}
	lcs := lcsIndices(pt, ct)
	if need == 0 || len(lcs) < need {
		return 0, 0, false
	}
	lastCurrIdx := lcs[len(lcs)-1].j
	return lastCurrIdx + 1, len(lcs), true
}

type lcsPair struct{ i, j int }

// lcsIndices returns, for the longest common subsequence of a and b, the
// (i,j) index pairs of matched tokens in order.
func lcsIndices(a, b []string) []lcsPair {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	var pairs []lcsPair
	i, j := 0, 0
	for i < n && j < m {
		if a[i] == b[j] {
			pairs = append(pairs, lcsPair{i, j})
			i++
			j++
		} else if dp[i+1][j] >= dp[i][j+1] {
			i++
		} else {
			j++
		}
	}
	return pairs
}

// fuzzyMatch is a looser version of exactMatch: tokens are compared after
// stripping punctuation and tolerating a small edit distance instead of
// requiring exact equality.
func fuzzyMatch(prevRange, currRange []asr.Word) (mergeIndex, matched int, ok bool) {
	pt := normalizeAll(prevRange)
	ct := normalizeAll(currRange)

	best := -1
	bestMatched := 0
	for start := 0; start < len(ct); start++ {
		count := 0
		pi := len(pt) - 1
		for cj := start; cj < len(ct) && pi >= 0; cj++ {
			if fuzzyEqual(pt[pi], ct[cj]) {
				count++
				pi--
			}
		}
		if count >= 2 && count > bestMatched {
			bestMatched = count
			best = start + count
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, bestMatched, true
}

func fuzzyEqual(a, b string) bool {
	if a == b {
		return true
	}
	return levenshtein(a, b) <= 1
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func normalizeAll(words []asr.Word) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = normalizeToken(w.Text)
	}
	return out
}

func normalizeToken(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
