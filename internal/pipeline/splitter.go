package pipeline

// splitter.go 实现带重叠的文本分块。
// 在窗口内按优先级寻找分隔符（段落 → 换行 → 句末标点 → 逗号 → 空格），
// 避免从词中间截断；窗口内找不到任何分隔符时退化为硬切。

// 分隔符优先级，从高到低。每一级是一组等价的分隔序列。
var separatorPriority = [][][]rune{
	{[]rune("\n\n")},
	{[]rune("\n")},
	{[]rune("。"), []rune("．"), []rune("."), []rune("！"), []rune("!"), []rune("？"), []rune("?")},
	{[]rune("，"), []rune(",")},
	{[]rune(" ")},
}

// SplitText 将长文本按指定大小和重叠切分为有序分块。
// 所有长度按 rune 计。除最后一块外，每一块都在分隔符后结束；
// 第 i+1 块从第 i 块结束位置向前 chunkOverlap 个字符处开始，
// 因此 chunks[0] + Σ chunks[i][chunkOverlap:] 可以无损还原原文。
func SplitText(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		// 无效重叠退化为不重叠
		chunkOverlap = 0
	}

	var chunks []string
	start := 0
	for {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		cut := findCut(runes, start+chunkOverlap+1, end)
		chunks = append(chunks, string(runes[start:cut]))
		// 下一块从切点向前 chunkOverlap 个字符处开始
		start = cut - chunkOverlap
	}
	return chunks
}

// findCut 在 runes[lo:end] 范围内寻找切点：优先级最高的分隔符的最后一次出现，
// 切点落在分隔符之后（分隔符归属左侧分块）。找不到时硬切在 end。
// lo 的下界保证了每次切分都有前进量。
func findCut(runes []rune, lo, end int) int {
	if lo < 1 {
		lo = 1
	}
	for _, group := range separatorPriority {
		best := -1
		for _, sep := range group {
			// 从后往前找该分隔序列的最后一次完整出现
			for pos := end - len(sep); pos >= lo-1; pos-- {
				if matchAt(runes, pos, sep) {
					cut := pos + len(sep)
					if cut >= lo && cut <= end && cut > best {
						best = cut
					}
					break
				}
			}
		}
		if best > 0 {
			return best
		}
	}
	return end
}

func matchAt(runes []rune, pos int, sep []rune) bool {
	if pos < 0 || pos+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}
