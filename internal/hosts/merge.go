package hosts

import "strings"

// 合并算法的纯函数实现，只操作内存中的行序列，不接触文件

// SplitLines 把文件内容拆分为行序列，统一换行符
func SplitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.Split(content, "\n")
}

// JoinLines 把行序列组合为文件内容，保证以单个换行符结尾
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}

// findBlockStart 定位规则块的起始行
// 取注释行与最早出现的条目行中靠前的一个
func findBlockStart(lines []string, r Rule) (int, bool) {
	start := -1

	for i, line := range lines {
		if matchesComment(line, r.Name) {
			start = i
			break
		}
	}

	for i, line := range lines {
		if start >= 0 && i >= start {
			break
		}
		for _, e := range r.Entries {
			if matchesEntry(line, e) {
				return i, true
			}
		}
	}

	if start >= 0 {
		return start, true
	}
	return -1, false
}

// blockEnd 从起始行向后扫描，遇到空行或下一个注释行即为块结束（不含）
func blockEnd(lines []string, start int) int {
	j := start + 1
	for j < len(lines) {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			break
		}
		j++
	}
	return j
}

// stripRuleLines 删除序列中属于指定规则的行
// 用于清理块之外残留的旧注释行和旧条目
func stripRuleLines(lines []string, r Rule) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if matchesRule(line, r) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// trimTrailingBlank 去掉序列末尾的空行
func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// trimLeadingBlank 去掉序列开头的空行
func trimLeadingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}

// mergeRule 把单条规则的块合并进行序列
// 找不到旧块时追加到末尾，找到时原位替换并清理其后的重复行
func mergeRule(lines []string, r Rule) []string {
	block := r.Block()

	start, found := findBlockStart(lines, r)
	if !found {
		// 末尾追加，块前后各保留一个空行
		out := trimTrailingBlank(lines)
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, block...)
		out = append(out, "")
		return out
	}

	end := blockEnd(lines, start)

	// 块之前的内容，保证与块之间恰好一个空行
	head := trimTrailingBlank(append([]string{}, lines[:start]...))
	if len(head) > 0 {
		head = append(head, "")
	}

	// 块之后的内容，先清理残留的旧注释行和旧条目，再保证恰好一个空行分隔
	rest := stripRuleLines(append([]string{}, lines[end:]...), r)
	rest = trimLeadingBlank(rest)

	out := append(head, block...)
	out = append(out, "")
	out = append(out, rest...)
	return out
}

// normalizeLines 规范化空行
// 连续三个及以上空行压缩为一个，末尾不留空行
func normalizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			continue
		}
		if blankRun > 0 {
			if blankRun >= 3 {
				out = append(out, "")
			} else {
				for i := 0; i < blankRun; i++ {
					out = append(out, "")
				}
			}
			blankRun = 0
		}
		out = append(out, line)
	}
	return out
}

// MergeRules 把启用规则的块合并进文件内容，返回规范化后的结果
// 对同一规则集重复调用收敛到字节一致的输出
func MergeRules(content string, rules []Rule) string {
	lines := SplitLines(content)
	for _, r := range EnabledRules(rules) {
		lines = mergeRule(lines, r)
	}
	lines = normalizeLines(lines)
	return JoinLines(lines)
}
