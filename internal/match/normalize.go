// Package match 在已加载的知识集上做关键词精确匹配与相关度排序。
package match

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize 统一文本形式：NFC 组合、大小写折叠、去掉首尾空白并把连续空白压成一个空格。
// 泰文没有大小写，折叠只影响拉丁字母部分。
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize 按空白切分归一化后的文本，不返回空 token。
func Tokenize(s string) []string {
	return strings.Fields(Normalize(s))
}
