package moves

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"poletrack/internal/database"
)

var accentFolds = map[rune]rune{
	'á': 'a', 'à': 'a', 'ã': 'a', 'â': 'a', 'ä': 'a', 'å': 'a', 'ā': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i', 'ī': 'i',
	'ó': 'o', 'ò': 'o', 'õ': 'o', 'ô': 'o', 'ö': 'o', 'ø': 'o', 'ō': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u', 'ū': 'u',
	'ç': 'c', 'ć': 'c', 'č': 'c',
	'ñ': 'n', 'ń': 'n',
	'ý': 'y', 'ÿ': 'y',
	'ß': 's', 'ł': 'l', 'ś': 's', 'š': 's', 'ş': 's', 'ğ': 'g', 'ı': 'i',
	'ž': 'z', 'ź': 'z', 'ż': 'z',
}

// generateSlug 将名称转换为 URL 片段：小写、去重音、空白变为连字符，其余字符丢弃。
func generateSlug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		if folded, ok := accentFolds[r]; ok {
			r = folded
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-' || r == '_' || r == '\t':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// uniqueSlug 在 base 已被占用（包括已删除的动作）时追加 -2、-3 ...
func uniqueSlug(tx *gorm.DB, name string) (string, error) {
	base := generateSlug(name)
	if base == "" {
		base = "move"
	}

	var taken []string
	if err := tx.Model(&database.Move{}).
		Where("lower(slug) = ? OR lower(slug) LIKE ?", base, base+"-%").
		Pluck("slug", &taken).Error; err != nil {
		return "", fmt.Errorf("load slugs: %w", err)
	}

	used := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		used[strings.ToLower(s)] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base, nil
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, ok := used[candidate]; !ok {
			return candidate, nil
		}
	}
}
