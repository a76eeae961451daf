package classify

import (
	"strings"
	"unicode"

	"github.com/micro-ha/minirack-dashboard/internal/model"
)

// shortKeywordLen is the longest keyword that must match a whole token;
// "pc" or "lg" would otherwise hit unrelated names.
const shortKeywordLen = 3

type osRule struct {
	class    model.OSClass
	keywords []string
}

// osRules is evaluated in order; the first matching rule wins.
var osRules = []osRule{
	{class: model.OSAmazon, keywords: []string{"amazon", "echo", "alexa", "kindle"}},
	{class: model.OSiOS, keywords: []string{"apple", "iphone", "ipad", "ipod", "macbook", "imac", "mac", "ios"}},
	{class: model.OSAndroid, keywords: []string{"android", "samsung", "google", "pixel", "xiaomi", "oneplus", "motorola", "huawei", "lg"}},
	{class: model.OSWindows, keywords: []string{"windows", "microsoft", "surface", "dell", "lenovo", "asus", "laptop", "hp", "pc"}},
	{class: model.OSGaming, keywords: []string{"playstation", "sony interactive", "xbox", "nintendo", "steam", "ps4", "ps5"}},
	{class: model.OSStreaming, keywords: []string{"roku", "chromecast", "apple tv", "appletv", "fire tv", "firetv", "tivo"}},
}

// ClassifyOS maps manufacturer and hostname to an OS family. Rules are tried
// in priority order; within a rule the manufacturer is checked before the
// combined manufacturer and hostname text. It depends only on its arguments.
func ClassifyOS(manufacturer, hostname string) model.OSClass {
	manufacturer = strings.ToLower(strings.TrimSpace(manufacturer))
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	combined := strings.TrimSpace(manufacturer + " " + hostname)
	if combined == "" {
		return model.OSOther
	}

	manufacturerTokens := tokenize(manufacturer)
	combinedTokens := tokenize(combined)
	for _, rule := range osRules {
		if manufacturer != "" && matchesAny(manufacturer, manufacturerTokens, rule.keywords) {
			return rule.class
		}
		if matchesAny(combined, combinedTokens, rule.keywords) {
			return rule.class
		}
	}
	return model.OSOther
}

func matchesAny(text string, tokens map[string]struct{}, keywords []string) bool {
	for _, keyword := range keywords {
		if len(keyword) <= shortKeywordLen {
			if _, ok := tokens[keyword]; ok {
				return true
			}
			continue
		}
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		tokens[field] = struct{}{}
	}
	return tokens
}
