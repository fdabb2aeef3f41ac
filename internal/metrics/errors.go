package metrics

import (
	"fmt"
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	"httptransport.StatusError":     "Non-2xx response",
	"url.Error":                     "Request URL error",
	"net.OpError":                   "Network error",
	"context.deadlineExceededError": "Send timeout",
	"context.deadlineExceeded":      "Send timeout",
	"status.Error":                  "gRPC status error",
	"websocket.CloseError":          "WebSocket closed",
	"coaptransport.codeError":       "Unexpected CoAP code",
	"errors.errorString":            "Transport error",
	"fmt.wrapError":                 "Transport error",
	"memtransport.injectedError":    "Injected failure",
	"http3.Error":                   "HTTP/3 error",
	"syscall.Errno":                 "System call error",
	"mqtttransport.publishTimeout":  "Send timeout",
}

// FriendlyErrorName turns a %T error type name into a short label for logs and reports.
func FriendlyErrorName(typeName string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if cleaned == "" {
		return "Unknown error"
	}
	if idx := strings.LastIndex(cleaned, "/"); idx != -1 {
		cleaned = cleaned[idx+1:]
	}
	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}

	pkg, name := "", cleaned
	if idx := strings.Index(name, "."); idx != -1 {
		pkg, name = name[:idx], name[idx+1:]
	}

	lowerName := strings.ToLower(name)
	switch {
	case pkg == "context" && strings.Contains(lowerName, "deadline"):
		return "Send timeout"
	case strings.Contains(lowerName, "timeout"):
		return "Send timeout"
	}

	pretty := humanizeTypeName(name)
	if pretty == "" {
		pretty = name
	}
	if pkg != "" && pkg != "main" {
		return fmt.Sprintf("%s (%s)", pretty, pkg)
	}
	return pretty
}

// humanizeTypeName splits a Go identifier on case and digit boundaries.
func humanizeTypeName(name string) string {
	runes := []rune(name)
	if len(runes) == 0 {
		return ""
	}

	var words []string
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		word := string(runes[start:end])
		if !isAllUpper(word) {
			word = capitalize(word)
		}
		words = append(words, word)
		start = end
	}

	for i := 1; i < len(runes); i++ {
		r, prev := runes[i], runes[i-1]
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		switch {
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)):
			flush(i)
		case unicode.IsDigit(r) && !unicode.IsDigit(prev):
			flush(i)
		}
	}
	flush(len(runes))

	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		hasLetter = true
	}
	return hasLetter
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
