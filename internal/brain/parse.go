// File: internal/brain/parse.go
package brain

import (
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// Parse turns a raw model response into a structured AgentResponse. It never
// fails: each repair layer is tried in turn and the worst case degrades to a
// response whose reflection holds a slice of the raw text.
//
// Layers, cheapest first:
//  1. heartbeat sentinel check
//  2. character sanitation + balanced-brace extraction + decode
//  3. truncation repair (close dangling strings/braces) + decode
//  4. per-object salvage out of a broken actions array
//  5. raw text as reflection
func (b *Brain) Parse(raw string) schemas.AgentResponse {
	trimmed := strings.TrimSpace(raw)
	if strings.Contains(trimmed, schemas.HeartbeatOK) {
		return schemas.AgentResponse{Reflection: schemas.HeartbeatOK}
	}

	sanitized := sanitizeModelJSON(trimmed)

	if jsonStr, ok := extractJSON(sanitized); ok {
		if resp, ok := tryParseResponse(jsonStr); ok {
			return resp
		}
	}

	repaired := repairTruncatedJSON(sanitized)
	if jsonStr, ok := extractJSON(repaired); ok {
		if resp, ok := tryParseResponse(jsonStr); ok {
			b.logger.Warn("Recovered actions from truncated JSON response")
			return resp
		}
	}

	if actions := extractPartialActions(sanitized); len(actions) > 0 {
		b.logger.Warn("Extracted actions from malformed JSON",
			zap.Int("count", len(actions)))
		return schemas.AgentResponse{
			Actions:    actions,
			Reflection: "(partial response recovered)",
		}
	}

	b.logger.Warn("Could not parse any JSON from model response",
		zap.Int("len", len(trimmed)))
	return schemas.AgentResponse{Reflection: truncateRunes(trimmed, 500)}
}

// tryParseResponse attempts a strict decode first, then a defensive decode
// that tolerates wrong-typed or extra fields around a valid actions array.
func tryParseResponse(jsonStr string) (schemas.AgentResponse, bool) {
	var resp schemas.AgentResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err == nil {
		return resp, true
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &generic); err != nil {
		return schemas.AgentResponse{}, false
	}

	resp = schemas.AgentResponse{}
	if rawActions, ok := generic["actions"]; ok {
		if encoded, err := json.Marshal(rawActions); err == nil {
			var actions []schemas.AgentAction
			if err := json.Unmarshal(encoded, &actions); err == nil {
				resp.Actions = actions
			}
		}
	}
	if s, ok := generic["reflection"].(string); ok {
		resp.Reflection = s
	}
	if s, ok := generic["message"].(string); ok {
		resp.Message = s
	}
	if s, ok := generic["memory_write"].(string); ok {
		resp.MemoryWrite = s
	}
	return resp, true
}

// smartCharReplacer maps the unicode punctuation models love to emit into
// JSON-safe ASCII. Curly double quotes become escaped quotes so quoted
// speech inside string values survives the decode.
var smartCharReplacer = strings.NewReplacer(
	"“", `\"`, // left double curly quote
	"”", `\"`, // right double curly quote
	"‘", "'", // left single curly quote
	"’", "'", // right single curly quote
	"«", `\"`, // left guillemet
	"»", `\"`, // right guillemet
	"—", "-", // em dash
	"–", "-", // en dash
	" ", " ", // non-breaking space
	"\uFEFF", "", // BOM
)

// sanitizeModelJSON normalizes smart punctuation and strips trailing commas
// before a closing brace or bracket.
func sanitizeModelJSON(text string) string {
	s := smartCharReplacer.Replace(text)

	cleaned := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		cleaned = append(cleaned, s[i])
	}
	return string(cleaned)
}

// extractJSON pulls the first complete top-level JSON object out of the
// text, looking in order at: a leading object, a ```json fence, a bare
// fence, and finally the first brace anywhere.
func extractJSON(text string) (string, bool) {
	if strings.HasPrefix(text, "{") {
		if obj, ok := balancedObject(text, 0); ok {
			return obj, true
		}
	}

	if start := strings.Index(text, "```json"); start >= 0 {
		after := text[start+7:]
		if end := strings.Index(after, "```"); end >= 0 {
			return strings.TrimSpace(after[:end]), true
		}
	}

	if start := strings.Index(text, "```"); start >= 0 {
		after := text[start+3:]
		if end := strings.Index(after, "```"); end >= 0 {
			inner := strings.TrimSpace(after[:end])
			if strings.HasPrefix(inner, "{") {
				return inner, true
			}
		}
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if obj, ok := balancedObject(text, start); ok {
			return obj, true
		}
	}
	return "", false
}

// balancedObject returns the substring from start through the brace that
// closes it. Braces inside string literals are ignored.
func balancedObject(text string, start int) (string, bool) {
	depth := 0
	inString := false
	var prev byte
	for i := start; i < len(text); i++ {
		c := text[i]
		if c == '"' && prev != '\\' {
			inString = !inString
		}
		if !inString {
			switch c {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
		prev = c
	}
	return "", false
}

// repairTruncatedJSON patches a response cut off mid-generation: drop a
// dangling string value, drop a trailing comma, then close every brace and
// bracket still open outside string literals.
func repairTruncatedJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	result := s[start:]

	if strings.Count(result, `"`)%2 != 0 {
		lastQuote := strings.LastIndex(result, `"`)
		if lastComma := strings.LastIndex(result[:lastQuote], ","); lastComma >= 0 {
			result = result[:lastComma]
		} else if lastBrace := strings.LastIndex(result[:lastQuote], "{"); lastBrace >= 0 {
			result = result[:lastBrace+1]
		}
	}

	trimmed := strings.TrimRight(result, " \n\r\t")
	if strings.HasSuffix(trimmed, ",") {
		result = trimmed[:len(trimmed)-1]
	}

	openBraces, openBrackets := 0, 0
	inString := false
	var prev byte
	for i := 0; i < len(result); i++ {
		c := result[i]
		if c == '"' && prev != '\\' {
			inString = !inString
		}
		if !inString {
			switch c {
			case '{':
				openBraces++
			case '}':
				openBraces--
			case '[':
				openBrackets++
			case ']':
				openBrackets--
			}
		}
		prev = c
	}
	result += strings.Repeat("]", max(openBrackets, 0))
	result += strings.Repeat("}", max(openBraces, 0))
	return result
}

// extractPartialActions salvages whole action objects out of a broken
// actions array by tracking brace depth and decoding each depth-one object
// individually.
func extractPartialActions(s string) []schemas.AgentAction {
	keyIdx := strings.Index(s, `"actions"`)
	if keyIdx < 0 {
		return nil
	}
	arrOffset := strings.Index(s[keyIdx:], "[")
	if arrOffset < 0 {
		return nil
	}
	rest := s[keyIdx+arrOffset:]

	var actions []schemas.AgentAction
	depth := 0
	objStart := -1
	inString := false
	var prev byte

	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '"' && prev != '\\' {
			inString = !inString
		}
		if !inString {
			switch c {
			case '{':
				if depth == 1 {
					objStart = i
				}
				depth++
			case '}':
				depth--
				if depth == 1 && objStart >= 0 {
					var action schemas.AgentAction
					if err := json.Unmarshal([]byte(rest[objStart:i+1]), &action); err == nil {
						actions = append(actions, action)
					}
					objStart = -1
				}
			case '[':
				depth++
			case ']':
				if depth == 1 {
					return actions
				}
				depth--
			}
		}
		prev = c
	}
	return actions
}

func truncateRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
