package automation

import (
	"regexp"
	"strings"
)

// placeholder matches {{ key }} where key is an identifier, optionally dotted.
// Anything else between braces is not a placeholder and stays as written.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Render substitutes {{key}} placeholders with vars[key]. A well-formed
// placeholder without a value renders empty; malformed tokens are left verbatim.
func Render(template string, vars map[string]string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(token string) string {
		key := placeholder.FindStringSubmatch(token)[1]
		return vars[key]
	})
}

// FirstName returns the first word of a full name.
func FirstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func contactVars(name, phone string) map[string]string {
	first := FirstName(name)
	return map[string]string{
		"name":     first,
		"nome":     first,
		"fullName": name,
		"phone":    phone,
		"telefone": phone,
	}
}
