package util

import (
	"fmt"
	"strings"
	"text/template"
)

// instructionFuncs are the functions available to instruction templates.
var instructionFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
}

// RenderTemplate expands vars into agent instructions. Text without action
// delimiters is returned as is.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("instructions").Option("missingkey=zero").Funcs(instructionFuncs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse instructions: %w", err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render instructions: %w", err)
	}
	return sb.String(), nil
}
