package cmd

import "strings"

// splitStatements splits a migration file on ';' and drops empty statements.
// Migrations never contain ';' inside literals.
func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
