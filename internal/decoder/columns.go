package decoder

import (
	"fmt"
	"strings"

	"github.com/danmuck/mslogger/internal/observability"
)

type FieldKind string

const (
	FieldInt   FieldKind = "int"
	FieldFloat FieldKind = "float"
)

// LogColumn is one compiled Datalog entry.
type LogColumn struct {
	Channel string
	Field   string
	Kind    FieldKind
	Format  string
}

// Render formats a channel value with the column's printf template.
// Integer verbs receive the value truncated toward zero.
func (c LogColumn) Render(v float64) string {
	if c.Format == "" {
		return fmt.Sprint(v)
	}
	if isIntegerVerb(lastVerb(c.Format)) {
		return fmt.Sprintf(c.Format, int64(v))
	}
	return fmt.Sprintf(c.Format, v)
}

func compileColumns(entries []string) []LogColumn {
	logger := observability.Component("decoder")
	out := make([]LogColumn, 0, len(entries))
	for _, entry := range entries {
		tokens := splitTokens(entry)
		// a fifth token is a logging condition; every row is always logged
		if len(tokens) != 4 && len(tokens) != 5 {
			logger.Error().Str("entry", entry).Int("tokens", len(tokens)).Msg("error parsing Datalog section entry")
			continue
		}
		kind := FieldKind(strings.ToLower(tokens[2]))
		if kind != FieldInt && kind != FieldFloat {
			logger.Warn().Str("entry", entry).Str("kind", tokens[2]).Msg("unknown field kind, using float")
			kind = FieldFloat
		}
		out = append(out, LogColumn{
			Channel: tokens[0],
			Field:   tokens[1],
			Kind:    kind,
			Format:  tokens[3],
		})
	}
	return out
}

func lastVerb(format string) byte {
	var verb byte
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		j := i + 1
		for j < len(format) && strings.IndexByte("+-# 0123456789.", format[j]) >= 0 {
			j++
		}
		if j < len(format) {
			if format[j] != '%' {
				verb = format[j]
			}
			i = j
		}
	}
	return verb
}

func isIntegerVerb(v byte) bool {
	return strings.IndexByte("dxXobc", v) >= 0
}
