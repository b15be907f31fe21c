package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danmuck/mslogger/internal/observability"
)

const TimeKey = "time"

// reservedKeys are OutputChannels entries that describe the block itself or
// unlogged auxiliaries rather than payload fields.
var reservedKeys = map[string]struct{}{
	"ochBlockSize":  {},
	"ochGetCommand": {},
	"lambda1":       {},
	"lambda2":       {},
}

// DefaultConstants are engine constants available to alias resolution when
// no override is configured.
func DefaultConstants() map[string]float64 {
	return map[string]float64{
		"stoich":     14.7,
		"nCylinders": 4,
		"reqFuel":    0,
	}
}

// ChannelEntry is one raw OutputChannels line.
type ChannelEntry struct {
	Key        string
	Definition string
}

// Options tunes compilation.
type Options struct {
	Constants map[string]float64
}

// Tables holds the compiled channel extractors and datalog columns.
type Tables struct {
	Channels map[string]Descriptor
	// Keys is the configured order of compiled channels.
	Keys    []string
	Columns []LogColumn
	// BlockSize is the numeric ochBlockSize value, or 0 when absent.
	BlockSize int
}

type compiler struct {
	raw       map[string][]string
	constants map[string]float64
	out       map[string]Descriptor
}

// Compile builds Tables from raw OutputChannels and Datalog entries.
// Malformed definitions are logged and degrade to zero extractors.
func Compile(channels []ChannelEntry, logEntries []string, opts Options) *Tables {
	logger := observability.Component("decoder")
	constants := opts.Constants
	if constants == nil {
		constants = DefaultConstants()
	}

	c := &compiler{
		raw:       make(map[string][]string, len(channels)),
		constants: constants,
		out:       make(map[string]Descriptor, len(channels)),
	}
	t := &Tables{}
	var keys []string
	for _, ch := range channels {
		key := strings.TrimSpace(ch.Key)
		if key == "" {
			continue
		}
		if key == "ochBlockSize" {
			if n, err := strconv.Atoi(strings.TrimSpace(ch.Definition)); err == nil && n > 0 {
				t.BlockSize = n
			}
		}
		if _, reserved := reservedKeys[key]; reserved {
			logger.Debug().Str("key", key).Msg("ignoring reserved channel")
			continue
		}
		if _, dup := c.raw[key]; !dup {
			keys = append(keys, key)
		}
		c.raw[key] = splitTokens(ch.Definition)
	}

	for _, key := range keys {
		c.resolve(key, map[string]bool{})
	}
	t.Channels = c.out
	t.Keys = keys
	t.Columns = compileColumns(logEntries)
	logger.Info().
		Int("channels", len(t.Channels)).
		Int("columns", len(t.Columns)).
		Int("block_size", t.BlockSize).
		Msg("compiled channel tables")
	return t
}

func (c *compiler) resolve(key string, visiting map[string]bool) Descriptor {
	if d, ok := c.out[key]; ok {
		return d
	}
	visiting[key] = true
	defer delete(visiting, key)

	d := c.compileOne(key, c.raw[key], visiting)
	c.out[key] = d
	return d
}

func (c *compiler) compileOne(key string, tokens []string, visiting map[string]bool) Descriptor {
	if key == TimeKey {
		return Descriptor{Key: key, Kind: KindTime, Unit: tokenAt(tokens, 1)}
	}
	if len(tokens) == 0 {
		return c.degrade(key, tokens, "empty definition")
	}

	switch {
	case tokens[0] == "scalar" && len(tokens) == 6:
		return c.compileScalar(key, tokens)
	case tokens[0] == "bits" && len(tokens) == 4:
		return c.compileBits(key, tokens)
	case strings.HasPrefix(tokens[0], "{") && len(tokens) <= 2:
		return c.compileAlias(key, tokens, visiting)
	default:
		return c.degrade(key, tokens, "unknown packing/encoding")
	}
}

func (c *compiler) compileScalar(key string, tokens []string) Descriptor {
	packing := Packing(tokens[1])
	if packing.Width() == 0 {
		return c.degrade(key, tokens, "unknown scalar packing")
	}
	offset, err := strconv.Atoi(tokens[2])
	if err != nil || offset < 0 {
		return c.degrade(key, tokens, "invalid byte offset")
	}
	mult, err := strconv.ParseFloat(tokens[4], 64)
	if err != nil || math.IsNaN(mult) || math.IsInf(mult, 0) {
		return c.degrade(key, tokens, "invalid multiplier")
	}
	scale, err := parseScale(tokens[5])
	if err != nil {
		return c.degrade(key, tokens, "invalid scale")
	}
	return Descriptor{
		Key:        key,
		Kind:       KindScalar,
		Unit:       tokens[3],
		Packing:    packing,
		Offset:     offset + FlagBytes,
		Multiplier: mult,
		Scale:      scale,
	}
}

func (c *compiler) compileBits(key string, tokens []string) Descriptor {
	offset, err := strconv.Atoi(tokens[2])
	if err != nil || offset < 0 {
		return c.degrade(key, tokens, "invalid byte offset")
	}
	hi, lo, ok := parseBitRange(tokens[3])
	if !ok {
		return c.degrade(key, tokens, "invalid bit range")
	}
	if hi != lo || Packing(tokens[1]) != U08 {
		return c.degrade(key, tokens, "cannot handle bit ranges or non U08 packing")
	}
	if hi > 7 {
		return c.degrade(key, tokens, "bit position out of range")
	}
	return Descriptor{
		Key:     key,
		Kind:    KindBitFlag,
		Packing: U08,
		Offset:  offset + FlagBytes,
		Bit:     uint8(hi),
	}
}

func (c *compiler) compileAlias(key string, tokens []string, visiting map[string]bool) Descriptor {
	expr := tokens[0]
	if !strings.HasSuffix(expr, "}") {
		return c.degrade(key, tokens, "unterminated alias")
	}
	name := strings.TrimSpace(expr[1 : len(expr)-1])
	if !isIdentifier(name) {
		return c.degrade(key, tokens, "alias expressions are not supported")
	}
	unit := tokenAt(tokens, 1)

	if _, ok := c.raw[name]; ok {
		if visiting[name] {
			return c.degrade(key, tokens, "circular alias")
		}
		target := c.resolve(name, visiting)
		if unit == "" {
			unit = target.Unit
		}
		return Descriptor{Key: key, Kind: KindAlias, Unit: unit, Target: name, Resolved: &target}
	}
	if v, ok := c.constants[name]; ok {
		return Descriptor{Key: key, Kind: KindConstant, Unit: unit, Target: name, Value: v}
	}
	return c.degrade(key, tokens, "unresolved alias")
}

func (c *compiler) degrade(key string, tokens []string, reason string) Descriptor {
	logger := observability.Component("decoder")
	logger.Warn().
		Str("key", key).
		Strs("definition", tokens).
		Str("reason", reason).
		Msg("channel degraded to zero")
	return Descriptor{Key: key, Kind: KindZero, Unit: tokenAt(tokens, 3)}
}

// splitTokens splits a definition on commas, trimming whitespace and quotes.
func splitTokens(def string) []string {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil
	}
	parts := strings.Split(def, ",")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.TrimSpace(p), `"`, "")
	}
	return parts
}

func tokenAt(tokens []string, i int) string {
	if i < len(tokens) {
		return tokens[i]
	}
	return ""
}

func parseScale(raw string) (int64, error) {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	// "0.0" style scales are common; keep the integer part
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: scale %q", ErrUnsupportedFormat, raw)
	}
	return int64(f), nil
}

func parseBitRange(raw string) (int, int, bool) {
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return 0, 0, false
	}
	hiRaw, loRaw, ok := strings.Cut(raw[1:len(raw)-1], ":")
	if !ok {
		return 0, 0, false
	}
	hi, err := strconv.Atoi(strings.TrimSpace(hiRaw))
	if err != nil || hi < 0 {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(strings.TrimSpace(loRaw))
	if err != nil || lo < 0 {
		return 0, 0, false
	}
	return hi, lo, true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
