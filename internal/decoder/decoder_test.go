package decoder

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/mslogger/internal/testutil/testlog"
)

const sampleINI = `
; MegaTune style project file
[Constants]
   page = 1

[OutputChannels]
ochBlockSize     = 212
ochGetCommand    = "r\$tsCanId\x07%2o%2c"
seconds          = scalar, U16,    0, "s",   1.000, 0.0
rpm              = scalar, U16,    6, "RPM", 1.000, 0.0
coolant          = scalar, S16,   22, "°F",  0.100, 0.0
ready            = bits,   U08,   11, [0:0]
crank            = bits,   U08,   11, [1:1]
sparkMode        = bits,   U08,   11, [0:2]
rpmAlias         = { rpm }
stoichRatio      = { stoich }, "AFR"
lambda1          = { afr1 / stoich }
time             = { timeNow }, "s"
expr             = { rpm * 2 }

[Datalog]
entry = time,     "Time",    float, "%.3f"
entry = seconds,  "SecL",    int,   "%d"
entry = rpm,      "RPM",     int,   "%d"
entry = coolant,  "CLT",     float, "%.1f", { coolant > 0 }
entry = broken,   "Broken"
`

func TestScalarFormulaAddsScaleBeforeMultiplying(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{{Key: "clt", Definition: `scalar, S16, 10, "C", 0.1, -40`}}, nil, Options{})
	d := tables.Channels["clt"]
	if d.Kind != KindScalar || d.Offset != 11 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}

	payload := make([]byte, 212)
	binary.BigEndian.PutUint16(payload[11:13], 400)
	got, err := d.Extract(payload)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if math.Abs(got-36.0) > 1e-9 {
		t.Fatalf("got=%v want=36.0", got)
	}
}

func TestScalarPackings(t *testing.T) {
	testlog.Start(t)
	payload := []byte{0x00, 0xFF, 0xFF, 0xFE, 0xFF, 0xFF, 0xFF}
	cases := []struct {
		packing string
		want    float64
	}{
		{"S08", -1},
		{"U08", 255},
		{"S16", -2},
		{"U16", 65534},
		{"S32", -65537},
		{"U32", 4294901759},
	}
	for _, tc := range cases {
		tables := Compile([]ChannelEntry{{Key: "v", Definition: "scalar, " + tc.packing + ", 1, \"\", 1, 0"}}, nil, Options{})
		got, err := tables.Channels["v"].Extract(payload)
		if err != nil {
			t.Fatalf("%s: %v", tc.packing, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.packing, got, tc.want)
		}
	}
}

func TestBitFlagExtraction(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{{Key: "flag", Definition: "bits, U08, 5, [3:3]"}}, nil, Options{})
	d := tables.Channels["flag"]
	if d.Kind != KindBitFlag || d.Offset != 6 || d.Bit != 3 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}

	payload := make([]byte, 8)
	payload[6] = 0b00010000
	if got, _ := d.Extract(payload); got != 1 {
		t.Fatalf("set bit: got=%v want=1", got)
	}
	payload[6] = 0b00000000
	if got, _ := d.Extract(payload); got != 0 {
		t.Fatalf("clear bit: got=%v want=0", got)
	}
	payload[6] = 0b11101111
	if got, _ := d.Extract(payload); got != 0 {
		t.Fatalf("neighbours set: got=%v want=0", got)
	}
}

func TestBitRangesDegradeToZero(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{
		{Key: "range", Definition: "bits, U08, 5, [0:2]"},
		{Key: "wide", Definition: "bits, U16, 5, [1:1]"},
	}, nil, Options{})
	payload := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	for _, key := range []string{"range", "wide"} {
		d := tables.Channels[key]
		if d.Kind != KindZero {
			t.Fatalf("%s: kind=%v want zero", key, d.Kind)
		}
		if got, err := d.Extract(payload); got != 0 || err != nil {
			t.Fatalf("%s: got=(%v,%v)", key, got, err)
		}
	}
}

func TestAliasToConstantIgnoresPayload(t *testing.T) {
	testlog.Start(t)
	tables := Compile(
		[]ChannelEntry{{Key: "fuel", Definition: "{ reqFuel }"}},
		nil,
		Options{Constants: map[string]float64{"reqFuel": 2.5}},
	)
	d := tables.Channels["fuel"]
	if d.Kind != KindConstant {
		t.Fatalf("kind=%v want constant", d.Kind)
	}
	for _, payload := range [][]byte{nil, {1, 2, 3}, make([]byte, 212)} {
		if got, _ := d.Extract(payload); got != 2.5 {
			t.Fatalf("got=%v want=2.5", got)
		}
	}
}

func TestAliasPrefersChannelsOverConstants(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{
		{Key: "stoich", Definition: `scalar, U08, 0, "AFR", 0.1, 0`},
		{Key: "target", Definition: "{ stoich }"},
	}, nil, Options{})
	d := tables.Channels["target"]
	if d.Kind != KindAlias || d.Target != "stoich" || d.Unit != "AFR" {
		t.Fatalf("unexpected alias: %+v", d)
	}
	got, err := d.Extract([]byte{0x00, 147})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if math.Abs(got-14.7) > 1e-9 {
		t.Fatalf("got=%v want=14.7", got)
	}
}

func TestCircularAliasesDegrade(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{
		{Key: "a", Definition: "{ b }"},
		{Key: "b", Definition: "{ a }"},
		{Key: "self", Definition: "{ self }"},
	}, nil, Options{})
	for _, key := range []string{"a", "b", "self"} {
		if got, err := tables.Channels[key].Extract(make([]byte, 4)); got != 0 || err != nil {
			t.Fatalf("%s: got=(%v,%v)", key, got, err)
		}
	}
	if tables.Channels["self"].Kind != KindZero {
		t.Fatalf("self alias should degrade")
	}
}

func TestUnresolvedAndUnknownDefinitionsDegrade(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{
		{Key: "ghost", Definition: "{ nothingHere }"},
		{Key: "array", Definition: "array, U08, 0, [8], \"\", 1, 0"},
		{Key: "weird", Definition: "scalar, F32, 0, \"\", 1, 0"},
	}, nil, Options{})
	for _, key := range []string{"ghost", "array", "weird"} {
		if tables.Channels[key].Kind != KindZero {
			t.Fatalf("%s: kind=%v want zero", key, tables.Channels[key].Kind)
		}
	}
}

func TestNonFiniteScalarFactorsDegrade(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{
		{Key: "nanMult", Definition: `scalar, U16, 6, "RPM", NaN, 0`},
		{Key: "infMult", Definition: `scalar, U16, 6, "RPM", +Inf, 0`},
		{Key: "infScale", Definition: `scalar, U16, 6, "RPM", 1, -Inf`},
		{Key: "ok", Definition: `scalar, U16, 6, "RPM", 1e0, 0`},
	}, nil, Options{})
	payload := make([]byte, 212)
	binary.BigEndian.PutUint16(payload[7:9], 3000)
	sample, err := tables.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"nanMult", "infMult", "infScale"} {
		if tables.Channels[key].Kind != KindZero {
			t.Fatalf("%s: kind=%v want zero", key, tables.Channels[key].Kind)
		}
		if sample[key] != 0 {
			t.Fatalf("%s=%v want 0", key, sample[key])
		}
	}
	if sample["ok"] != 3000 {
		t.Fatalf("ok=%v", sample["ok"])
	}
}

func TestParseINI(t *testing.T) {
	testlog.Start(t)
	tables, err := Parse([]byte(sampleINI), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tables.BlockSize != 212 {
		t.Fatalf("block size=%d", tables.BlockSize)
	}
	for _, reserved := range []string{"ochBlockSize", "ochGetCommand", "lambda1"} {
		if _, ok := tables.Channels[reserved]; ok {
			t.Fatalf("reserved key %q compiled", reserved)
		}
	}
	if tables.Channels["time"].Kind != KindTime {
		t.Fatalf("time kind=%v", tables.Channels["time"].Kind)
	}
	if tables.Channels["expr"].Kind != KindZero {
		t.Fatalf("expression alias should degrade")
	}
	if tables.Channels["rpmAlias"].Kind != KindAlias {
		t.Fatalf("rpmAlias kind=%v", tables.Channels["rpmAlias"].Kind)
	}
	if c := tables.Channels["stoichRatio"]; c.Kind != KindConstant || c.Value != 14.7 || c.Unit != "AFR" {
		t.Fatalf("stoichRatio=%+v", c)
	}
	if tables.Unit("rpm") != "RPM" {
		t.Fatalf("rpm unit=%q", tables.Unit("rpm"))
	}
	if tables.Keys[0] != "seconds" {
		t.Fatalf("key order not preserved: %v", tables.Keys)
	}

	if len(tables.Columns) != 4 {
		t.Fatalf("columns=%d want 4", len(tables.Columns))
	}
	wantFields := []string{"Time", "SecL", "RPM", "CLT"}
	for i, c := range tables.Columns {
		if c.Field != wantFields[i] {
			t.Fatalf("column %d field=%q want %q", i, c.Field, wantFields[i])
		}
	}
	if tables.Columns[3].Format != "%.1f" {
		t.Fatalf("five-token entry format=%q", tables.Columns[3].Format)
	}
}

func TestDecodeBuildsSample(t *testing.T) {
	testlog.Start(t)
	tables, err := Parse([]byte(sampleINI), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload := make([]byte, 212)
	binary.BigEndian.PutUint16(payload[7:9], 3200)
	binary.BigEndian.PutUint16(payload[23:25], 1805)
	payload[12] = 0b11000000

	s, err := tables.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s["rpm"] != 3200 || s["rpmAlias"] != 3200 {
		t.Fatalf("rpm=%v alias=%v", s["rpm"], s["rpmAlias"])
	}
	if math.Abs(s["coolant"]-180.5) > 1e-9 {
		t.Fatalf("coolant=%v", s["coolant"])
	}
	if s["ready"] != 1 || s["crank"] != 1 {
		t.Fatalf("flags ready=%v crank=%v", s["ready"], s["crank"])
	}
	if _, ok := s["time"]; ok {
		t.Fatalf("time placeholder leaked into sample")
	}
}

func TestDecodeShortPayloadReportsAndZeroes(t *testing.T) {
	testlog.Start(t)
	tables := Compile([]ChannelEntry{
		{Key: "early", Definition: `scalar, U08, 0, "", 1, 0`},
		{Key: "late", Definition: `scalar, U16, 100, "", 1, 0`},
	}, nil, Options{})
	s, err := tables.Decode([]byte{0x00, 0x05})
	if !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	if s["early"] != 5 || s["late"] != 0 {
		t.Fatalf("sample=%v", s)
	}
}

func TestRender(t *testing.T) {
	cases := []struct {
		col  LogColumn
		v    float64
		want string
	}{
		{LogColumn{Kind: FieldFloat, Format: "%.3f"}, 1.23456, "1.235"},
		{LogColumn{Kind: FieldInt, Format: "%d"}, 3200.9, "3200"},
		{LogColumn{Kind: FieldInt, Format: "%5d%%"}, 42, "   42%"},
		{LogColumn{Kind: FieldFloat}, 2.5, "2.5"},
	}
	for _, tc := range cases {
		if got := tc.col.Render(tc.v); got != tc.want {
			t.Fatalf("Render(%q,%v)=%q want %q", tc.col.Format, tc.v, got, tc.want)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"), Options{})
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "nochannels.ini")
	if err := os.WriteFile(path, []byte("[Datalog]\nentry = rpm, RPM, int, %d\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = Load(path, Options{})
	if !errors.Is(err, ErrUnparseableEntry) {
		t.Fatalf("expected ErrUnparseableEntry, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "mainController.ini")
	if err := os.WriteFile(path, []byte(sampleINI), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tables, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tables.Columns) != 4 || tables.Channels["rpm"].Kind != KindScalar {
		t.Fatalf("unexpected tables: %+v", tables)
	}
}
