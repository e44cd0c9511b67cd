package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/amr/amr/internal/ingest"
)

func mkXLSX(t *testing.T, sheets map[string][][]any, order ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := f.GetSheetName(0)
	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName(first, name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, f.SetCellValue(name, cell, v))
			}
		}
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{"upload.csv", nil, KindCSV},
		{"UPLOAD.CSV", nil, KindCSV},
		{"export.txt", nil, KindCSV},
		{"book.xlsx", nil, KindXLSX},
		{"book.XLSM", nil, KindXLSX},
		{"blob", []byte("PK\x03\x04rest"), KindXLSX},
		{"blob", []byte("a,b\n"), KindCSV},
	}
	for _, tt := range tests {
		got, err := KindOf(tt.name, tt.data)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := KindOf("legacy.xls", nil)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	_, err = Read("scan.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadCSV(t *testing.T) {
	data := []byte("Patient ID,Organism,CIP\nP1,Escherichia coli,R\nP2,\"Klebsiella, spp\"\n")

	table, err := Read("in.csv", data)

	require.NoError(t, err)
	assert.Equal(t, []string{"Patient ID", "Organism", "CIP"}, table.Headers)
	assert.Equal(t, [][]string{{"P1", "Escherichia coli", "R"}, {"P2", "Klebsiella, spp"}}, table.Rows)
}

func TestReadCSV_Encodings(t *testing.T) {
	text := "Organism,Facility\nEscherichia coli,Hôpital Général\n"
	want := [][]string{{"Escherichia coli", "Hôpital Général"}}

	utf16le, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	utf16be, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	cp1252, err := charmap.Windows1252.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)

	inputs := map[string][]byte{
		"utf8":     []byte(text),
		"utf8 bom": append([]byte{0xEF, 0xBB, 0xBF}, text...),
		"utf16le":  utf16le,
		"utf16be":  utf16be,
		"cp1252":   cp1252,
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			table, err := Read("in.csv", data)
			require.NoError(t, err)
			assert.Equal(t, []string{"Organism", "Facility"}, table.Headers)
			assert.Equal(t, want, table.Rows)
		})
	}
}

func TestReadCSV_Delimiters(t *testing.T) {
	for name, data := range map[string]string{
		"semicolon": "Organism;CIP;GEN\nE. coli;R;S\n",
		"tab":       "Organism\tCIP\tGEN\nE. coli\tR\tS\n",
	} {
		t.Run(name, func(t *testing.T) {
			table, err := Read("in.csv", []byte(data))
			require.NoError(t, err)
			assert.Equal(t, []string{"Organism", "CIP", "GEN"}, table.Headers)
			assert.Equal(t, [][]string{{"E. coli", "R", "S"}}, table.Rows)
		})
	}
}

func TestReadCSV_Empty(t *testing.T) {
	table, err := Read("in.csv", nil)
	require.NoError(t, err)
	assert.Empty(t, table.Headers)
	assert.Empty(t, table.Rows)
}

func TestReadCSV_NormalizesHeaders(t *testing.T) {
	table, err := Read("in.csv", []byte(" Ｏｒｇａｎｉｓｍ ,CIP\nE. coli,R\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Organism", "CIP"}, table.Headers)
}

func TestReadXLSX(t *testing.T) {
	data := mkXLSX(t, map[string][][]any{
		"Empty": nil,
		"Data": {
			{"Lab No", "Organism", "CIP", "GEN"},
			{"L1", "Escherichia coli", "R", "S"},
			{"L2", "Salmonella"},
		},
	}, "Empty", "Data")

	table, err := Read("whonet.xlsx", data)

	require.NoError(t, err)
	assert.Equal(t, []string{"Lab No", "Organism", "CIP", "GEN"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"L1", "Escherichia coli", "R", "S"}, table.Rows[0])
	assert.Equal(t, []string{"L2", "Salmonella"}, table.Rows[1])
}

func TestReadXLSX_Corrupt(t *testing.T) {
	_, err := Read("broken.xlsx", []byte("PK\x03\x04 not really a zip"))
	assert.Error(t, err)
}

func sampleRecords() []ingest.Record {
	age := 34
	return []ingest.Record{
		{PatientID: "P1", Age: &age, Sex: "M", Organism: "Escherichia coli", Antibiotic: "Ciprofloxacin", ASTResult: "R", TestDate: "2025-08-01", HostType: "human"},
		{PatientID: "P2", Sex: "Unknown", Organism: "Klebsiella pneumoniae", Antibiotic: "Ceftriaxone", ASTResult: "S", TestDate: "2025-08-02"},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ingest.TemplateColumns, rows[0])
	assert.Equal(t, []string{"P1", "34", "M", "", "Escherichia coli", "Ciprofloxacin", "R", "2025-08-01", "human", "", "", "", ""}, rows[1])
	assert.Equal(t, "", rows[2][1])
}

func TestWriteXLSX_ReadsBackAsNarrow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write("out.xlsx", &buf, sampleRecords()))

	table, err := Read("out.xlsx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ingest.TemplateColumns, table.Headers)

	res := ingest.NewNormalizer(ingest.DefaultOptions()).Normalize(table)
	assert.Equal(t, ingest.FormatNarrow, res.Format)
	assert.Empty(t, res.Rejected)
	require.Len(t, res.Accepted, 2)
	assert.Equal(t, "Ciprofloxacin", res.Accepted[0].Antibiotic)
	require.NotNil(t, res.Accepted[0].Age)
	assert.Equal(t, 34, *res.Accepted[0].Age)
	assert.Equal(t, "2025-08-02", res.Accepted[1].TestDate)
}

func TestWriteRejects(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRejects(&buf, []ingest.Diagnostic{
		{Line: 3, Reason: "missing required field(s): organism"},
		{Line: 7, Reason: `invalid ast_result "X, Y"`},
	}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"line", "reason"},
		{"3", "missing required field(s): organism"},
		{"7", `invalid ast_result "X, Y"`},
	}, rows)
}

func TestNormalize(t *testing.T) {
	n := ingest.NewNormalizer(ingest.DefaultOptions())

	res := Normalize(n, "whonet.csv", []byte("Patient ID,Organism,CIP,CTX\nP1,E. coli,R,S\n"))
	assert.Equal(t, ingest.FormatWide, res.Format)
	assert.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Rejected)

	res = Normalize(n, "upload.pdf", []byte("%PDF-1.4"))
	assert.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Line)
	assert.Contains(t, res.Rejected[0].Reason, "no rows parsed: unsupported file format")
}
