package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/checkin/internal/domain"
)

func TestDecode_Basic(t *testing.T) {
	in := "\uFEFFFamily, Name ,Number\n" +
		"Doe,Jane Doe,'821234567'\n" +
		",Visitor One,\n" +
		"  ,Ann Smith, 0825551234 \n" +
		"Doe,John Doe,0831112222\n"

	got, err := Decode(strings.NewReader(in))
	require.NoError(t, err)

	want := []domain.AttendanceRecord{
		{FamilyKey: "Doe", Name: "Jane Doe", RawNumber: "821234567", Row: 1},
		{FamilyKey: "", Name: "Visitor One", RawNumber: "", Row: 2},
		{FamilyKey: "", Name: "Ann Smith", RawNumber: "0825551234", Row: 3},
		{FamilyKey: "Doe", Name: "John Doe", RawNumber: "0831112222", Row: 4},
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Fatalf("解码结果不符合预期 (-want +got):\n%s", d)
	}
}

func TestDecode_MissingFamilyColumn(t *testing.T) {
	got, err := Decode(strings.NewReader("name,number\nA,1\nB,2\n"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "", got[0].FamilyKey)
	require.Equal(t, "", got[1].FamilyKey)
}

func TestDecode_MissingRequiredColumn(t *testing.T) {
	_, err := Decode(strings.NewReader("Family,Name\nDoe,Jane\n"))
	require.Error(t, err)
	require.True(t, IsInvalid(err))
	require.Contains(t, err.Error(), domain.ErrCodeRosterInvalid)
}

func TestDecode_EmptyInput(t *testing.T) {
	_, err := Decode(strings.NewReader(""))
	require.True(t, IsInvalid(err))
}

func TestDecode_ShortRowsTolerated(t *testing.T) {
	got, err := Decode(strings.NewReader("Family,Name,Number\nDoe,Jane\n"))
	require.NoError(t, err)
	require.Equal(t, []domain.AttendanceRecord{{FamilyKey: "Doe", Name: "Jane", RawNumber: "", Row: 1}}, got)
}

func TestReadFile_ErrorCarriesPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "export_x.csv")
	require.NoError(t, os.WriteFile(p, []byte("Family\nDoe\n"), 0o644))

	_, err := ReadFile(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), p)
}
