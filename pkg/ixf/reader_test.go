package ixf

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

func TestLayoutSizes(t *testing.T) {
	require.Len(t, HeaderLayout.Fields, 11)
	require.Len(t, TableLayout.Fields, 18)
	require.Len(t, ColumnLayout.Fields, 23)
	require.Len(t, DataLayout.Fields, 4)

	// record lengths exclude the 6-byte length field itself
	require.Equal(t, columnFixedLength, ColumnLayout.Size()-6)
	require.Equal(t, dataFixedLength, DataLayout.Size()-6)
}

func TestReadRecord(t *testing.T) {
	rr := NewRecordReader(bytes.NewReader([]byte("000013A  DB2 02.00 rest")))

	rec, err := rr.ReadRecord(ApplicationLayout)
	require.NoError(t, err)
	require.Equal(t, byte('A'), rec.Type())
	n, err := rec.Int("IXFARECL")
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, "DB2 02.00", rec.String("IXFAPPID"))
	require.EqualValues(t, 19, rr.Offset())

	tail, err := rr.ReadN("application", 4)
	require.NoError(t, err)
	require.Equal(t, []byte("rest"), tail)
}

func TestReadRecord_EOFAndTruncation(t *testing.T) {
	_, err := NewRecordReader(bytes.NewReader(nil)).ReadRecord(DataLayout)
	require.ErrorIs(t, err, io.EOF)

	_, err = NewRecordReader(bytes.NewReader([]byte("0000"))).ReadRecord(DataLayout)
	require.True(t, errors.Is(err, ixferrors.ErrTruncated))
	require.Contains(t, err.Error(), "field=IXFDRECL")

	_, err = NewRecordReader(bytes.NewReader([]byte("ab"))).ReadN("data", 3)
	require.True(t, errors.Is(err, ixferrors.ErrTruncated))

	_, err = NewRecordReader(bytes.NewReader(nil)).ReadN("data", -1)
	require.Error(t, err)
}

func TestRawRecord_Int(t *testing.T) {
	rr := NewRecordReader(bytes.NewReader([]byte("      D001    ")))
	rec, err := rr.ReadRecord(DataLayout)
	require.NoError(t, err)

	n, err := rec.Int("IXFDRECL")
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = rec.Int("IXFDRECT")
	require.Error(t, err)
}
