package ixf

import "fmt"

// DataType is an IXF column type code (IXFCTYPE).
type DataType int

const (
	TypeDate           DataType = 384
	TypeTime           DataType = 388
	TypeTimestamp      DataType = 392
	TypeBlob           DataType = 404
	TypeClob           DataType = 408
	TypeDBClob         DataType = 412
	TypeVarchar        DataType = 448
	TypeChar           DataType = 452
	TypeLongVarchar    DataType = 456
	TypeVarGraphic     DataType = 464
	TypeGraphic        DataType = 468
	TypeLongVarGraphic DataType = 472
	TypeFloat          DataType = 480
	TypeDecimal        DataType = 484
	TypeBigInt         DataType = 492
	TypeInteger        DataType = 496
	TypeSmallInt       DataType = 500
	TypeVarBinary      DataType = 908
	TypeBinary         DataType = 912
	TypeBlobFile       DataType = 916
	TypeClobFile       DataType = 920
	TypeDBClobFile     DataType = 924
	TypeDecFloat       DataType = 996
)

var typeNames = map[DataType]string{
	TypeDate:           "DATE",
	TypeTime:           "TIME",
	TypeTimestamp:      "TIMESTAMP",
	TypeBlob:           "BLOB",
	TypeClob:           "CLOB",
	TypeDBClob:         "DBCLOB",
	TypeVarchar:        "VARCHAR",
	TypeChar:           "CHAR",
	TypeLongVarchar:    "LONGVARCHAR",
	TypeVarGraphic:     "VARGRAPHIC",
	TypeGraphic:        "GRAPHIC",
	TypeLongVarGraphic: "LONG VARGRAPHIC",
	TypeFloat:          "FLOATING POINT",
	TypeDecimal:        "DECIMAL",
	TypeBigInt:         "BIGINT",
	TypeInteger:        "INTEGER",
	TypeSmallInt:       "SMALLINT",
	TypeVarBinary:      "VARBINARY",
	TypeBinary:         "BINARY",
	TypeBlobFile:       "BLOB_FILE",
	TypeClobFile:       "CLOB_FILE",
	TypeDBClobFile:     "DBCLOB_FILE",
	TypeDecFloat:       "DECFLOAT",
}

func (t DataType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// Known reports whether t appears in the IXF type table.
func (t DataType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Supported reports whether rows of this type can be decoded.
func (t DataType) Supported() bool {
	switch t {
	case TypeDate, TypeTime, TypeTimestamp,
		TypeBlob, TypeClob,
		TypeVarchar, TypeChar, TypeLongVarchar, TypeVarGraphic,
		TypeFloat, TypeDecimal,
		TypeBigInt, TypeInteger, TypeSmallInt,
		TypeBinary:
		return true
	default:
		return false
	}
}
