package codepage

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// DOSLatin1 is the IBM PC code page tried when a column's own page fails.
const DOSLatin1 = 437

// defaultPages maps IBM CCSIDs to their closest x/text encoding.
// Pages without a faithful x/text equivalent (most EBCDIC DBCS pages) are
// left out and go straight to the fallback chain.
func defaultPages() map[int]encoding.Encoding {
	return map[int]encoding.Encoding{
		// EBCDIC
		37:   charmap.CodePage037,
		39:   charmap.CodePage037,
		1047: charmap.CodePage1047,
		1140: charmap.CodePage1140,

		// IBM PC
		437: charmap.CodePage437,
		850: charmap.CodePage850,
		852: charmap.CodePage852,
		855: charmap.CodePage855,
		858: charmap.CodePage858,
		860: charmap.CodePage860,
		862: charmap.CodePage862,
		863: charmap.CodePage863,
		865: charmap.CodePage865,
		866: charmap.CodePage866,
		867: charmap.CodePage862,

		// ISO 8859
		813: charmap.ISO8859_7,
		819: charmap.ISO8859_1,
		859: charmap.ISO8859_15,
		912: charmap.ISO8859_2,
		915: charmap.ISO8859_5,
		916: charmap.ISO8859_8,
		920: charmap.ISO8859_9,
		923: charmap.ISO8859_15,
		924: charmap.ISO8859_15,
		1089: charmap.ISO8859_6,

		// KOI8 and Mac
		878:  charmap.KOI8R,
		1168: charmap.KOI8U,
		1275: charmap.Macintosh,
		1283: charmap.MacintoshCyrillic,

		// Windows
		874:  charmap.Windows874,
		1250: charmap.Windows1250,
		1251: charmap.Windows1251,
		1252: charmap.Windows1252,
		1253: charmap.Windows1253,
		1254: charmap.Windows1254,
		1255: charmap.Windows1255,
		1256: charmap.Windows1256,
		1257: charmap.Windows1257,
		1258: charmap.Windows1258,

		// Japanese
		932:   japanese.ShiftJIS,
		942:   japanese.ShiftJIS,
		943:   japanese.ShiftJIS,
		954:   japanese.EUCJP,
		5050:  japanese.EUCJP,
		33722: japanese.EUCJP,
		1351:  japanese.ISO2022JP,

		// Korean
		949:  korean.EUCKR,
		951:  korean.EUCKR,
		970:  korean.EUCKR,
		971:  korean.EUCKR,
		1088: korean.EUCKR,
		1363: korean.EUCKR,

		// Chinese
		1115: simplifiedchinese.GBK,
		1380: simplifiedchinese.GBK,
		1381: simplifiedchinese.GBK,
		1383: simplifiedchinese.GBK,
		1385: simplifiedchinese.GBK,
		1386: simplifiedchinese.GBK,
		1392: simplifiedchinese.GB18030,
		5488: simplifiedchinese.GB18030,
		947:  traditionalchinese.Big5,
		950:  traditionalchinese.Big5,
		1114: traditionalchinese.Big5,
		1375: traditionalchinese.Big5,

		// Unicode
		1200: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
		1201: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
		1202: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
		1203: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
		1204: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
		1205: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
		1208: unicode.UTF8,
		1209: unicode.UTF8,
		1232: utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM),
		1233: utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM),
		1234: utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM),
		1235: utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM),
		1236: utf32.UTF32(utf32.LittleEndian, utf32.UseBOM),
		1237: utf32.UTF32(utf32.LittleEndian, utf32.UseBOM),
	}
}
