package garagepi

import (
	"errors"
	"testing"
)

// Coefficients from the datasheet worked example, with humidity trimming
// taken from a production part.
var (
	testCalib1 = []byte{
		0x70, 0x6b, 0x43, 0x67, 0x18, 0xfc, // T1..T3
		0x7d, 0x8e, 0x43, 0xd6, 0xd0, 0x0b, 0x27, 0x0b, 0x8c, 0x00, // P1..P5
		0xf9, 0xff, 0x8c, 0x3c, 0xf8, 0xc6, 0x70, 0x17, // P6..P9
	}
	testCalib2 = []byte{75}
	testCalib3 = []byte{0x6a, 0x01, 0x00, 0x13, 0x29, 0x03, 0x1e}

	testCal = Calibration{
		T1: 27504, T2: 26435, T3: -1000,
		P1: 36477, P2: -10685, P3: 3024, P4: 2855, P5: 140, P6: -7, P7: 15500, P8: -14600, P9: 6000,
		H1: 75, H2: 362, H3: 0, H4: 313, H5: 50, H6: 30,
	}
)

func TestParseCalibration(t *testing.T) {
	got, err := parseCalibration(testCalib1, testCalib2, testCalib3)
	if err != nil {
		t.Fatal(err)
	}
	if got != testCal {
		t.Fatalf("parseCalibration = %+v\nwant %+v", got, testCal)
	}
}

func TestParseCalibrationNegativeHumidity(t *testing.T) {
	cal3 := []byte{0x00, 0x80, 0xff, 0xf3, 0xa7, 0x80, 0xf6}
	got, err := parseCalibration(testCalib1, testCalib2, cal3)
	if err != nil {
		t.Fatal(err)
	}
	if got.H2 != -32768 || got.H3 != 255 || got.H4 != -201 || got.H5 != -2038 || got.H6 != -10 {
		t.Fatalf("H2..H6 = %d %d %d %d %d, want -32768 255 -201 -2038 -10", got.H2, got.H3, got.H4, got.H5, got.H6)
	}
}

func TestParseCalibrationShort(t *testing.T) {
	if _, err := parseCalibration(testCalib1[:20], testCalib2, testCalib3); !errors.Is(err, ErrShortData) {
		t.Fatalf("err = %v, want ErrShortData", err)
	}
}

// The packed H4/H5 fields must decode exactly like the vendor reference,
// which sign-extends through (int8 << 24) >> 20.
func TestSignExtendMatchesVendorFormula(t *testing.T) {
	for hi := 0; hi < 256; hi++ {
		for mid := 0; mid < 256; mid++ {
			b, n := byte(hi), byte(mid)
			want4 := int32(int8(b))<<24>>20 | int32(n&0x0F)
			want5 := int32(int8(b))<<24>>20 | int32(n>>4)
			if got := signExtend(uint32(b)<<4|uint32(n&0x0F), 12); got != want4 {
				t.Fatalf("H4(%#x, %#x) = %d, want %d", b, n, got, want4)
			}
			if got := signExtend(uint32(b)<<4|uint32(n>>4), 12); got != want5 {
				t.Fatalf("H5(%#x, %#x) = %d, want %d", b, n, got, want5)
			}
		}
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		v     uint32
		width uint
		want  int32
	}{
		{0x7FF, 12, 2047},
		{0x800, 12, -2048},
		{0xFFF, 12, -1},
		{0x1FFF, 12, -1},
		{0x7F, 8, 127},
		{0x80, 8, -128},
		{0x8000, 16, -32768},
	}
	for _, tt := range tests {
		if got := signExtend(tt.v, tt.width); got != tt.want {
			t.Errorf("signExtend(%#x, %d) = %d, want %d", tt.v, tt.width, got, tt.want)
		}
	}
}

func TestLoadCalibration(t *testing.T) {
	ft := newFakeTransport()
	c1, err := loadCalibration(ft)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := loadCalibration(ft)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 || c1 != testCal {
		t.Fatalf("loads differ: %+v / %+v", c1, c2)
	}
}

func TestLoadCalibrationError(t *testing.T) {
	for _, reg := range []byte{regCalib1, regCalib2, regCalib3} {
		ft := newFakeTransport()
		ft.fail[reg] = errNack
		c, err := loadCalibration(ft)
		if !errors.Is(err, errNack) {
			t.Fatalf("reg %#x: err = %v, want %v", reg, err, errNack)
		}
		if c != (Calibration{}) {
			t.Fatalf("reg %#x: partial calibration %+v", reg, c)
		}
	}
}
