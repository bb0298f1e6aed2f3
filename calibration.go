package garagepi

import (
	"encoding/binary"
	"fmt"
)

const (
	regCalib1 = 0x88 // T1..T3, P1..P9
	regCalib2 = 0xA1 // H1
	regCalib3 = 0xE1 // H2..H6

	calib1Len = 24
	calib2Len = 1
	calib3Len = 7
)

// Calibration holds the factory trimming coefficients stored in the device
// NVM. It is read once per Dev and never modified afterwards.
type Calibration struct {
	T1     uint16
	T2, T3 int16

	P1                             uint16
	P2, P3, P4, P5, P6, P7, P8, P9 int16

	H1     uint8
	H2     int16
	H3     uint8
	H4, H5 int16 // 12-bit signed
	H6     int8
}

func loadCalibration(t Transport) (Calibration, error) {
	cal1, err := t.ReadBlock(regCalib1, calib1Len)
	if err != nil {
		return Calibration{}, fmt.Errorf("bme280: reading calibration: %w", err)
	}
	cal2, err := t.ReadBlock(regCalib2, calib2Len)
	if err != nil {
		return Calibration{}, fmt.Errorf("bme280: reading calibration: %w", err)
	}
	cal3, err := t.ReadBlock(regCalib3, calib3Len)
	if err != nil {
		return Calibration{}, fmt.Errorf("bme280: reading calibration: %w", err)
	}
	return parseCalibration(cal1, cal2, cal3)
}

func parseCalibration(cal1, cal2, cal3 []byte) (Calibration, error) {
	if len(cal1) != calib1Len || len(cal2) != calib2Len || len(cal3) != calib3Len {
		return Calibration{}, fmt.Errorf("%w: calibration blocks %d/%d/%d bytes", ErrShortData, len(cal1), len(cal2), len(cal3))
	}

	var c Calibration
	c.T1 = binary.LittleEndian.Uint16(cal1[0:2])
	c.T2 = int16(binary.LittleEndian.Uint16(cal1[2:4]))
	c.T3 = int16(binary.LittleEndian.Uint16(cal1[4:6]))

	c.P1 = binary.LittleEndian.Uint16(cal1[6:8])
	c.P2 = int16(binary.LittleEndian.Uint16(cal1[8:10]))
	c.P3 = int16(binary.LittleEndian.Uint16(cal1[10:12]))
	c.P4 = int16(binary.LittleEndian.Uint16(cal1[12:14]))
	c.P5 = int16(binary.LittleEndian.Uint16(cal1[14:16]))
	c.P6 = int16(binary.LittleEndian.Uint16(cal1[16:18]))
	c.P7 = int16(binary.LittleEndian.Uint16(cal1[18:20]))
	c.P8 = int16(binary.LittleEndian.Uint16(cal1[20:22]))
	c.P9 = int16(binary.LittleEndian.Uint16(cal1[22:24]))

	c.H1 = cal2[0]
	c.H2 = int16(binary.LittleEndian.Uint16(cal3[0:2]))
	c.H3 = cal3[2]
	// H4 is E4[7:0]/E5[3:0], H5 is E6[7:0]/E5[7:4]; both 12-bit two's complement.
	c.H4 = int16(signExtend(uint32(cal3[3])<<4|uint32(cal3[4]&0x0F), 12))
	c.H5 = int16(signExtend(uint32(cal3[5])<<4|uint32(cal3[4]>>4), 12))
	c.H6 = int8(cal3[6])

	return c, nil
}

// signExtend interprets the low width bits of v as a two's complement value.
func signExtend(v uint32, width uint) int32 {
	shift := 32 - width
	return int32(v<<shift) >> shift
}
