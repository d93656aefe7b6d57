package modbus

// TimeImplementation declares how a device kind's on-board clock is kept in
// sync, if at all (§3 "Supplemented from original_source").
type TimeImplementation struct {
	Supported bool
	Register  ValueRegister // meaningful only when Supported
}

// TimeUnsupported is the zero value: the device kind exposes no clock.
var TimeUnsupported = TimeImplementation{}

// TimeRegister declares that epochSeconds should be written through reg on
// each time-sync tick.
func TimeRegister(reg ValueRegister) TimeImplementation {
	return TimeImplementation{Supported: true, Register: reg}
}

// SyncRecord returns the ValueRegister carrying the given epoch seconds,
// ready to hand to Service.WriteToID/WriteToDestination.
func (t TimeImplementation) SyncRecord(epochSeconds uint32) ValueRegister {
	return ValueRegister{
		Address: t.Register.Address,
		Values:  []uint16{uint16(epochSeconds >> 16), uint16(epochSeconds)},
	}
}
