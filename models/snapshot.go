package models

import "time"

// Snapshot is one point-in-time reading of every tracked power flow.
//
// Every reading is independently optional. A nil pointer means the value
// could not be found or parsed on the page; it is serialised as JSON null
// and is never substituted with zero, since zero is a valid reading.
type Snapshot struct {
	Timestamp   time.Time      `json:"timestamp"`
	Solar       Reading        `json:"solar"`
	Grid        Reading        `json:"grid"`
	Battery     BatteryReading `json:"battery"`
	Car         Reading        `json:"car"`
	Consumption Reading        `json:"consumption"`

	// BalancingPrice is the mFRR balancing market price shown next to the flows.
	BalancingPrice *float64 `json:"mfrr"`
}

// Reading is the load and status label of a single device card.
type Reading struct {
	// Load is the signed power flow in watts.
	Load   *int    `json:"load"`
	Status *string `json:"status"`
}

// BatteryReading extends Reading with the battery state of charge.
type BatteryReading struct {
	Load *int `json:"load"`

	// StateOfCharge is an integer percentage in [0, 100].
	StateOfCharge *int    `json:"stateOfCharge"`
	Status        *string `json:"status"`
}

// Device identifies one of the device cards rendered on the flow view.
type Device string

const (
	DeviceSolar       Device = "Solar"
	DeviceGrid        Device = "Grid"
	DeviceBattery     Device = "Battery"
	DeviceCar         Device = "Car"
	DeviceConsumption Device = "Consumption"
)

// Devices lists the device cards in the order they are looked up.
var Devices = []Device{DeviceSolar, DeviceGrid, DeviceBattery, DeviceCar, DeviceConsumption}

// SetReading stores r into the field for device d. Battery readings keep
// their state of charge untouched.
func (s *Snapshot) SetReading(d Device, r Reading) {
	switch d {
	case DeviceSolar:
		s.Solar = r
	case DeviceGrid:
		s.Grid = r
	case DeviceBattery:
		s.Battery.Load = r.Load
		s.Battery.Status = r.Status
	case DeviceCar:
		s.Car = r
	case DeviceConsumption:
		s.Consumption = r
	}
}

// Age reports how old the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Int returns a pointer to v, for populating optional readings.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
