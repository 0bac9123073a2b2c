// Package simulator runs software vehicles that speak VDA5050 as agents.
package simulator

import (
	"math"
	"time"
)

// Battery models a traction battery with charge and drain limits. It is not
// safe for concurrent use; the owning Vehicle serializes access.
type Battery struct {
	CapacityWh float64 // total capacity
	Charge     float64 // state of charge [0,1]
	ChargeW    float64 // maximum charging power
	DrainW     float64 // power drawn while driving
}

// ApplyPower updates the charge for power applied during dt. Positive power
// discharges, negative power charges. It returns the power actually applied
// after enforcing rate and capacity limits.
func (b *Battery) ApplyPower(powerW float64, dt time.Duration) float64 {
	hours := dt.Hours()
	if hours <= 0 || b.CapacityWh <= 0 {
		return 0
	}

	actual := powerW
	if powerW > 0 {
		if b.DrainW > 0 && powerW > b.DrainW {
			actual = b.DrainW
		}
		maxEnergy := b.Charge * b.CapacityWh
		needed := actual * hours
		if needed > maxEnergy {
			needed = maxEnergy
			actual = needed / hours
		}
		b.Charge -= needed / b.CapacityWh
	} else if powerW < 0 {
		p := math.Abs(powerW)
		if b.ChargeW > 0 && p > b.ChargeW {
			p = b.ChargeW
		}
		avail := (1 - b.Charge) * b.CapacityWh
		needed := p * hours
		if needed > avail {
			needed = avail
			p = needed / hours
		}
		b.Charge += needed / b.CapacityWh
		actual = -p
	}

	b.Charge = math.Min(math.Max(b.Charge, 0), 1)
	return actual
}

// Percent returns the charge as reported in batteryState.batteryCharge.
func (b *Battery) Percent() float64 {
	return math.Round(b.Charge*1000) / 10
}

// Empty reports whether the battery cannot drive any more.
func (b *Battery) Empty() bool { return b.Charge <= 0 }

// BatteryProfile returns a preset battery for small, medium or large
// vehicles. Unknown names fall back to medium.
func BatteryProfile(name string) Battery {
	switch name {
	case "small":
		return Battery{CapacityWh: 2_000, Charge: 0.8, ChargeW: 1_000, DrainW: 400}
	case "large":
		return Battery{CapacityWh: 20_000, Charge: 0.8, ChargeW: 6_000, DrainW: 2_500}
	default:
		return Battery{CapacityWh: 8_000, Charge: 0.8, ChargeW: 3_000, DrainW: 1_200}
	}
}
