package retarget

import (
	"math"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
)

// Vec3 is a per-axis factor or offset. X applies to pitch, Y to yaw, Z to roll.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Euler is a rotation in degrees. Pitch turns about X, yaw about Y and roll
// about Z.
type Euler struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Sub returns e - o componentwise.
func (e Euler) Sub(o Euler) Euler {
	return Euler{Pitch: e.Pitch - o.Pitch, Yaw: e.Yaw - o.Yaw, Roll: e.Roll - o.Roll}
}

// Normalized returns e with every axis passed through NormalizeAngle.
func (e Euler) Normalized() Euler {
	return Euler{
		Pitch: NormalizeAngle(e.Pitch),
		Yaw:   NormalizeAngle(e.Yaw),
		Roll:  NormalizeAngle(e.Roll),
	}
}

// NormalizeAngle maps a in degrees to [-180, 180). 180 maps to -180.
// Non-finite input yields 0.
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a, 360)
	if a >= 180 {
		a -= 360
	} else if a < -180 {
		a += 360
	}
	return a
}

// HeadAngles extracts the pitch, yaw and roll channels named by cfg, converts
// them to degrees when the sender uses radians, and normalizes each axis.
func HeadAngles(f protocol.Frame, cfg Config) Euler {
	e := Euler{
		Pitch: f.Channel(cfg.PitchIndex),
		Yaw:   f.Channel(cfg.YawIndex),
		Roll:  f.Channel(cfg.RollIndex),
	}
	if cfg.AnglesInRadians {
		e = Euler{Pitch: degrees(e.Pitch), Yaw: degrees(e.Yaw), Roll: degrees(e.Roll)}
	}
	return e.Normalized()
}

// Pose turns a normalized head triple into the final Euler applied to the head
// bone: calibration is subtracted and the result renormalized, then the
// multiplier, sensitivity and manual offset are applied in that order.
func Pose(head Euler, calib Calibration, cfg Config) Euler {
	e := head.Sub(calib.Offset).Normalized()
	s := cfg.Sensitivity
	return Euler{
		Pitch: e.Pitch*cfg.RotationMultiplier.X*s + cfg.ManualOffset.X,
		Yaw:   e.Yaw*cfg.RotationMultiplier.Y*s + cfg.ManualOffset.Y,
		Roll:  e.Roll*cfg.RotationMultiplier.Z*s + cfg.ManualOffset.Z,
	}
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
