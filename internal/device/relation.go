package device

import "github.com/openxrd/runtime/internal/shm"

// Space names a well-known reference space clients can query relations
// between.
type Space string

const (
	SpaceView  Space = "VIEW"
	SpaceLocal Space = "LOCAL"
	SpaceStage Space = "STAGE"
)

// PoseProvider is the abstract device capability poses come from; drivers
// live behind it. A nil PoseProvider makes every device-relative origin
// resolve to identity, which is sufficient for static/world spaces and for
// tests.
type PoseProvider interface {
	// PoseAt returns the named device's pose, relative to its own tracking
	// origin, at displayTimeNs.
	PoseAt(deviceName string, displayTimeNs uint64) (shm.Pose, bool)
}

// PredictRelation computes the predicted pose of `from` relative to `to` at
// displayTimeNs, servicing space queries out of the tracking-origin table
// rather than a round-trip to the device.
func (t *Table) PredictRelation(provider PoseProvider, from, to Space, displayTimeNs uint64) (shm.Pose, bool) {
	fromPose, ok := t.resolveSpace(provider, from, displayTimeNs)
	if !ok {
		return shm.Pose{}, false
	}
	toPose, ok := t.resolveSpace(provider, to, displayTimeNs)
	if !ok {
		return shm.Pose{}, false
	}
	return compose(invert(toPose), fromPose), true
}

// resolveSpace maps a well-known space name to a world-relative pose. VIEW
// resolves via the first HMD device found; LOCAL and STAGE resolve via the
// tracking origin whose class matches, falling back to identity if none is
// configured (a single-origin rig, the common case).
func (t *Table) resolveSpace(provider PoseProvider, s Space, displayTimeNs uint64) (shm.Pose, bool) {
	switch s {
	case SpaceView:
		for _, d := range t.Devices {
			if d.HMD.HasHMD {
				origin := identityIfMissing(t.Origins, d.TrackingOrigin)
				if provider == nil {
					return origin, true
				}
				devicePose, ok := provider.PoseAt(d.Name, displayTimeNs)
				if !ok {
					return shm.Pose{}, false
				}
				return compose(origin, devicePose), true
			}
		}
		return shm.Pose{}, false
	case SpaceLocal:
		return originByClass(t.Origins, shm.OriginDeviceRelative), true
	case SpaceStage:
		return originByClass(t.Origins, shm.OriginWorld), true
	default:
		return shm.Pose{}, false
	}
}

func identityIfMissing(origins []TrackingOrigin, idx int) shm.Pose {
	if idx < 0 || idx >= len(origins) {
		return identityPose
	}
	return origins[idx].Offset
}

func originByClass(origins []TrackingOrigin, class shm.OriginClass) shm.Pose {
	for _, o := range origins {
		if o.Class == class {
			return o.Offset
		}
	}
	return identityPose
}

var identityPose = shm.Pose{QW: 1}

// compose returns the pose of b expressed in a's parent frame: a followed
// by b, position-only composition with orientation multiplication.
func compose(a, b shm.Pose) shm.Pose {
	rotated := rotate(a, vec3{b.PX, b.PY, b.PZ})
	return shm.Pose{
		PX: a.PX + rotated.x,
		PY: a.PY + rotated.y,
		PZ: a.PZ + rotated.z,
		QX: a.QW*b.QX + a.QX*b.QW + a.QY*b.QZ - a.QZ*b.QY,
		QY: a.QW*b.QY - a.QX*b.QZ + a.QY*b.QW + a.QZ*b.QX,
		QZ: a.QW*b.QZ + a.QX*b.QY - a.QY*b.QX + a.QZ*b.QW,
		QW: a.QW*b.QW - a.QX*b.QX - a.QY*b.QY - a.QZ*b.QZ,
	}
}

// invert returns the inverse rigid-body transform of p.
func invert(p shm.Pose) shm.Pose {
	conjugate := shm.Pose{QX: -p.QX, QY: -p.QY, QZ: -p.QZ, QW: p.QW}
	neg := rotate(conjugate, vec3{-p.PX, -p.PY, -p.PZ})
	return shm.Pose{PX: neg.x, PY: neg.y, PZ: neg.z, QX: conjugate.QX, QY: conjugate.QY, QZ: conjugate.QZ, QW: conjugate.QW}
}

type vec3 struct{ x, y, z float32 }

func rotate(p shm.Pose, v vec3) vec3 {
	qx, qy, qz, qw := p.QX, p.QY, p.QZ, p.QW
	// t = 2 * cross(q.xyz, v)
	tx := 2 * (qy*v.z - qz*v.y)
	ty := 2 * (qz*v.x - qx*v.z)
	tz := 2 * (qx*v.y - qy*v.x)
	// v' = v + q.w * t + cross(q.xyz, t)
	return vec3{
		x: v.x + qw*tx + (qy*tz - qz*ty),
		y: v.y + qw*ty + (qz*tx - qx*tz),
		z: v.z + qw*tz + (qx*ty - qy*tx),
	}
}
