package object

import "fmt"

// Raise is the error form of a guest-level throw escaping a destructor. The
// unwinder swallows these at the frame boundary.
type Raise struct {
	Exception *Instance
}

func (r *Raise) Error() string {
	if r.Exception != nil {
		return fmt.Sprintf("guest exception raised: %s", r.Exception.Class().Name())
	}
	return "guest exception raised"
}

// Runtime carries the reference-count discipline. Destructors run inside
// DecRef when a count reaches zero; failures are routed to the
// OnDestructorFailure callback rather than propagating, so release paths
// behave as if wrapped by a catch-all.
type Runtime struct {
	// OnDestructorFailure receives errors returned by destructors. A *Raise
	// is a guest-level throw; anything else is host-level. May be nil.
	OnDestructorFailure func(*Instance, error)
}

// IncRef adds a reference to the instance.
func (rt *Runtime) IncRef(o *Instance) {
	if o != nil {
		o.refs++
	}
}

// DecRef drops a reference to the instance and releases it when the count
// reaches zero. Releasing runs the class destructor (unless suppressed) and
// then drops the references held by property slots.
func (rt *Runtime) DecRef(o *Instance) {
	if o == nil {
		return
	}
	o.refs--
	if o.refs > 0 {
		return
	}
	rt.release(o)
}

// DecRefValue releases the reference held by an object-kind cell and resets
// the cell to uninit. Primitive cells are reset without side effects.
func (rt *Runtime) DecRefValue(v *Value) {
	if v.Kind == KindObject {
		rt.DecRef(v.Obj)
	}
	*v = Uninit()
}

// SetValue stores src into dst, releasing whatever dst previously held. The
// caller's reference on src transfers into the cell.
func (rt *Runtime) SetValue(dst *Value, src Value) {
	if dst.Kind == KindObject {
		rt.DecRef(dst.Obj)
	}
	*dst = src
}

func (rt *Runtime) release(o *Instance) {
	if !o.noDestruct && !o.destructed {
		if dtor := o.cls.Destructor(); dtor != nil {
			o.destructed = true
			if err := dtor(o); err != nil && rt.OnDestructorFailure != nil {
				rt.OnDestructorFailure(o, err)
			}
		}
	}
	for i := range o.props {
		if o.props[i].Kind == KindObject {
			rt.DecRef(o.props[i].Obj)
		}
		o.props[i] = Uninit()
	}
}
