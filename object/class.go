package object

import (
	"github.com/cloudcmds/petrel/bytecode"
)

// DestructorFunc runs a class destructor for an instance whose reference
// count reached zero. A guest-level raise is reported by returning a *Raise;
// any other error is treated as a host exception.
type DestructorFunc func(*Instance) error

// Class describes a guest class: its property layout, parent link, and the
// constructor/destructor the unwinder consults during frame teardown.
type Class struct {
	name       string
	parent     *Class
	ctor       *bytecode.Function
	destructor DestructorFunc
	propNames  []string
}

// ClassParams contains parameters for creating a new Class.
type ClassParams struct {
	Name        string
	Parent      *Class
	Constructor *bytecode.Function
	Destructor  DestructorFunc
	PropNames   []string
}

// NewClass creates a new Class.
func NewClass(params ClassParams) *Class {
	propNames := make([]string, len(params.PropNames))
	copy(propNames, params.PropNames)
	return &Class{
		name:       params.Name,
		parent:     params.Parent,
		ctor:       params.Constructor,
		destructor: params.Destructor,
		propNames:  propNames,
	}
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.name
}

// Parent returns the parent class, or nil.
func (c *Class) Parent() *Class {
	return c.parent
}

// Ctor returns the class constructor function, or nil.
func (c *Class) Ctor() *bytecode.Function {
	return c.ctor
}

// HasDestructor reports whether the class (or an ancestor) defines a
// destructor.
func (c *Class) HasDestructor() bool {
	for k := c; k != nil; k = k.parent {
		if k.destructor != nil {
			return true
		}
	}
	return false
}

// Destructor returns the nearest destructor in the class hierarchy, or nil.
func (c *Class) Destructor() DestructorFunc {
	for k := c; k != nil; k = k.parent {
		if k.destructor != nil {
			return k.destructor
		}
	}
	return nil
}

// NumProps returns the number of declared property slots, including
// inherited ones.
func (c *Class) NumProps() int {
	n := len(c.propNames)
	if c.parent != nil {
		parentProps := c.parent.NumProps()
		if parentProps > n {
			n = parentProps
		}
	}
	return n
}

// LookupProp returns the slot index of the named declared property, walking
// the parent chain. Returns -1 if the property is not declared.
func (c *Class) LookupProp(name string) int {
	for i, p := range c.propNames {
		if p == name {
			return i
		}
	}
	if c.parent != nil {
		return c.parent.LookupProp(name)
	}
	return -1
}

// DerivesFrom reports whether the class is the given class or one of its
// descendants.
func (c *Class) DerivesFrom(other *Class) bool {
	for k := c; k != nil; k = k.parent {
		if k == other {
			return true
		}
	}
	return false
}
