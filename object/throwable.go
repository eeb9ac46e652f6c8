package object

// PreviousSlot is the fixed property index of the `previous` slot on the
// throwable base types. The unwinder links chained exceptions through it and
// assumes the index is the same on both Error and Exception.
const PreviousSlot = 6

var throwableProps = []string{
	"message", "string", "code", "file", "line", "trace", "previous",
}

// ErrorClass and ExceptionClass are the two throwable base types. Guest
// throwables derive from one of them.
var (
	ErrorClass     = NewClass(ClassParams{Name: "Error", PropNames: throwableProps})
	ExceptionClass = NewClass(ClassParams{Name: "Exception", PropNames: throwableProps})
)

// NewThrowable creates an instance of the given throwable class with the
// given message. The class must derive from Error or Exception.
func NewThrowable(cls *Class, message string) *Instance {
	o := NewInstance(cls)
	*o.PropSlot(cls.LookupProp("message")) = StringValue(message)
	return o
}

// NewException creates an Exception instance with the given message.
func NewException(message string) *Instance {
	return NewThrowable(ExceptionClass, message)
}

// NewError creates an Error instance with the given message.
func NewError(message string) *Instance {
	return NewThrowable(ErrorClass, message)
}

// IsThrowable reports whether the instance derives from one of the
// throwable base types.
func IsThrowable(o *Instance) bool {
	if o == nil {
		return false
	}
	return o.InstanceOf(ErrorClass) || o.InstanceOf(ExceptionClass)
}

// Message returns the message property of a throwable, or an empty string.
func Message(o *Instance) string {
	if o == nil {
		return ""
	}
	slot := o.Class().LookupProp("message")
	if slot < 0 {
		return ""
	}
	v := o.PropSlot(slot)
	if v.Kind != KindString {
		return ""
	}
	return v.Str
}

// ThrowableHasExpectedProps verifies that both throwable base types declare
// `previous` at PreviousSlot. Checked in debug builds before chaining.
func ThrowableHasExpectedProps() bool {
	return ErrorClass.LookupProp("previous") == PreviousSlot &&
		ExceptionClass.LookupProp("previous") == PreviousSlot
}
