package object

// GeneratorState describes the lifecycle of a generator.
type GeneratorState uint8

const (
	GeneratorCreated GeneratorState = iota
	GeneratorStarted
	GeneratorDone
	GeneratorFailed
	GeneratorAborted // abruptly interrupted by a host exception
)

var (
	// AsyncGeneratorClass backs async generator objects.
	AsyncGeneratorClass = NewClass(ClassParams{Name: "AsyncGenerator"})

	// GeneratorClass backs plain (non-async) generator objects.
	GeneratorClass = NewClass(ClassParams{Name: "Generator"})
)

// AsyncGenerator represents a suspended async generator. When resumed
// eagerly, failures produce a failed wait-handle as an eager result for the
// consumer; otherwise the exception is held on the generator and returned by
// Exception.
type AsyncGenerator struct {
	obj       *Instance
	state     GeneratorState
	eager     bool
	running   bool
	exception *Instance
}

// NewAsyncGenerator creates an async generator object. The eager flag marks
// a generator currently driven without an intervening scheduler.
func NewAsyncGenerator(eager bool) *AsyncGenerator {
	g := &AsyncGenerator{state: GeneratorStarted, eager: eager}
	g.obj = newNativeInstance(AsyncGeneratorClass, g)
	return g
}

// Object returns the heap object representing this generator.
func (g *AsyncGenerator) Object() *Instance {
	return g.obj
}

// State returns the generator state.
func (g *AsyncGenerator) State() GeneratorState {
	return g.state
}

// IsEagerlyExecuted reports whether the generator is being driven eagerly.
func (g *AsyncGenerator) IsEagerlyExecuted() bool {
	return g.eager
}

// SetRunning transitions the generator in or out of execution.
func (g *AsyncGenerator) SetRunning(running bool) {
	g.running = running
}

// IsRunning reports whether the generator's frame is currently executing.
func (g *AsyncGenerator) IsRunning() bool {
	return g.running
}

// Fail transitions the generator to the failed state with the given guest
// exception, taking ownership of the caller's reference. In eager mode the
// failure is wrapped in a failed static wait-handle and returned so the
// caller can push it as the eager result; otherwise nil is returned and the
// exception is held for the pending consumer.
func (g *AsyncGenerator) Fail(exception *Instance) *Instance {
	g.state = GeneratorFailed
	if g.eager {
		return NewFailedStaticWaitHandle(exception).Object()
	}
	g.exception = exception
	return nil
}

// FailHost marks the generator abruptly interrupted by a host exception.
func (g *AsyncGenerator) FailHost() {
	g.state = GeneratorAborted
}

// Exception returns the pending failure exception, or nil.
func (g *AsyncGenerator) Exception() *Instance {
	return g.exception
}

// Generator represents a suspended non-async generator.
type Generator struct {
	obj   *Instance
	state GeneratorState
}

// NewGenerator creates a plain generator object.
func NewGenerator() *Generator {
	g := &Generator{state: GeneratorStarted}
	g.obj = newNativeInstance(GeneratorClass, g)
	return g
}

// Object returns the heap object representing this generator.
func (g *Generator) Object() *Instance {
	return g.obj
}

// State returns the generator state.
func (g *Generator) State() GeneratorState {
	return g.state
}

// Fail marks the generator finished after an exception propagated out of
// its frame.
func (g *Generator) Fail() {
	g.state = GeneratorDone
}
