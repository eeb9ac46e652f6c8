package vm

import (
	"github.com/gofrs/uuid"

	"github.com/cloudcmds/petrel/object"
)

const (
	invalidOffset  = -1
	invalidNesting = -1
)

// fault is one in-flight exception record. The raise fields are bound
// atomically by the driver the first time it inspects the fault; until then
// all three hold their invalid sentinels.
type fault struct {
	id             uuid.UUID
	guestException *object.Instance
	raiseNesting   int
	raiseFrame     *frame
	raiseOffset    int
	handledCount   int
}

func newFault(exc *object.Instance) fault {
	return fault{
		id:             uuid.Must(uuid.NewV4()),
		guestException: exc,
		raiseNesting:   invalidNesting,
		raiseOffset:    invalidOffset,
	}
}

// faultStack is the per-machine ordered sequence of in-flight faults. The
// unwind drivers operate on a local copy of the top record and write it back
// with replaceTop before yielding to guest code, because reentrant raises
// may push new records underneath them.
type faultStack struct {
	faults []fault
}

func (s *faultStack) push(f fault) {
	s.faults = append(s.faults, f)
}

func (s *faultStack) pop() fault {
	f := s.faults[len(s.faults)-1]
	s.faults = s.faults[:len(s.faults)-1]
	return f
}

func (s *faultStack) peek() fault {
	return s.faults[len(s.faults)-1]
}

func (s *faultStack) replaceTop(f fault) {
	s.faults[len(s.faults)-1] = f
}

func (s *faultStack) isEmpty() bool {
	return len(s.faults) == 0
}

func (s *faultStack) len() int {
	return len(s.faults)
}
