package directnet

import "sync/atomic"

type opState uint32

const (
	closedState opState = iota
	closingState
	openingState
	openedState
)

func (s opState) String() string {
	switch s {
	case closedState:
		return "Closed"
	case closingState:
		return "Closing"
	case openingState:
		return "Opening"
	case openedState:
		return "Opened"
	default:
		return "Unknown"
	}
}

// atomicOpState tracks the open/close lifecycle of a Client.
type atomicOpState struct {
	state atomic.Uint32
}

func (st *atomicOpState) get() opState {
	return opState(st.state.Load())
}

func (st *atomicOpState) isOpened() bool {
	return st.get() == openedState
}

func (st *atomicOpState) toOpening() bool {
	return st.state.CompareAndSwap(uint32(closedState), uint32(openingState))
}

func (st *atomicOpState) toOpened() bool {
	if st.isOpened() {
		return true
	}

	return st.state.CompareAndSwap(uint32(openingState), uint32(openedState))
}

func (st *atomicOpState) toClosing() bool {
	if st.state.CompareAndSwap(uint32(openedState), uint32(closingState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(openingState), uint32(closingState))
}

func (st *atomicOpState) toClosed() bool {
	if st.get() == closedState {
		return true
	}

	return st.state.CompareAndSwap(uint32(closingState), uint32(closedState))
}

// request states; a request leaves pending exactly once, either to running
// (picked up by the worker) or to done (expired or drained).
const (
	reqPending int32 = iota
	reqRunning
	reqDone
)
