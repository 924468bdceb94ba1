package machine

// Message is a named command or response exchanged with the microcontroller.
//
// Args hold int64, bool or string values depending on the command format.
type Message struct {
	Name string
	Args []interface{}
}

// A Channel represents the request/acknowledge transport to the microcontroller.
type Channel interface {
	// Send writes a single command. It does not wait for a response.
	Send(Message) error

	// Receive polls for the next response without blocking. ok is false
	// if nothing is pending.
	Receive() (msg Message, ok bool, err error)
}

// ErrorResponse is the name of the out-of-band error notification
// sent by the microcontroller.
const ErrorResponse = "error"
