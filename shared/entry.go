package shared

// Structs

// Entry is the current value of one key together with
// the number of times it was set in this process.
type Entry struct {
	Key      string
	Value    string
	ChangeID uint64
}

// Functions

// set replaces the value and bumps the change id.
func (e *Entry) set(value string) {
	e.Value = value
	e.ChangeID++
}
