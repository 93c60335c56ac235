package domain

// Command is an instruction for the write side of a module. Commands express
// intent, not history: they carry no identifier and no timestamp.
type Command interface {
	CommandName() string
}
