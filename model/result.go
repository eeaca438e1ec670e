package model

// Result is either a successful description or a failure message.
// Fields are unexported so a Result cannot change once produced.
type Result struct {
	ok      bool
	text    string
	message string
}

func Success(text string) Result {
	return Result{ok: true, text: text}
}

func Failure(message string) Result {
	return Result{message: message}
}

func (r Result) OK() bool {
	return r.ok
}

// Text returns the description, empty for failures.
func (r Result) Text() string {
	return r.text
}

// Message returns the failure message, empty for successes.
func (r Result) Message() string {
	return r.message
}

// String renders the result the way the user sees it. Failures carry the
// "Error: " prefix.
func (r Result) String() string {
	if r.ok {
		return r.text
	}
	return "Error: " + r.message
}
