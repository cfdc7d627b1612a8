package vault

// Prompter obtains interactive input for vault operations. The terminal
// implementation lives in internal/prompt; tests supply scripted answers.
type Prompter interface {
	// Password reads a secret without echoing it.
	Password(prompt string) (string, error)
	// MultiSelect lets the user choose any subset of options.
	MultiSelect(prompt string, options []string) ([]string, error)
	// Notify shows an informational message.
	Notify(msg string)
}
