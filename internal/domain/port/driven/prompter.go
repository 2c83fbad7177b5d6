package driven

import "context"

// Prompter is implemented by the interactive front end. The credential core
// never renders UI itself.
type Prompter interface {
	// PromptForNewCredential asks the user to enter a token. An error aborts
	// the acquisition.
	PromptForNewCredential(ctx context.Context) (string, error)

	// ConfirmMigration asks whether the plaintext tokens found at locations
	// may be moved into the vault.
	ConfirmMigration(ctx context.Context, locations []string) (bool, error)
}
