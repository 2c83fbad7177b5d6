package driven

import (
	"context"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// UserDirectory defines the driven port for identity and folder membership
// calls. All errors are classified *model.Error values.
type UserDirectory interface {
	// LookupUsers resolves a batch of identifiers. Identifiers the service
	// does not know are absent from the returned map.
	LookupUsers(ctx context.Context, ids []string) (map[string]model.UserInfo, error)

	// LookupUser resolves one email address. Returns an error of kind
	// model.KindNotFound when the address is unknown.
	LookupUser(ctx context.Context, email string) (model.UserInfo, error)

	// GetFolder returns the folder and its current member IDs.
	GetFolder(ctx context.Context, folderID string) (model.Folder, error)

	// AddFolderMembers adds memberIDs to the folder in a single call.
	AddFolderMembers(ctx context.Context, folderID string, memberIDs []string) error
}
