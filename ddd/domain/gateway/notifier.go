package gateway

import (
	"context"

	"outreach-service/ddd/domain/entity"
)

// Notifier pushes a progress message to the user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// SpreadsheetParser reads outreach rows from an uploaded spreadsheet.
type SpreadsheetParser interface {
	ParseRows(ctx context.Context, path string) ([]entity.Row, error)
}
